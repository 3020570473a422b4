package mongodb

import (
	"errors"
	"fmt"

	"crudbooks/provision"

	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes, see src/mongo/base/error_codes.yml.
const (
	codeUnauthorized          = 13
	codeAuthenticationFailed  = 18
	codeNamespaceExists       = 48
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
	codeUserAlreadyExists     = 51003
)

// classify wraps err with the provision sentinel matching its server error
// code. Errors with no mapping are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorCode(codeNamespaceExists), se.HasErrorCode(codeUserAlreadyExists):
			return fmt.Errorf("%w: %w", provision.ErrAlreadyExists, err)
		case se.HasErrorCode(codeIndexOptionsConflict), se.HasErrorCode(codeIndexKeySpecsConflict):
			return fmt.Errorf("%w: %w", provision.ErrConflictingDefinition, err)
		case se.HasErrorCode(codeUnauthorized), se.HasErrorCode(codeAuthenticationFailed):
			return fmt.Errorf("%w: %w", provision.ErrConnectivity, err)
		}
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %w", provision.ErrConnectivity, err)
	}
	return err
}
