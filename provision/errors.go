package provision

import (
	"errors"
	"fmt"

	"crudbooks/model"
)

var (
	// ErrAlreadyExists is returned by a Target when the declared object is
	// already present with an equivalent definition. The provisioner treats
	// it as success.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflictingDefinition is returned when an index with the same name
	// or key exists with different options. It must be resolved by hand.
	ErrConflictingDefinition = errors.New("conflicting definition")

	// ErrConnectivity covers unreachable servers and rejected credentials.
	ErrConnectivity = errors.New("database unreachable or access denied")
)

// StepError identifies the step that aborted a run.
type StepError struct {
	Kind   model.StepKind
	Target string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision: %s %s: %v", e.Kind, e.Target, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
