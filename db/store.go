package db

import (
	"context"
	"errors"

	"crudbooks/model"

	"go.uber.org/zap"
)

var ErrRunNotFound = errors.New("provision run not found")

// Store is the run journal. It satisfies provision.Journal and adds the
// read side used by the history command.
type Store interface {
	StartRun(run *model.ProvisionRun) error
	FinishRun(run *model.ProvisionRun) error
	LogAuditEvent(logger *zap.SugaredLogger, event model.AuditLog)
	ListRuns(limit int) ([]model.ProvisionRun, error)
	GetRun(id uint) (*model.ProvisionRun, error)
	ListAuditLogs(runID uint) ([]model.AuditLog, error)
	Ping(ctx context.Context) error
	Close() error
}
