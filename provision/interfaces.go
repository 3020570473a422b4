package provision

import (
	"context"

	"crudbooks/model"

	"go.uber.org/zap"
)

// Server binds database names to Targets.
type Server interface {
	Database(name string) (Target, error)
}

// Target applies create-if-absent requests to a single database. An object
// that is already present with the same definition is reported with an error
// wrapping ErrAlreadyExists.
type Target interface {
	Name() string
	CreateCollection(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, idx model.IndexDecl) (string, error)
	CreatePrincipal(ctx context.Context, p model.Principal) error
}

// IndexInfo is an index as reported by the server.
type IndexInfo struct {
	Name   string
	Fields []string
	Text   bool
	Unique bool
}

// Inspector reads back the state of a provisioned database.
type Inspector interface {
	CollectionNames(ctx context.Context) ([]string, error)
	Indexes(ctx context.Context, collection string) ([]IndexInfo, error)
	// PrincipalRoles returns the roles granted to user, and false when the
	// user does not exist.
	PrincipalRoles(ctx context.Context, user string) ([]model.Role, bool, error)
}

// Journal records provisioning runs and their steps.
type Journal interface {
	StartRun(run *model.ProvisionRun) error
	FinishRun(run *model.ProvisionRun) error
	LogAuditEvent(logger *zap.SugaredLogger, event model.AuditLog)
}

type nopJournal struct{}

func (nopJournal) StartRun(*model.ProvisionRun) error               { return nil }
func (nopJournal) FinishRun(*model.ProvisionRun) error              { return nil }
func (nopJournal) LogAuditEvent(*zap.SugaredLogger, model.AuditLog) {}
