package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type IndexKind string

const (
	AscendingIndex IndexKind = "ascending"
	TextIndex      IndexKind = "text"
)

// IsValid returns true if IndexKind is known
func (k IndexKind) IsValid() bool {
	switch k {
	case AscendingIndex, TextIndex:
		return true
	}
	return false
}

// CollectionDecl declares a schemaless collection that must exist.
type CollectionDecl struct {
	Name string
}

// IndexDecl declares a single-field index on a collection.
type IndexDecl struct {
	Collection string
	Field      string
	Kind       IndexKind
	Unique     bool
}

// Name returns the index name the server derives from the key pattern when
// none is given, e.g. "email_1" or "title_text".
func (i IndexDecl) Name() string {
	if i.Kind == TextIndex {
		return i.Field + "_text"
	}
	return i.Field + "_1"
}

func (i IndexDecl) String() string {
	s := fmt.Sprintf("%s.%s (%s", i.Collection, i.Field, i.Kind)
	if i.Unique {
		s += ", unique"
	}
	return s + ")"
}

type Role struct {
	Role string
	DB   string
}

func (r Role) String() string {
	return r.Role + "@" + r.DB
}

// Principal is a database user created in the provisioned database.
type Principal struct {
	User     string
	Password string
	Roles    []Role
}

// Plan is the full list of declarations applied to one database.
type Plan struct {
	Database    string
	Collections []CollectionDecl
	Indexes     []IndexDecl
	Principal   Principal
}

// Variant names the plan shape recorded in the journal.
func (p Plan) Variant() string {
	if len(p.Indexes) == 0 {
		return "collections+principal"
	}
	return "collections+indexes+principal"
}

type Outcome string

const (
	Created  Outcome = "created"
	Existing Outcome = "existing"
	Failed   Outcome = "failed"
	Skipped  Outcome = "skipped"
)

// IsValid returns true if Outcome is known
func (o Outcome) IsValid() bool {
	switch o {
	case Created, Existing, Failed, Skipped:
		return true
	}
	return false
}

func (o *Outcome) Scan(value interface{ any }) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan %T into Outcome", value)
	}
	*o = Outcome(v)
	return nil
}

func (o Outcome) Value() (driver.Value, error) {
	if !o.IsValid() {
		return nil, fmt.Errorf("invalid Outcome %q", o)
	}
	return string(o), nil
}

type StepKind string

const (
	DatabaseStep   StepKind = "database"
	CollectionStep StepKind = "collection"
	IndexStep      StepKind = "index"
	PrincipalStep  StepKind = "principal"
)

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSucceeded RunStatus = "succeeded"
	RunAborted   RunStatus = "aborted"
)

// A ProvisionRun is one execution of the provisioner against a database.
type ProvisionRun struct {
	gorm.Model
	Database   string `gorm:"index"`
	Variant    string
	Status     RunStatus `gorm:"index"`
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type AuditLog struct {
	gorm.Model
	RunID   uint     `gorm:"index"`
	Kind    StepKind `gorm:"index"` // e.g. "collection", "index", "principal"
	Target  string   // e.g. "books", "users.email_1", "admin@crudbooks"
	Outcome Outcome
	Message string // human-readable message, optional
}
