package provision

import (
	"errors"
	"fmt"

	"crudbooks/model"
)

const (
	DatabaseName = "crudbooks"

	BooksCollection = "books"
	FilesCollection = "files"
	UsersCollection = "users"

	AdminUser     = "admin"
	AdminPassword = "0000" //nolint:gosec
	ReadWriteRole = "readWrite"
)

// DefaultPlan returns the crudbooks declarations including indexes.
func DefaultPlan() model.Plan {
	return model.Plan{
		Database: DatabaseName,
		Collections: []model.CollectionDecl{
			{Name: BooksCollection},
			{Name: FilesCollection},
			{Name: UsersCollection},
		},
		Indexes: []model.IndexDecl{
			{Collection: BooksCollection, Field: "title", Kind: model.TextIndex},
			{Collection: BooksCollection, Field: "fileToken", Kind: model.AscendingIndex, Unique: true},
			{Collection: FilesCollection, Field: "token", Kind: model.AscendingIndex, Unique: true},
			{Collection: UsersCollection, Field: "email", Kind: model.AscendingIndex, Unique: true},
		},
		Principal: model.Principal{
			User:     AdminUser,
			Password: AdminPassword,
			Roles:    []model.Role{{Role: ReadWriteRole, DB: DatabaseName}},
		},
	}
}

// WithoutIndexes returns a copy of p with no index declarations.
func WithoutIndexes(p model.Plan) model.Plan {
	out := clonePlan(p)
	out.Indexes = nil
	return out
}

// ForDatabase returns a copy of p bound to name. Roles scoped to the old
// database move with it.
func ForDatabase(p model.Plan, name string) model.Plan {
	out := clonePlan(p)
	for i, r := range out.Principal.Roles {
		if r.DB == p.Database {
			out.Principal.Roles[i].DB = name
		}
	}
	out.Database = name
	return out
}

func clonePlan(p model.Plan) model.Plan {
	out := p
	out.Collections = append([]model.CollectionDecl(nil), p.Collections...)
	out.Indexes = append([]model.IndexDecl(nil), p.Indexes...)
	out.Principal.Roles = append([]model.Role(nil), p.Principal.Roles...)
	return out
}

// ValidatePlan reports every problem in p that would make it unsafe to apply.
func ValidatePlan(p model.Plan) error {
	var errs []error
	if p.Database == "" {
		errs = append(errs, errors.New("database name is empty"))
	}

	collections := make(map[string]bool, len(p.Collections))
	for _, c := range p.Collections {
		if c.Name == "" {
			errs = append(errs, errors.New("collection name is empty"))
			continue
		}
		if collections[c.Name] {
			errs = append(errs, fmt.Errorf("collection %q declared twice", c.Name))
		}
		collections[c.Name] = true
	}

	indexes := make(map[string]bool, len(p.Indexes))
	textIndexes := make(map[string]string)
	for _, idx := range p.Indexes {
		if !collections[idx.Collection] {
			errs = append(errs, fmt.Errorf("index %s targets undeclared collection %q", idx, idx.Collection))
		}
		if idx.Field == "" {
			errs = append(errs, fmt.Errorf("index on %q has no field", idx.Collection))
		}
		if !idx.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("index %s has unknown kind %q", idx, idx.Kind))
		}
		if idx.Kind == model.TextIndex {
			if prev, ok := textIndexes[idx.Collection]; ok {
				errs = append(errs, fmt.Errorf("collection %q has more than one text index (%s, %s)", idx.Collection, prev, idx.Field))
			}
			textIndexes[idx.Collection] = idx.Field
		}
		key := idx.Collection + "." + idx.Name()
		if indexes[key] {
			errs = append(errs, fmt.Errorf("index %s declared twice", key))
		}
		indexes[key] = true
	}

	pr := p.Principal
	if pr.User == "" {
		errs = append(errs, errors.New("principal has no user name"))
	}
	if pr.Password == "" {
		errs = append(errs, fmt.Errorf("principal %q has no password", pr.User))
	}
	if len(pr.Roles) == 0 {
		errs = append(errs, fmt.Errorf("principal %q has no roles", pr.User))
	}
	for _, r := range pr.Roles {
		if r.Role == "" || r.DB == "" {
			errs = append(errs, fmt.Errorf("principal %q has an incomplete role %q", pr.User, r))
		}
	}

	return errors.Join(errs...)
}
