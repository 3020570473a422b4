package provision

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"crudbooks/model"
)

// MockServer simulates a document database server for testing
type MockServer struct {
	mu        sync.Mutex
	databases map[string]*MockDatabase
	bindErr   error
}

// NewMockServer creates a new, empty mock server
func NewMockServer() *MockServer {
	return &MockServer{databases: make(map[string]*MockDatabase)}
}

// FailBinding makes every following Database call return err.
func (s *MockServer) FailBinding(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindErr = err
}

func (s *MockServer) Database(name string) (Target, error) {
	return s.DB(name)
}

// DB returns the mock database called name, creating it on first use.
func (s *MockServer) DB(name string) (*MockDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bindErr != nil {
		return nil, s.bindErr
	}
	if name == "" {
		return nil, errors.New("database name is empty")
	}
	db, ok := s.databases[name]
	if !ok {
		db = newMockDatabase(name)
		s.databases[name] = db
	}
	return db, nil
}

// MockDatabase keeps collections, indexes and users in memory and mirrors
// the server's create-if-absent rules.
type MockDatabase struct {
	mu          sync.Mutex
	name        string
	collections map[string]bool
	indexes     map[string]map[string]model.IndexDecl // collection -> index name -> decl
	users       map[string]model.Principal
	failures    map[string]error // "kind:target" -> error

	// Capture calls for verification
	calls []string
}

func newMockDatabase(name string) *MockDatabase {
	return &MockDatabase{
		name:        name,
		collections: make(map[string]bool),
		indexes:     make(map[string]map[string]model.IndexDecl),
		users:       make(map[string]model.Principal),
		failures:    make(map[string]error),
	}
}

func (m *MockDatabase) Name() string {
	return m.name
}

// InjectError makes every request for the given step return err. target uses
// the same form as the provisioner's step targets, e.g. "users.email_1".
func (m *MockDatabase) InjectError(kind model.StepKind, target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[string(kind)+":"+target] = err
}

// ClearErrors removes every injected error.
func (m *MockDatabase) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// Calls returns the requests received, in order.
func (m *MockDatabase) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// PutIndex stores idx under name without any checks, to simulate an index
// created by hand.
func (m *MockDatabase) PutIndex(name string, idx model.IndexDecl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[idx.Collection] = true
	if m.indexes[idx.Collection] == nil {
		m.indexes[idx.Collection] = make(map[string]model.IndexDecl)
	}
	m.indexes[idx.Collection][name] = idx
}

func (m *MockDatabase) CreateCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "collection:"+name)
	if err := m.failures["collection:"+name]; err != nil {
		return err
	}
	if m.collections[name] {
		return fmt.Errorf("collection %s: %w", name, ErrAlreadyExists)
	}
	m.collections[name] = true
	return nil
}

func (m *MockDatabase) CreateIndex(_ context.Context, idx model.IndexDecl) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := idx.Name()
	target := idx.Collection + "." + name
	m.calls = append(m.calls, "index:"+target)
	if err := m.failures["index:"+target]; err != nil {
		return "", err
	}

	// Indexes implicitly create their collection.
	m.collections[idx.Collection] = true
	existing := m.indexes[idx.Collection]
	if existing == nil {
		existing = make(map[string]model.IndexDecl)
		m.indexes[idx.Collection] = existing
	}

	if cur, ok := existing[name]; ok {
		if cur == idx {
			return name, fmt.Errorf("index %s: %w", target, ErrAlreadyExists)
		}
		return "", fmt.Errorf("index %s exists as %s: %w", target, cur, ErrConflictingDefinition)
	}
	for curName, cur := range existing {
		if idx.Kind == model.TextIndex && cur.Kind == model.TextIndex {
			return "", fmt.Errorf("text index %s already exists on %s: %w", curName, idx.Collection, ErrConflictingDefinition)
		}
		if cur.Field == idx.Field && cur.Kind == idx.Kind {
			return "", fmt.Errorf("index %s has the same key as %s: %w", target, curName, ErrConflictingDefinition)
		}
	}

	existing[name] = idx
	return name, nil
}

func (m *MockDatabase) CreatePrincipal(_ context.Context, p model.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := p.User + "@" + m.name
	m.calls = append(m.calls, "principal:"+target)
	if err := m.failures["principal:"+target]; err != nil {
		return err
	}
	if _, ok := m.users[p.User]; ok {
		return fmt.Errorf("user %s: %w", target, ErrAlreadyExists)
	}
	p.Roles = slices.Clone(p.Roles)
	m.users[p.User] = p
	return nil
}

// Principal returns the stored user.
func (m *MockDatabase) Principal(user string) (model.Principal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[user]
	return p, ok
}

func (m *MockDatabase) CollectionNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.collections))
	for n := range m.collections {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (m *MockDatabase) Indexes(_ context.Context, collection string) ([]IndexInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := []IndexInfo{{Name: "_id_", Fields: []string{"_id"}}}
	for name, idx := range m.indexes[collection] {
		infos = append(infos, IndexInfo{
			Name:   name,
			Fields: []string{idx.Field},
			Text:   idx.Kind == model.TextIndex,
			Unique: idx.Unique,
		})
	}
	slices.SortFunc(infos, func(a, b IndexInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return infos, nil
}

func (m *MockDatabase) PrincipalRoles(_ context.Context, user string) ([]model.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.users[user]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(p.Roles), true, nil
}
