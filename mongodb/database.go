package mongodb

import (
	"context"
	"fmt"
	"time"

	"crudbooks/model"
	"crudbooks/provision"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Database applies declarations to one MongoDB database. It implements
// provision.Target and provision.Inspector.
type Database struct {
	db        *mongo.Database
	opTimeout time.Duration
}

func (d *Database) Name() string {
	return d.db.Name()
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.opTimeout)
}

func (d *Database) CreateCollection(ctx context.Context, name string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	// Newer servers accept createCollection for an existing collection with
	// the same options, so look first to report it as existing.
	names, err := d.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, classify(err))
	}
	if len(names) > 0 {
		return fmt.Errorf("collection %s: %w", name, provision.ErrAlreadyExists)
	}
	if err := d.db.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("create collection %s: %w", name, classify(err))
	}
	return nil
}

// indexKeys returns the key document for idx.
func indexKeys(idx model.IndexDecl) bson.D {
	if idx.Kind == model.TextIndex {
		return bson.D{{Key: idx.Field, Value: "text"}}
	}
	return bson.D{{Key: idx.Field, Value: 1}}
}

// createIndexesCommand builds a createIndexes command for a single index.
// The name is spelled out so the server can tell an identical request from
// a conflicting one.
func createIndexesCommand(idx model.IndexDecl) bson.D {
	spec := bson.D{
		{Key: "key", Value: indexKeys(idx)},
		{Key: "name", Value: idx.Name()},
	}
	if idx.Unique {
		spec = append(spec, bson.E{Key: "unique", Value: true})
	}
	return bson.D{
		{Key: "createIndexes", Value: idx.Collection},
		{Key: "indexes", Value: bson.A{spec}},
	}
}

const noteAllIndexesExist = "all indexes already exist"

type createIndexesReply struct {
	NumIndexesBefore int    `bson:"numIndexesBefore"`
	NumIndexesAfter  int    `bson:"numIndexesAfter"`
	Note             string `bson:"note"`

	// Raw holds one reply per shard when the command is routed by mongos.
	Raw map[string]createIndexesReply `bson:"raw"`
}

// unchanged reports whether the server already had every requested index.
func (r createIndexesReply) unchanged() bool {
	if r.Note == noteAllIndexesExist {
		return true
	}
	if len(r.Raw) > 0 {
		for _, shard := range r.Raw {
			if !shard.unchanged() {
				return false
			}
		}
		return true
	}
	return r.NumIndexesAfter > 0 && r.NumIndexesBefore == r.NumIndexesAfter
}

// CreateIndex runs createIndexes for idx. The server accepts a request that
// matches an existing index and leaves the index count unchanged on every
// shard; that case is reported as ErrAlreadyExists.
func (d *Database) CreateIndex(ctx context.Context, idx model.IndexDecl) (string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	name := idx.Name()
	var reply createIndexesReply
	err := d.db.RunCommand(ctx, createIndexesCommand(idx)).Decode(&reply)
	if err != nil {
		return "", fmt.Errorf("create index %s.%s: %w", idx.Collection, name, classify(err))
	}
	if reply.unchanged() {
		return name, fmt.Errorf("index %s.%s: %w", idx.Collection, name, provision.ErrAlreadyExists)
	}
	return name, nil
}

// CreatePrincipal runs createUser on the bound database, which becomes the
// user's authentication database. An existing user is left untouched.
func (d *Database) CreatePrincipal(ctx context.Context, p model.Principal) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	roles := make(bson.A, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, bson.D{{Key: "role", Value: r.Role}, {Key: "db", Value: r.DB}})
	}
	cmd := bson.D{
		{Key: "createUser", Value: p.User},
		{Key: "pwd", Value: p.Password},
		{Key: "roles", Value: roles},
	}
	if err := d.db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("create user %s@%s: %w", p.User, d.db.Name(), classify(err))
	}
	return nil
}

func (d *Database) CollectionNames(ctx context.Context) ([]string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, classify(err)
	}
	return names, nil
}

type indexSpec struct {
	Name    string `bson:"name"`
	Key     bson.D `bson:"key"`
	Unique  bool   `bson:"unique"`
	Weights bson.D `bson:"weights"`
}

// info converts a listIndexes entry. Text indexes are keyed on _fts/_ftsx
// and carry their fields in the weights document.
func (s indexSpec) info() provision.IndexInfo {
	info := provision.IndexInfo{Name: s.Name, Unique: s.Unique}
	for _, e := range s.Key {
		if e.Key == "_fts" && e.Value == "text" {
			info.Text = true
			continue
		}
		if e.Key == "_ftsx" {
			continue
		}
		info.Fields = append(info.Fields, e.Key)
	}
	if info.Text {
		for _, w := range s.Weights {
			info.Fields = append(info.Fields, w.Key)
		}
	}
	return info
}

func (d *Database) Indexes(ctx context.Context, collection string) ([]provision.IndexInfo, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	cur, err := d.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var specs []indexSpec
	if err := cur.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("decoding indexes of %s failed: %w", collection, err)
	}

	infos := make([]provision.IndexInfo, 0, len(specs))
	for _, s := range specs {
		infos = append(infos, s.info())
	}
	return infos, nil
}

type usersInfoReply struct {
	Users []struct {
		User  string `bson:"user"`
		Roles []struct {
			Role string `bson:"role"`
			DB   string `bson:"db"`
		} `bson:"roles"`
	} `bson:"users"`
}

func (d *Database) PrincipalRoles(ctx context.Context, user string) ([]model.Role, bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var reply usersInfoReply
	if err := d.db.RunCommand(ctx, bson.D{{Key: "usersInfo", Value: user}}).Decode(&reply); err != nil {
		return nil, false, classify(err)
	}
	for _, u := range reply.Users {
		if u.User != user {
			continue
		}
		roles := make([]model.Role, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, model.Role{Role: r.Role, DB: r.DB})
		}
		return roles, true, nil
	}
	return nil, false, nil
}
