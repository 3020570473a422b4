package mongodb_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"crudbooks/config"
	"crudbooks/model"
	"crudbooks/mongodb"
	"crudbooks/provision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// newE2EClient connects to the server named by MONGO_TEST_URI. The URI must
// carry credentials allowed to create users when the server enforces auth.
func newE2EClient(t *testing.T) (*mongodb.Client, *config.Config) {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set; skipping live MongoDB end-to-end tests")
	}

	cfg := &config.Config{
		URI:              uri,
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 30 * time.Second,
	}
	client, err := mongodb.Connect(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return client, cfg
}

// testPlan returns the default plan bound to a throwaway database, and drops
// that database and its user when the test ends.
func testPlan(t *testing.T, client *mongodb.Client, suffix string) model.Plan {
	t.Helper()

	name := fmt.Sprintf("crudbooks_e2e_%s_%d", suffix, time.Now().UnixNano())
	plan := provision.ForDatabase(provision.DefaultPlan(), name)

	t.Cleanup(func() {
		db, err := client.DB(name)
		if err != nil {
			return
		}
		ctx := context.Background()
		_ = db.Handle().RunCommand(ctx, bson.D{{Key: "dropUser", Value: plan.Principal.User}}).Err()
		_ = db.Handle().Drop(ctx)
	})
	return plan
}

func TestE2E_ApplyIsIdempotent(t *testing.T) {
	client, _ := newE2EClient(t)
	plan := testPlan(t, client, "idem")
	ctx := context.Background()
	p := provision.NewProvisioner(client, nil, nil)

	first, err := p.Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 8, first.Count(model.Created))

	second, err := p.Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Count(model.Created))
	assert.Equal(t, 9, second.Count(model.Existing))

	db, err := client.DB(plan.Database)
	require.NoError(t, err)
	rep, err := provision.Verify(ctx, db, plan)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "findings: %v", rep.Missing)
	assert.Empty(t, rep.Unexpected)

	names, err := db.CollectionNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"books", "files", "users"}, names)
}

func TestE2E_UniqueIndexesAreEnforced(t *testing.T) {
	client, _ := newE2EClient(t)
	plan := testPlan(t, client, "uniq")
	ctx := context.Background()

	_, err := provision.NewProvisioner(client, nil, nil).Apply(ctx, plan)
	require.NoError(t, err)

	db, err := client.DB(plan.Database)
	require.NoError(t, err)

	tests := []struct {
		collection string
		doc        bson.M
	}{
		{collection: "users", doc: bson.M{"email": "reader@example.com"}},
		{collection: "books", doc: bson.M{"fileToken": "f-123", "title": "Dune"}},
		{collection: "files", doc: bson.M{"token": "f-123"}},
	}
	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			coll := db.Handle().Collection(tt.collection)
			_, err := coll.InsertOne(ctx, tt.doc)
			require.NoError(t, err)

			_, err = coll.InsertOne(ctx, tt.doc)
			require.Error(t, err)
			assert.True(t, mongo.IsDuplicateKeyError(err), "expected duplicate key error, got %v", err)
		})
	}

	t.Run("title is searchable", func(t *testing.T) {
		n, err := db.Handle().Collection("books").CountDocuments(ctx, bson.M{"$text": bson.M{"$search": "dune"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestE2E_AdditiveAcrossVariants(t *testing.T) {
	client, _ := newE2EClient(t)
	plan := testPlan(t, client, "variants")
	ctx := context.Background()
	p := provision.NewProvisioner(client, nil, nil)

	_, err := p.Apply(ctx, provision.WithoutIndexes(plan))
	require.NoError(t, err)

	res, err := p.Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count(model.Created))

	db, err := client.DB(plan.Database)
	require.NoError(t, err)
	rep, err := provision.Verify(ctx, db, plan)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "findings: %v", rep.Missing)

	infos, err := db.Indexes(ctx, "books")
	require.NoError(t, err)
	assert.Len(t, infos, 3)
}

func TestE2E_ConflictingIndex(t *testing.T) {
	client, _ := newE2EClient(t)
	plan := testPlan(t, client, "conflict")
	ctx := context.Background()

	db, err := client.DB(plan.Database)
	require.NoError(t, err)
	_, err = db.Handle().Collection("books").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "fileToken", Value: 1}},
	})
	require.NoError(t, err)

	_, err = provision.NewProvisioner(client, nil, nil).Apply(ctx, plan)
	require.ErrorIs(t, err, provision.ErrConflictingDefinition)

	var stepErr *provision.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "books.fileToken_1", stepErr.Target)
}

func TestE2E_PrincipalCanReadAndWrite(t *testing.T) {
	client, cfg := newE2EClient(t)
	plan := testPlan(t, client, "principal")
	ctx := context.Background()

	_, err := provision.NewProvisioner(client, nil, nil).Apply(ctx, plan)
	require.NoError(t, err)

	admin, err := mongodb.Connect(ctx, &config.Config{
		URI:              cfg.URI,
		User:             plan.Principal.User,
		Password:         plan.Principal.Password,
		AuthSource:       plan.Database,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = admin.Disconnect(ctx) }()

	db, err := admin.DB(plan.Database)
	require.NoError(t, err)
	_, err = db.Handle().Collection("files").InsertOne(ctx, bson.M{"token": "t-1", "downloadPage": "https://example.com/t-1"})
	require.NoError(t, err)
	n, err := db.Handle().Collection("files").CountDocuments(ctx, bson.M{"token": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	if os.Getenv("MONGO_TEST_AUTH") == "" {
		t.Log("MONGO_TEST_AUTH not set; skipping the check that admin has no rights outside its database")
		return
	}
	other, err := admin.DB("admin")
	require.NoError(t, err)
	_, err = other.Handle().Collection("crudbooks_e2e_denied").InsertOne(ctx, bson.M{"x": 1})
	require.ErrorIs(t, mongodb.Classify(err), provision.ErrConnectivity)
}
