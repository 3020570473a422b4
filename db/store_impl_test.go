package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crudbooks/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite journal for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

// seedRun records a finished run with one audit log per outcome
func seedRun(t *testing.T, store *SQLStore, database string, status model.RunStatus) model.ProvisionRun {
	run := model.ProvisionRun{Database: database, Variant: "collections+indexes+principal", StartedAt: time.Now()}
	require.NoError(t, store.StartRun(&run))

	events := []model.AuditLog{
		{RunID: run.ID, Kind: model.CollectionStep, Target: "books", Outcome: model.Created},
		{RunID: run.ID, Kind: model.IndexStep, Target: "users.email_1", Outcome: model.Existing, Message: "index users.email_1: already exists"},
		{RunID: run.ID, Kind: model.PrincipalStep, Target: "admin@" + database, Outcome: model.Skipped},
	}
	for _, e := range events {
		store.LogAuditEvent(zap.NewNop().Sugar(), e)
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = status
	require.NoError(t, store.FinishRun(&run))
	return run
}

func TestStartAndFinishRun(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))

	run := model.ProvisionRun{Database: "crudbooks", Variant: "collections+principal", StartedAt: time.Now()}
	require.NoError(t, store.StartRun(&run))
	assert.NotZero(t, run.ID)
	assert.Equal(t, model.RunStarted, run.Status)

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = model.RunAborted
	run.Error = "provision: index books.fileToken_1: conflicting definition"
	require.NoError(t, store.FinishRun(&run))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunAborted, got.Status)
	assert.Equal(t, run.Error, got.Error)
	require.NotNil(t, got.FinishedAt)

	t.Run("finishing an unknown run fails", func(t *testing.T) {
		err := store.FinishRun(&model.ProvisionRun{Database: "crudbooks"})
		require.Error(t, err)
	})
}

func TestAuditLogs(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	run := seedRun(t, store, "crudbooks", model.RunSucceeded)
	other := seedRun(t, store, "crudbooks_staging", model.RunSucceeded)

	t.Run("logs are returned in order for a single run", func(t *testing.T) {
		logs, err := store.ListAuditLogs(run.ID)
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, "books", logs[0].Target)
		assert.Equal(t, model.Created, logs[0].Outcome)
		assert.Equal(t, "created", logs[0].Message, "empty messages default to the outcome")
		assert.Equal(t, "index users.email_1: already exists", logs[1].Message)
		assert.Equal(t, "admin@crudbooks", logs[2].Target)
	})

	t.Run("logs of another run are kept apart", func(t *testing.T) {
		got, err := store.GetRun(other.ID)
		require.NoError(t, err)
		assert.Equal(t, "crudbooks_staging", got.Database)

		logs, err := store.ListAuditLogs(other.ID)
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, "admin@crudbooks_staging", logs[2].Target)
	})

	t.Run("unknown run", func(t *testing.T) {
		got, err := store.GetRun(99999)
		assert.Equal(t, ErrRunNotFound, err)
		assert.Nil(t, got)
	})

	t.Run("invalid outcome is rejected", func(t *testing.T) {
		store.LogAuditEvent(zap.NewNop().Sugar(), model.AuditLog{RunID: run.ID, Kind: model.IndexStep, Outcome: "maybe"})
		logs, err := store.ListAuditLogs(run.ID)
		require.NoError(t, err)
		assert.Len(t, logs, 3)
	})
}

func TestListRuns(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	first := seedRun(t, store, "crudbooks", model.RunAborted)
	second := seedRun(t, store, "crudbooks", model.RunSucceeded)

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "most recent run first")
	assert.Equal(t, first.ID, runs[1].ID)

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunSucceeded, runs[0].Status)
}

func TestPing(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	require.NoError(t, store.Ping(context.Background()))

	var nilStore *SQLStore
	require.Error(t, nilStore.Ping(context.Background()))
}

func TestOpenSQLite_KeepsExistingRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	conn, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	store := NewSQLStore(conn)
	seedRun(t, store, "crudbooks", model.RunSucceeded)
	require.NoError(t, store.Close())

	conn, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	store = NewSQLStore(conn)
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestJournalBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	backups := JournalBackups{Path: path, Keep: 2, Logger: zap.NewNop().Sugar()}
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	t.Run("nothing to back up", func(t *testing.T) {
		backup, err := backups.Create(base)
		require.NoError(t, err)
		assert.Empty(t, backup)

		require.NoError(t, os.WriteFile(path, nil, 0o600))
		backup, err = backups.Create(base)
		require.NoError(t, err)
		assert.Empty(t, backup, "an empty journal is not copied")
	})

	require.NoError(t, os.WriteFile(path, []byte("journal"), 0o600))
	// Files that only look like backups are left alone.
	require.NoError(t, os.WriteFile(path+".manual.bak", []byte("keep"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.db.20200101-000000.bak"), []byte("keep"), 0o600))

	t.Run("keeps the most recent copies", func(t *testing.T) {
		var last string
		for i := 0; i < 4; i++ {
			backup, err := backups.Create(base.Add(time.Duration(i) * time.Minute))
			require.NoError(t, err)
			last = backup
		}

		content, err := os.ReadFile(last)
		require.NoError(t, err)
		assert.Equal(t, "journal", string(content))

		got, err := backups.List()
		require.NoError(t, err)
		assert.Equal(t, []string{path + ".20261015-090200.bak", path + ".20261015-090300.bak"}, got)

		assert.FileExists(t, path+".manual.bak")
		assert.FileExists(t, filepath.Join(dir, "other.db.20200101-000000.bak"))

		tmp, err := filepath.Glob(path + ".*.tmp-*")
		require.NoError(t, err)
		assert.Empty(t, tmp)
	})

	t.Run("disabled", func(t *testing.T) {
		off := JournalBackups{Path: path}
		backup, err := off.Create(base.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, backup)
	})

	t.Run("directory is rejected", func(t *testing.T) {
		_, err := JournalBackups{Path: dir, Keep: 1}.Create(base)
		require.Error(t, err)
	})
}
