package db

import (
	"fmt"
	"time"

	"crudbooks/model"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// A second provisioner run waits this long for the journal lock.
const busyTimeout = 5 * time.Second

// gormWriter routes gorm's slow query and error reports into zap.
type gormWriter struct {
	log *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}

func journalDSN(dbPath string) string {
	return fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeout.Milliseconds())
}

// OpenSQLite opens the provisioning journal at dbPath and creates its schema
// if needed. Running it against an existing journal keeps all recorded runs.
func OpenSQLite(dbPath string, log *zap.SugaredLogger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := gorm.Open(sqlite.Open(journalDSN(dbPath)), &gorm.Config{
		Logger: logger.New(gormWriter{log: log.Named("journal")}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", dbPath, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Debugw("journal ready", "path", dbPath)
	return db, nil
}

// Migrate creates or updates the journal tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ProvisionRun{},
		&model.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}
