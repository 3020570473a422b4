package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crudbooks/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var _ Store = (*SQLStore)(nil)

type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Ping verifies the underlying database connection is healthy.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql store is not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun inserts run and sets its ID.
func (s *SQLStore) StartRun(run *model.ProvisionRun) error {
	if run.Status == "" {
		run.Status = model.RunStarted
	}
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("StartRun: failed to insert run for %s: %w", run.Database, err)
	}
	return nil
}

// FinishRun stores the final status of a run started with StartRun.
func (s *SQLStore) FinishRun(run *model.ProvisionRun) error {
	if run.ID == 0 {
		return fmt.Errorf("FinishRun: run for %s was never started", run.Database)
	}
	err := s.db.Model(&model.ProvisionRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":      run.Status,
			"error":       run.Error,
			"finished_at": run.FinishedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("FinishRun: failed to update run %d: %w", run.ID, err)
	}
	return nil
}

func (s *SQLStore) LogAuditEvent(logger *zap.SugaredLogger, event model.AuditLog) {
	if event.Message == "" {
		event.Message = string(event.Outcome)
	}

	err := s.db.WithContext(context.Background()).Create(&event).Error
	if err != nil {
		logger.Errorf("failed to write %v audit log: %v", event, err)
	}
}

// ListRuns returns the most recent runs first. A limit of 0 returns all runs.
func (s *SQLStore) ListRuns(limit int) ([]model.ProvisionRun, error) {
	var runs []model.ProvisionRun
	q := s.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns a run without its audit logs, see ListAuditLogs.
func (s *SQLStore) GetRun(id uint) (*model.ProvisionRun, error) {
	var run model.ProvisionRun
	err := s.db.First(&run, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListAuditLogs returns the steps of a run in the order they were recorded.
func (s *SQLStore) ListAuditLogs(runID uint) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	if err := s.db.Where("run_id = ?", runID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
