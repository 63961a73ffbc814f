package services

import (
	"time"

	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Retention defaults. Query history is kept longer than system logs
// because it doubles as the tenant-facing audit trail.
const (
	systemLogRetentionDays    = 30
	queryHistoryRetentionDays = 90
)

// RetentionService prunes aged system logs and query history on a nightly
// schedule.
type RetentionService struct {
	db        *gorm.DB
	scheduler *cron.Cron
}

func NewRetentionService(db *gorm.DB) *RetentionService {
	return &RetentionService{db: db}
}

// Start schedules the nightly cleanup and runs one pass immediately so a
// long-stopped deployment catches up on startup.
func (s *RetentionService) Start() {
	s.scheduler = cron.New()

	if _, err := s.scheduler.AddFunc("0 3 * * *", s.runCleanup); err != nil {
		logger.Errorf("[Retention] Failed to schedule cleanup: %v", err)
		return
	}

	s.scheduler.Start()
	logger.Infof("[Retention] Scheduler started (daily at 03:00)")

	go s.runCleanup()
}

func (s *RetentionService) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *RetentionService) runCleanup() {
	logService := NewSystemLogService(s.db)
	deleted, err := logService.CleanupOldLogs(systemLogRetentionDays)
	if err != nil {
		logger.Errorf("[Retention] System log cleanup failed: %v", err)
	} else if deleted > 0 {
		logger.Infof("[Retention] Removed %d system logs older than %d days", deleted, systemLogRetentionDays)
	}

	deleted, err = s.cleanupQueryHistory(queryHistoryRetentionDays)
	if err != nil {
		logger.Errorf("[Retention] Query history cleanup failed: %v", err)
	} else if deleted > 0 {
		logger.Infof("[Retention] Removed %d query history entries older than %d days", deleted, queryHistoryRetentionDays)
	}
}

func (s *RetentionService) cleanupQueryHistory(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.QueryHistory{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
