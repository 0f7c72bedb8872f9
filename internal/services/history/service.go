package history

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nl2sqlgen-client/internal/models"
	"nl2sqlgen-client/internal/services/orchestrator"
)

// keepRecords caps the history table; older records are pruned on write
const keepRecords = 200

// Service records the outcome of every generation run in the local database.
// It observes orchestrator snapshots: a run is remembered when it starts and
// written out once, when it reaches a terminal phase.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger

	mu      sync.Mutex
	started map[string]time.Time // runID -> first seen
	written map[string]bool      // runID -> record persisted
}

// NewService creates a run history service
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		logger:  logger.Named("history"),
		started: make(map[string]time.Time),
		written: make(map[string]bool),
	}
}

// Start migrates the run_records table
func (s *Service) Start() error {
	if err := s.db.AutoMigrate(&models.RunRecord{}); err != nil {
		return fmt.Errorf("failed to migrate run_records table: %w", err)
	}
	return nil
}

// Observe consumes one orchestrator snapshot. Safe to register directly as a
// Subscribe listener; non-terminal snapshots are cheap to process.
func (s *Service) Observe(snap orchestrator.Snapshot) {
	if snap.RunID == "" {
		return
	}

	s.mu.Lock()
	if _, ok := s.started[snap.RunID]; !ok {
		s.started[snap.RunID] = time.Now()
	}
	if !snap.Phase.IsTerminal() || s.written[snap.RunID] {
		s.mu.Unlock()
		return
	}
	s.written[snap.RunID] = true
	startedAt := s.started[snap.RunID]
	delete(s.started, snap.RunID)
	s.mu.Unlock()

	record := models.RunRecord{
		ID:         snap.RunID,
		TaskID:     snap.TaskID,
		Phase:      string(snap.Phase),
		Dialect:    snap.Dialect,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if snap.Result != nil {
		record.SamplesGenerated = snap.Result.SamplesGenerated
		record.SamplesValid = snap.Result.SamplesValid
		record.ErrorMessage = snap.Result.ErrorMessage
		record.FailureKind = snap.Result.FailureKind
	}

	if err := s.db.Create(&record).Error; err != nil {
		s.logger.Warn("failed to record run outcome",
			zap.String("run_id", snap.RunID), zap.Error(err))
		return
	}

	s.prune()
}

// ListRuns returns the most recent run records, newest first
func (s *Service) ListRuns(limit int) ([]models.RunRecord, error) {
	if limit <= 0 || limit > keepRecords {
		limit = keepRecords
	}

	var records []models.RunRecord
	if err := s.db.Order("finished_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list run history: %w", err)
	}
	return records, nil
}

// ClearHistory removes every run record
func (s *Service) ClearHistory() error {
	if err := s.db.Where("1 = 1").Delete(&models.RunRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear run history: %w", err)
	}
	return nil
}

// prune drops records beyond the retention cap, oldest first
func (s *Service) prune() {
	var count int64
	if err := s.db.Model(&models.RunRecord{}).Count(&count).Error; err != nil || count <= keepRecords {
		return
	}

	var victims []models.RunRecord
	if err := s.db.Order("finished_at ASC").Limit(int(count - keepRecords)).Find(&victims).Error; err != nil {
		return
	}
	for _, v := range victims {
		if err := s.db.Delete(&models.RunRecord{}, "id = ?", v.ID).Error; err != nil {
			s.logger.Warn("failed to prune run record", zap.String("id", v.ID), zap.Error(err))
		}
	}
}
