package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nl2sqlgen-client/internal/crypto"
	"nl2sqlgen-client/internal/models"
	"nl2sqlgen-client/internal/services/orchestrator"
)

// Submitter starts a generation run. orchestrator.Service satisfies it.
type Submitter interface {
	Submit(cfg models.TaskConfig) (string, error)
}

// Service manages recurring generation runs. Each scheduled job stores a
// full task configuration with its credential fields encrypted; when a job
// fires and the orchestrator is free, the configuration is decrypted and
// submitted like a manual run.
type Service struct {
	db        *gorm.DB
	cron      *cron.Cron
	submitter Submitter
	logger    *zap.Logger

	jobs   map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu sync.RWMutex
}

// NewService creates a scheduler service
func NewService(db *gorm.DB, submitter Submitter, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		cron:      cron.New(cron.WithSeconds()),
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		jobs:      make(map[string]cron.EntryID),
	}
}

// Start migrates the job table, starts the cron runner and loads every
// enabled job from the database.
func (s *Service) Start() error {
	if err := s.db.AutoMigrate(&ScheduledJob{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_jobs table: %w", err)
	}

	s.cron.Start()

	var jobs []ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for _, job := range jobs {
		if err := s.scheduleJob(&job); err != nil {
			s.logger.Warn("failed to schedule job",
				zap.String("job", job.Name), zap.String("id", job.ID), zap.Error(err))
		}
	}

	s.logger.Info("scheduler started", zap.Int("enabled_jobs", len(jobs)))
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running fire to finish
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.logger.Info("scheduler stopped")
	}
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = toJobListResponse(&job)
	}

	return responses, nil
}

// UpsertJob creates or updates a scheduled generation run keyed by name.
// The task configuration is validated and its secrets encrypted before the
// record is written.
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if req.Name == "" || req.Cron == "" {
		return "", fmt.Errorf("name and cron are required")
	}

	if err := req.Task.Validate(); err != nil {
		return "", fmt.Errorf("invalid task configuration: %w", err)
	}

	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}

	payload, err := encodePayload(req.Task)
	if err != nil {
		return "", err
	}

	var job ScheduledJob
	result := s.db.Where("name = ?", req.Name).First(&job)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("failed to query job: %w", result.Error)
		}
		job = ScheduledJob{
			ID:   uuid.New().String(),
			Name: req.Name,
		}
	}

	job.Cron = normalizedCron
	job.Timezone = req.Timezone
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	job.Enabled = req.Enabled
	job.Payload = payload

	schedule, err := cronParser().Parse(job.Cron)
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(time.Now())
	job.NextRunAt = &nextRun

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if err := s.db.Create(&job).Error; err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
	} else {
		if err := s.db.Save(&job).Error; err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
	}

	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	s.jobsMu.Lock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
	s.jobsMu.Unlock()

	if err := s.db.Delete(&ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// scheduleJob adds an enabled job to the cron runner
func (s *Service) scheduleJob(job *ScheduledJob) error {
	if !job.Enabled {
		return nil
	}

	s.jobsMu.Lock()
	if entryID, exists := s.jobs[job.ID]; exists {
		s.cron.Remove(entryID)
	}
	s.jobsMu.Unlock()

	jobID := job.ID
	entryID, err := s.cron.AddFunc(job.Cron, func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = entryID
	s.jobsMu.Unlock()

	return nil
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.jobsMu.Lock()
			if entryID, exists := s.jobs[jobID]; exists {
				s.cron.Remove(entryID)
				delete(s.jobs, jobID)
			}
			s.jobsMu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	if !job.Enabled {
		s.jobsMu.Lock()
		if entryID, exists := s.jobs[jobID]; exists {
			s.cron.Remove(entryID)
			delete(s.jobs, jobID)
		}
		s.jobsMu.Unlock()
		return nil
	}

	return s.scheduleJob(&job)
}

// executeJob fires one scheduled run
func (s *Service) executeJob(jobID string) {
	var job ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		s.logger.Error("failed to load scheduled job", zap.String("id", jobID), zap.Error(err))
		return
	}

	s.logger.Info("firing scheduled run", zap.String("job", job.Name), zap.String("id", jobID))

	now := time.Now()
	job.LastRunAt = &now
	if schedule, err := cronParser().Parse(job.Cron); err == nil {
		nextRun := schedule.Next(now)
		job.NextRunAt = &nextRun
	}
	if err := s.db.Save(&job).Error; err != nil {
		s.logger.Warn("failed to update job run times", zap.Error(err))
	}

	cfg, err := decodePayload(job.Payload)
	if err != nil {
		s.logger.Error("failed to decode job payload", zap.String("job", job.Name), zap.Error(err))
		return
	}

	if _, err := s.submitter.Submit(cfg); err != nil {
		if errors.Is(err, orchestrator.ErrRunActive) {
			// One run at a time; this fire is skipped, not queued
			s.logger.Warn("skipping scheduled run, another run is active", zap.String("job", job.Name))
			return
		}
		s.logger.Error("scheduled run failed to start", zap.String("job", job.Name), zap.Error(err))
	}
}

// encodePayload marshals a task configuration with its secrets encrypted
func encodePayload(cfg models.TaskConfig) (string, error) {
	if !crypto.IsInitialized() {
		return "", fmt.Errorf("encryption not initialized, cannot store scheduled job credentials")
	}

	encPassword, err := crypto.EncryptSecret(cfg.DB.Password)
	if err != nil {
		return "", err
	}
	encAPIKey, err := crypto.EncryptSecret(cfg.LLM.APIKey)
	if err != nil {
		return "", err
	}

	cfg.DB.Password = encPassword
	cfg.LLM.APIKey = encAPIKey

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

// decodePayload reverses encodePayload
func decodePayload(payload string) (models.TaskConfig, error) {
	var cfg models.TaskConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse payload: %w", err)
	}

	password, err := crypto.DecryptSecret(cfg.DB.Password)
	if err != nil {
		return cfg, fmt.Errorf("failed to decrypt database password: %w", err)
	}
	apiKey, err := crypto.DecryptSecret(cfg.LLM.APIKey)
	if err != nil {
		return cfg, fmt.Errorf("failed to decrypt API key: %w", err)
	}

	cfg.DB.Password = password
	cfg.LLM.APIKey = apiKey
	return cfg, nil
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// normalizeCron accepts 5-field (standard) or 6-field (with seconds)
// expressions and returns the 6-field form stored in the database.
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser().Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 6-field cron expression: %w", err)
		}
		return cronExpr, nil
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (fire at second 0 of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
}

// toJobListResponse maps a job record to its list representation
func toJobListResponse(job *ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Enabled:   job.Enabled,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if job.LastRunAt != nil {
		v := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &v
	}
	if job.NextRunAt != nil {
		v := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &v
	}
	return resp
}
