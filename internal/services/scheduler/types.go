package scheduler

import (
	"time"

	"nl2sqlgen-client/internal/models"
)

// ScheduledJob is a CRON-based recurring generation run. The payload is a
// TaskConfig JSON blob whose password and api_key fields are AES-encrypted;
// plaintext secrets are never stored.
type ScheduledJob struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	Name      string     `json:"name" gorm:"unique;not null"`
	Cron      string     `json:"cron" gorm:"not null"` // 6-field CRON expression
	Timezone  string     `json:"timezone" gorm:"default:UTC"`
	Payload   string     `json:"payload" gorm:"type:text"`
	Enabled   bool       `json:"enabled" gorm:"default:true"`
	LastRunAt *time.Time `json:"last_run_at"`
	NextRunAt *time.Time `json:"next_run_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Cron      string  `json:"cron"`
	Timezone  string  `json:"timezone"`
	Enabled   bool    `json:"enabled"`
	LastRunAt *string `json:"last_run_at"` // ISO 8601 format
	NextRun   *string `json:"next_run"`    // ISO 8601 format
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UpsertJobRequest creates or updates a scheduled generation run. The task
// configuration is carried with its secrets in memory only; they are
// encrypted before the job record is written.
type UpsertJobRequest struct {
	Name     string            `json:"name"`
	Cron     string            `json:"cron"`
	Timezone string            `json:"timezone"`
	Enabled  bool              `json:"enabled"`
	Task     models.TaskConfig `json:"task"`
}
