package models

import (
	"time"
)

// RunRecord is the persisted outcome of one generation run. A record is
// written only when the run reaches a terminal state; configuration stored
// with it is redacted.
type RunRecord struct {
	ID               string    `gorm:"primaryKey" json:"id"` // orchestrator run ID
	TaskID           string    `json:"task_id"`              // backend task ID, empty if submission never landed
	Phase            string    `gorm:"not null" json:"phase"`
	Dialect          string    `json:"dialect"`
	SamplesGenerated int       `json:"samples_generated"`
	SamplesValid     int       `json:"samples_valid"`
	ErrorMessage     string    `gorm:"type:text" json:"error_message"`
	FailureKind      string    `json:"failure_kind"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// TableName specifies the table name for GORM
func (RunRecord) TableName() string {
	return "run_records"
}
