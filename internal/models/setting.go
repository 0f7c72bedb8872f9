package models

import (
	"time"
)

// Setting is one persisted client preference record. Values are JSON blobs
// keyed by a fixed name; secret fields are stripped before they get here.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Setting) TableName() string {
	return "settings"
}
