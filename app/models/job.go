package models

import "time"

// Job is the persisted form of a deferred unit of work. Payload is stored as JSON
// and decoded by the job queue according to Type.
type Job struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type        string     `gorm:"type:varchar(32);not null;index" json:"type"`
	Status      string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PayloadJSON string     `gorm:"type:text;not null" json:"payload"`
	ErrorMsg    string     `gorm:"type:text" json:"error_msg,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
}
