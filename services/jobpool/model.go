package jobpool

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Job is one watch obligation derived from a unit of a campaign's requested
// views. RequiredSeconds is frozen at materialization. State machine:
// available → assigned → completed, or available|assigned → expired when the
// campaign is suspended or removed. completed and expired are terminal.
type Job struct {
	ID              string     `gorm:"column:id;primaryKey"`
	CampaignID      string     `gorm:"column:campaign_id;index;not null"`
	RequiredSeconds int64      `gorm:"column:required_seconds;not null"`
	Status          Status     `gorm:"column:status;type:varchar(16);not null;default:'available';index"`
	AssigneeID      string     `gorm:"column:assignee_id;index"`
	AssignedAt      *time.Time `gorm:"column:assigned_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }

// WatchReceipt records every settlement attempt, accepted or not. Anti-replay
// is enforced by the job's status transition, not by this table; receipts
// exist for audit.
type WatchReceipt struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Code            string         `gorm:"column:code;uniqueIndex"`
	JobID           string         `gorm:"column:job_id;index;not null"`
	ViewerID        string         `gorm:"column:viewer_id;index;not null"`
	ReportedSeconds int64          `gorm:"column:reported_seconds;not null"`
	Accepted        bool           `gorm:"column:accepted;not null"`
	SessionMeta     datatypes.JSON `gorm:"column:session_meta"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (WatchReceipt) TableName() string { return "watch_receipts" }
