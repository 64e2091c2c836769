package campaign

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusRemoved   Status = "removed"
)

// Boost tiers. The tier surcharge is tier × the configured boost unit cost.
const (
	TierStandard = 0
	TierBoosted  = 2
	TierMax      = 5
)

// Campaign is a submitted media item seeking a target number of
// watch-completions. RequiredWatchSeconds is copied onto every job at
// materialization time and never re-read afterwards.
type Campaign struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	Code                 string     `gorm:"column:code;uniqueIndex"`
	OwnerID              string     `gorm:"column:owner_id;index;not null"`
	MediaRef             string     `gorm:"column:media_ref;type:varchar(512);not null"`
	RequiredWatchSeconds int64      `gorm:"column:required_watch_seconds;not null"`
	RequestedViews       int        `gorm:"column:requested_views;not null"`
	PriorityTier         int        `gorm:"column:priority_tier;not null;default:0"`
	CoinsEscrowed        int64      `gorm:"column:coins_escrowed;not null"`
	CompletedViews       int        `gorm:"column:completed_views;not null;default:0"`
	ReportCount          int        `gorm:"column:report_count;not null;default:0"`
	Status               Status     `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt          *time.Time `gorm:"column:completed_at"`
	SuspendedAt          *time.Time `gorm:"column:suspended_at"`
}

func (Campaign) TableName() string { return "campaigns" }

func validTier(tier int) bool {
	switch tier {
	case TierStandard, TierBoosted, TierMax:
		return true
	}
	return false
}
