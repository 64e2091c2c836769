package report

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
)

// Report is one viewer's abuse flag against a campaign. The composite unique
// index enforces one report per reporter per campaign at the storage layer;
// the service checks first to return a friendly error before the constraint
// fires.
type Report struct {
	ID         string    `gorm:"column:id;primaryKey"`
	CampaignID string    `gorm:"column:campaign_id;uniqueIndex:idx_campaign_reporter;not null"`
	ReporterID string    `gorm:"column:reporter_id;uniqueIndex:idx_campaign_reporter;not null"`
	Note       string    `gorm:"column:note"`
	Status     Status    `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Report) TableName() string { return "reports" }
