package account

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

// Account identifies a participant. The coin balance lives in the ledger's
// cached view, not here. Accounts are never hard-deleted; moderation flips
// the status instead.
type Account struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Status     Status    `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	ReferrerID string    `gorm:"column:referrer_id;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }

func validStatus(s Status) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusBanned:
		return true
	}
	return false
}
