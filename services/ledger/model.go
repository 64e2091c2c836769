package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a balance-affecting event.
type Kind string

const (
	KindWelcomeGrant     Kind = "welcome_grant"
	KindEscrowDebit      Kind = "escrow_debit"
	KindWatchCredit      Kind = "watch_credit"
	KindReferralCredit   Kind = "referral_credit"
	KindManualAdjustment Kind = "manual_adjustment"
	KindRefund           Kind = "refund"
)

// Entry is one immutable ledger record. The account balance is the running
// sum of its entries; entries are never updated or deleted. Each entry links
// to its predecessor through previous_hash so tampering is detectable.
type Entry struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AccountID    string    `gorm:"column:account_id;index;not null"`
	Delta        int64     `gorm:"column:delta;not null"`
	Kind         Kind      `gorm:"column:kind;type:varchar(32);not null"`
	Reason       string    `gorm:"column:reason;type:text"`
	PreviousHash string    `gorm:"column:previous_hash"`
	Hash         string    `gorm:"column:hash"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Balance is the materialized per-account view. It is a cache; Reconcile
// checks it against the entry sum.
type Balance struct {
	ID        string    `gorm:"column:id;primaryKey"`
	AccountID string    `gorm:"column:account_id;uniqueIndex;not null"`
	Balance   int64     `gorm:"column:balance;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Balance) TableName() string { return "ledger_balances" }

const genesisHash = "GENESIS"

func (e *Entry) HashFields() map[string]string {
	return map[string]string{
		"id":            e.ID,
		"account_id":    e.AccountID,
		"delta":         fmt.Sprintf("%d", e.Delta),
		"kind":          string(e.Kind),
		"reason":        e.Reason,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": e.PreviousHash,
	}
}

func (e *Entry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
