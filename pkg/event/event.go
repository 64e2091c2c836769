package event

import (
	"context"
	"time"
)

// Event types pushed to the real-time transport. Consumers treat unknown
// types as opaque.
const (
	TypeBalanceChanged    = "balance_changed"
	TypeJobPoolChanged    = "job_pool_changed"
	TypeCampaignCompleted = "campaign_completed"
	TypeCampaignSuspended = "campaign_suspended"
)

type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type BalanceChanged struct {
	AccountID  string `json:"account_id"`
	NewBalance int64  `json:"new_balance"`
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason"`
}

type JobPoolChanged struct {
	CampaignID string `json:"campaign_id"`
}

type CampaignCompleted struct {
	CampaignID string `json:"campaign_id"`
}

type CampaignSuspended struct {
	CampaignID string `json:"campaign_id"`
	Cause      string `json:"cause"`
}

// Publisher is the fire-and-forget notification boundary. Implementations
// must never block a request path and never surface delivery failures to the
// caller; state changes commit regardless of broadcast outcome.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event. Used in tests and in the worker binary.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

func New(t string, payload any) Event {
	return Event{Type: t, At: time.Now().UTC(), Payload: payload}
}
