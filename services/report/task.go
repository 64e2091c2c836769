package report

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Task surfaces threshold-suspended campaigns to operators. The campaign is
// already suspended by the time this runs; the handler gathers the open
// reports so the notification carries the full picture.
type Task struct {
	svc *Service
}

type TaskParams struct {
	fx.In

	Service *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{svc: p.Service}
}

func (t *Task) HandleReviewTask(ctx context.Context, at *asynq.Task) error {
	var payload ReviewPayload
	if err := json.Unmarshal(at.Payload(), &payload); err != nil {
		return err
	}

	pending, err := t.svc.ListPending(ctx, payload.CampaignID)
	if err != nil {
		return err
	}

	// TODO: page the on-call operator channel once the notifier service lands.
	zap.L().Warn("campaign awaiting review",
		zap.String("campaign_id", payload.CampaignID),
		zap.Int("report_count", payload.ReportCount),
		zap.Int("open_reports", len(pending)),
	)
	return nil
}
