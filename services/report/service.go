package report

import (
	"context"
	"encoding/json"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/db/option"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/repository"
	"viewexchange-engine/pkg/task"
	"viewexchange-engine/services/campaign"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ReasonDuplicateReport = "duplicate_report"

// CauseAbuseThreshold is the suspension cause recorded when the report
// counter reaches the configured threshold.
const CauseAbuseThreshold = "abuse_threshold"

// Resolution is the operator decision on a suspended campaign.
type Resolution string

const (
	ResolutionApprove Resolution = "approve"
	ResolutionRemove  Resolution = "remove"
)

// ReviewPayload is the task payload handed to the worker when a campaign
// crosses the report threshold.
type ReviewPayload struct {
	CampaignID  string `json:"campaign_id"`
	ReportCount int    `json:"report_count"`
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	policy    config.Engine
	campaigns *campaign.Service
	enqueuer  task.Enqueuer

	reports repository.Repository[Report]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Campaigns *campaign.Service
	Enqueuer  task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		policy:    p.Config.Engine,
		campaigns: p.Campaigns,
		enqueuer:  p.Enqueuer,

		reports: repository.ProvideStore[Report](p.DB),
	}
}

// File records an abuse report and bumps the campaign's counter. One report
// per reporter per campaign; repeats do not advance the counter. Crossing the
// threshold suspends the campaign and asks the review queue for an operator
// decision.
func (s *Service) File(ctx context.Context, campaignID, reporterID, note string) (*Report, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}

	existing, err := s.reports.FindOne(ctx, &Report{CampaignID: campaignID, ReporterID: reporterID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("campaign already reported by this account",
			errutil.WithReason(ReasonDuplicateReport))
	}

	r := &Report{
		ID:         s.node.Generate().String(),
		CampaignID: campaignID,
		ReporterID: reporterID,
		Note:       note,
		Status:     StatusPending,
	}

	var count int
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.reports.WithTrx(tx).Create(ctx, r); err != nil {
			return err
		}
		var err error
		count, err = s.campaigns.AddReportInTx(ctx, tx, campaignID)
		return err
	}); err != nil {
		return nil, err
	}

	zap.L().Info("report filed",
		zap.String("campaign_id", campaignID),
		zap.String("reporter_id", reporterID),
		zap.Int("report_count", count),
	)

	if count >= s.policy.ReportThreshold {
		if err := s.campaigns.Suspend(ctx, campaignID, CauseAbuseThreshold); err != nil {
			return nil, err
		}
		s.requestReview(campaignID, count)
	}

	return r, nil
}

// requestReview is best-effort: a failed enqueue is logged, not surfaced; the
// campaign is already suspended and an operator can still find it by status.
func (s *Service) requestReview(campaignID string, count int) {
	payload, err := json.Marshal(ReviewPayload{CampaignID: campaignID, ReportCount: count})
	if err != nil {
		zap.L().Error("marshal review payload", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(
		asynq.NewTask(task.TypeReportReview, payload),
		asynq.Queue("critical"),
	); err != nil {
		zap.L().Error("enqueue review task",
			zap.String("campaign_id", campaignID),
			zap.Error(err),
		)
	}
}

// Resolve applies the operator decision: approve reinstates the campaign and
// clears its counter, remove ends it. Either way the pending reports close.
func (s *Service) Resolve(ctx context.Context, campaignID string, resolution Resolution) error {
	switch resolution {
	case ResolutionApprove:
		if err := s.campaigns.Reinstate(ctx, campaignID); err != nil {
			return err
		}
	case ResolutionRemove:
		if err := s.campaigns.Remove(ctx, campaignID); err != nil {
			return err
		}
	default:
		return errutil.ValidationFailed("resolution must be approve or remove")
	}

	if err := s.db.WithContext(ctx).
		Model(&Report{}).
		Where("campaign_id = ? AND status = ?", campaignID, StatusPending).
		Update("status", StatusReviewed).Error; err != nil {
		return err
	}

	zap.L().Info("reports resolved",
		zap.String("campaign_id", campaignID),
		zap.String("resolution", string(resolution)),
	)
	return nil
}

// ListPending returns campaigns' open reports for the operator console,
// oldest first.
func (s *Service) ListPending(ctx context.Context, campaignID string) ([]*Report, error) {
	return s.reports.Find(ctx, &Report{CampaignID: campaignID, Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}
