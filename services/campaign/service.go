package campaign

import (
	"context"
	"fmt"
	"time"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/db/option"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/repository"
	"viewexchange-engine/pkg/sequence"
	"viewexchange-engine/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobMaterializer creates the job batch inside the campaign-creation
// transaction. Implemented by the job pool.
type JobMaterializer interface {
	MaterializeInTx(ctx context.Context, tx *gorm.DB, campaignID string, count int, requiredSeconds int64) error
}

// JobExpirer invalidates a campaign's outstanding jobs, in-flight
// assignments included. Implemented by the job pool.
type JobExpirer interface {
	ExpireForCampaignInTx(ctx context.Context, tx *gorm.DB, campaignID string) (int64, error)
}

// CreateCommand carries the validated inbound fields for campaign creation.
type CreateCommand struct {
	OwnerID              string
	MediaRef             string
	RequiredWatchSeconds int64
	RequestedViews       int
	PriorityTier         int
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	seq       sequence.Generator
	policy    config.Engine
	ledger    *ledger.Service
	jobs      JobMaterializer
	expirer   JobExpirer
	publisher event.Publisher

	campaigns repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Seq       sequence.Generator
	Config    *config.Config
	Ledger    *ledger.Service
	Jobs      JobMaterializer
	Expirer   JobExpirer
	Publisher event.Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		policy:    p.Config.Engine,
		ledger:    p.Ledger,
		jobs:      p.Jobs,
		expirer:   p.Expirer,
		publisher: p.Publisher,

		campaigns: repository.ProvideStore[Campaign](p.DB),
	}
}

// Create validates the command, escrows the full cost from the owner and
// materializes one job per requested view. The debit, the campaign row and
// the job batch commit together or not at all.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Campaign, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if err := s.validate(cmd); err != nil {
		return nil, err
	}

	totalCost := cmd.RequiredWatchSeconds*int64(cmd.RequestedViews) +
		int64(cmd.PriorityTier)*s.policy.BoostUnitCost

	code, err := s.seq.NextCampaignCode(ctx)
	if err != nil {
		return nil, err
	}

	c := &Campaign{
		ID:                   s.node.Generate().String(),
		Code:                 code,
		OwnerID:              cmd.OwnerID,
		MediaRef:             cmd.MediaRef,
		RequiredWatchSeconds: cmd.RequiredWatchSeconds,
		RequestedViews:       cmd.RequestedViews,
		PriorityTier:         cmd.PriorityTier,
		CoinsEscrowed:        totalCost,
		Status:               StatusActive,
	}

	var ownerBalance int64
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		_, nb, err := s.ledger.AppendInTx(ctx, tx, cmd.OwnerID, -totalCost,
			ledger.KindEscrowDebit, fmt.Sprintf("escrow for campaign %s", code))
		if err != nil {
			return err
		}
		ownerBalance = nb

		if err := s.campaigns.WithTrx(tx).Create(ctx, c); err != nil {
			return err
		}

		return s.jobs.MaterializeInTx(ctx, tx, c.ID, cmd.RequestedViews, cmd.RequiredWatchSeconds)
	}); err != nil {
		return nil, err
	}

	zap.L().Info("campaign created",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("campaign_id", c.ID),
		zap.String("owner_id", c.OwnerID),
		zap.Int64("coins_escrowed", totalCost),
		zap.Int("requested_views", cmd.RequestedViews),
	)

	s.publisher.Publish(ctx, event.New(event.TypeBalanceChanged, event.BalanceChanged{
		AccountID:  cmd.OwnerID,
		NewBalance: ownerBalance,
		Delta:      -totalCost,
		Reason:     "campaign escrow",
	}))
	s.publisher.Publish(ctx, event.New(event.TypeJobPoolChanged, event.JobPoolChanged{
		CampaignID: c.ID,
	}))

	return c, nil
}

func (s *Service) validate(cmd CreateCommand) error {
	details := make([]errutil.Detail, 0, 3)

	if cmd.RequiredWatchSeconds < s.policy.MinWatchSeconds || cmd.RequiredWatchSeconds > s.policy.MaxWatchSeconds {
		details = append(details, errutil.Detail{
			Field:   "required_watch_seconds",
			Message: fmt.Sprintf("must be within [%d, %d]", s.policy.MinWatchSeconds, s.policy.MaxWatchSeconds),
		})
	}
	if cmd.RequestedViews < 1 {
		details = append(details, errutil.Detail{Field: "requested_views", Message: "must be at least 1"})
	}
	if !validTier(cmd.PriorityTier) {
		details = append(details, errutil.Detail{Field: "priority_tier", Message: "must be one of 0, 2, 5"})
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid campaign", errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.campaigns.FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found")
	}
	return c, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Campaign, error) {
	return s.campaigns.Find(ctx, &Campaign{OwnerID: ownerID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

// FinalizeIfComplete flips an active campaign that has reached its target to
// completed. Idempotent: only the winning conditional update emits the event.
func (s *Service) FinalizeIfComplete(ctx context.Context, id string) (bool, error) {
	var completed bool
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		completed, err = FinalizeIfCompleteInTx(ctx, tx, id)
		return err
	}); err != nil {
		return false, err
	}

	if completed {
		s.publisher.Publish(ctx, event.New(event.TypeCampaignCompleted, event.CampaignCompleted{
			CampaignID: id,
		}))
	}
	return completed, nil
}

// FinalizeIfCompleteInTx performs the completion transition inside the
// caller's transaction. Package-level so settlement can run it without
// holding the campaign service. Returns true only for the call that won the
// transition; the caller then owns emitting campaign_completed after commit.
func FinalizeIfCompleteInTx(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	now := time.Now().UTC()
	res := tx.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ? AND status = ? AND completed_views >= requested_views", id, StatusActive).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Suspend transitions the campaign to suspended and expires all of its
// outstanding jobs in the same transaction. Remaining escrow stays held; any
// giveback is an operator-side manual adjustment.
func (s *Service) Suspend(ctx context.Context, id string, cause string) error {
	var transitioned bool
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.WithContext(ctx).
			Model(&Campaign{}).
			Where("id = ? AND status IN ?", id, []Status{StatusActive, StatusPaused}).
			Updates(map[string]any{
				"status":       StatusSuspended,
				"suspended_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already suspended/terminal, or unknown id; nothing to expire.
			return nil
		}
		transitioned = true

		expired, err := s.expirer.ExpireForCampaignInTx(ctx, tx, id)
		if err != nil {
			return err
		}

		zap.L().Info("campaign suspended",
			zap.String("campaign_id", id),
			zap.String("cause", cause),
			zap.Int64("jobs_expired", expired),
		)
		return nil
	}); err != nil {
		return err
	}

	if transitioned {
		s.publisher.Publish(ctx, event.New(event.TypeCampaignSuspended, event.CampaignSuspended{
			CampaignID: id,
			Cause:      cause,
		}))
		s.publisher.Publish(ctx, event.New(event.TypeJobPoolChanged, event.JobPoolChanged{
			CampaignID: id,
		}))
	}
	return nil
}

// Pause takes an active campaign out of the visible queue without touching
// its jobs; Resume brings it back.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.flipStatus(ctx, id, StatusActive, StatusPaused)
}

func (s *Service) Resume(ctx context.Context, id string) error {
	return s.flipStatus(ctx, id, StatusPaused, StatusActive)
}

func (s *Service) flipStatus(ctx context.Context, id string, from, to Status) error {
	res := s.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return errutil.Conflict(fmt.Sprintf("campaign is not %s", from))
	}

	s.publisher.Publish(ctx, event.New(event.TypeJobPoolChanged, event.JobPoolChanged{
		CampaignID: id,
	}))
	return nil
}

// AddReportInTx increments the abuse counter inside the abuse guard's
// transaction and returns the new count.
func (s *Service) AddReportInTx(ctx context.Context, tx *gorm.DB, id string) (int, error) {
	res := tx.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"report_count": gorm.Expr("report_count + 1"),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, errutil.NotFound("campaign not found")
	}

	c, err := s.campaigns.WithTrx(tx).FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		return 0, err
	}
	return c.ReportCount, nil
}

// Reinstate restores a suspended campaign after operator approval and clears
// its report counter. Jobs already expired by the suspension stay expired;
// the campaign keeps serving from whatever jobs remain.
func (s *Service) Reinstate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ? AND status = ?", id, StatusSuspended).
		Updates(map[string]any{
			"status":       StatusActive,
			"report_count": 0,
			"suspended_at": nil,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return errutil.Conflict("campaign is not suspended")
	}

	s.publisher.Publish(ctx, event.New(event.TypeJobPoolChanged, event.JobPoolChanged{
		CampaignID: id,
	}))
	return nil
}

// Remove is the terminal operator decision. Outstanding jobs are expired as
// with suspension.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).
			Model(&Campaign{}).
			Where("id = ? AND status NOT IN ?", id, []Status{StatusRemoved}).
			Updates(map[string]any{"status": StatusRemoved, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		_, err := s.expirer.ExpireForCampaignInTx(ctx, tx, id)
		return err
	})
}
