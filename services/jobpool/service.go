package jobpool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/repository"
	"viewexchange-engine/pkg/sequence"
	"viewexchange-engine/services/campaign"
	"viewexchange-engine/services/ledger"
	"viewexchange-engine/services/verify"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Recoverable failure reasons surfaced to the API layer.
const (
	ReasonAlreadyAssigned     = "already_assigned"
	ReasonAlreadySettled      = "already_settled"
	ReasonJobExpired          = "job_expired"
	ReasonCampaignNotActive   = "campaign_not_active"
	ReasonNotAssignedToCaller = "not_assigned_to_caller"
)

// SettleCommand is a viewer's claim that a watch obligation was fulfilled.
type SettleCommand struct {
	JobID           string
	ViewerID        string
	ReportedSeconds int64
	Meta            verify.SessionMeta
}

// SettleResult reports the outcome of an accepted settlement.
type SettleResult struct {
	Receipt        *WatchReceipt
	CoinsAwarded   int64
	ViewerBalance  int64
	CampaignClosed bool
}

type Pool struct {
	db        *gorm.DB
	node      *snowflake.Node
	seq       sequence.Generator
	policy    config.Engine
	ledger    *ledger.Service
	verifier  verify.Policy
	publisher event.Publisher

	jobs     repository.Repository[Job]
	receipts repository.Repository[WatchReceipt]
}

type PoolParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Seq       sequence.Generator
	Config    *config.Config
	Ledger    *ledger.Service
	Verifier  verify.Policy
	Publisher event.Publisher
}

func NewPool(p PoolParams) *Pool {
	return &Pool{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		policy:    p.Config.Engine,
		ledger:    p.Ledger,
		verifier:  p.Verifier,
		publisher: p.Publisher,

		jobs:     repository.ProvideStore[Job](p.DB),
		receipts: repository.ProvideStore[WatchReceipt](p.DB),
	}
}

// MaterializeInTx creates count jobs for the campaign in one batch. Runs
// inside the campaign-creation transaction so the escrow debit and the job
// pool appear together.
func (p *Pool) MaterializeInTx(ctx context.Context, tx *gorm.DB, campaignID string, count int, requiredSeconds int64) error {
	jobs := make([]*Job, 0, count)
	for i := 0; i < count; i++ {
		jobs = append(jobs, &Job{
			ID:              p.node.Generate().String(),
			CampaignID:      campaignID,
			RequiredSeconds: requiredSeconds,
			Status:          StatusAvailable,
		})
	}
	return p.jobs.WithTrx(tx).BatchCreate(ctx, jobs)
}

// ListAvailable returns claimable jobs, boosted campaigns first. Jobs whose
// campaign is paused, suspended or otherwise inactive are filtered out even
// though their rows still read available; expiry happens on the campaign
// transition, pausing does not touch job rows.
func (p *Pool) ListAvailable(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = p.policy.ListDefaultLimit
	}

	var jobs []Job
	if err := p.db.WithContext(ctx).
		Where("status = ?", StatusAvailable).
		Where("campaign_id IN (?)", p.activeCampaignIDs(ctx)).
		Find(&jobs).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(jobs))
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if !seen[j.CampaignID] {
			seen[j.CampaignID] = true
			ids = append(ids, j.CampaignID)
		}
	}

	byID := make(map[string]*campaign.Campaign, len(ids))
	if len(ids) > 0 {
		var campaigns []*campaign.Campaign
		if err := p.db.WithContext(ctx).
			Where("id IN ?", ids).
			Find(&campaigns).Error; err != nil {
			return nil, err
		}
		for _, c := range campaigns {
			byID[c.ID] = c
		}
	}

	jobs = Order(jobs, byID)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (p *Pool) activeCampaignIDs(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx).
		Model(&campaign.Campaign{}).
		Select("id").
		Where("status = ?", campaign.StatusActive)
}

// Claim assigns an available job to the viewer. The transition is a single
// conditional update; under contention exactly one caller sees RowsAffected=1
// and everyone else gets already_assigned. The campaign must still be active
// at claim time.
func (p *Pool) Claim(ctx context.Context, jobID, viewerID string) (*Job, error) {
	now := time.Now().UTC()
	res := p.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", jobID, StatusAvailable).
		Where("campaign_id IN (?)", p.activeCampaignIDs(ctx)).
		Updates(map[string]any{
			"status":      StatusAssigned,
			"assignee_id": viewerID,
			"assigned_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, p.claimFailure(ctx, jobID)
	}

	job, err := p.jobs.FindOne(ctx, &Job{ID: jobID})
	if err != nil {
		return nil, err
	}

	zap.L().Info("job claimed",
		zap.String("job_id", jobID),
		zap.String("viewer_id", viewerID),
		zap.String("campaign_id", job.CampaignID),
	)

	p.publisher.Publish(ctx, event.New(event.TypeJobPoolChanged, event.JobPoolChanged{
		CampaignID: job.CampaignID,
	}))

	return job, nil
}

// claimFailure re-reads the job to tell the caller why the conditional
// update matched nothing.
func (p *Pool) claimFailure(ctx context.Context, jobID string) error {
	job, err := p.jobs.FindOne(ctx, &Job{ID: jobID})
	if err != nil {
		return err
	}
	if job == nil {
		return errutil.NotFound("job not found")
	}
	switch job.Status {
	case StatusAssigned:
		return errutil.Conflict("job already assigned",
			errutil.WithReason(ReasonAlreadyAssigned))
	case StatusCompleted:
		return errutil.Conflict("job already settled",
			errutil.WithReason(ReasonAlreadySettled))
	case StatusExpired:
		return errutil.Conflict("job expired",
			errutil.WithReason(ReasonJobExpired))
	default:
		// Row was available: the campaign gate rejected the claim.
		return errutil.Conflict("campaign is not active",
			errutil.WithReason(ReasonCampaignNotActive))
	}
}

// Settle verifies the viewer's completion report and, if accepted, pays out
// and advances the campaign in one transaction. A rejected report leaves the
// job assigned so the viewer can finish watching and retry; the rejected
// receipt is persisted outside the settlement transaction so the audit record
// survives the failure.
func (p *Pool) Settle(ctx context.Context, cmd SettleCommand) (*SettleResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	job, err := p.jobs.FindOne(ctx, &Job{ID: cmd.JobID})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound("job not found")
	}
	if err := p.settleable(job, cmd.ViewerID); err != nil {
		return nil, err
	}

	if !p.verifier.Verify(job.RequiredSeconds, cmd.ReportedSeconds, cmd.Meta) {
		receipt, rerr := p.createReceipt(ctx, p.db, job, cmd, false)
		if rerr != nil {
			return nil, rerr
		}
		zap.L().Info("settlement rejected",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("job_id", job.ID),
			zap.String("receipt_id", receipt.ID),
			zap.Int64("reported_seconds", cmd.ReportedSeconds),
			zap.Int64("required_seconds", job.RequiredSeconds),
		)
		return nil, errutil.UnprocessableEntity(
			fmt.Sprintf("watched %ds of required %ds", cmd.ReportedSeconds, job.RequiredSeconds),
			errutil.WithReason(verify.ReasonVerificationFailed),
		)
	}

	// Award is clamped: over-reporting never pays more than the contract.
	award := cmd.ReportedSeconds
	if award > job.RequiredSeconds {
		award = job.RequiredSeconds
	}

	result := &SettleResult{CoinsAwarded: award}
	if err := p.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.WithContext(ctx).
			Model(&Job{}).
			Where("id = ? AND status = ? AND assignee_id = ?", job.ID, StatusAssigned, cmd.ViewerID).
			Updates(map[string]any{
				"status":       StatusCompleted,
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race; re-read for the precise reason.
			fresh, ferr := p.jobs.WithTrx(tx).FindOne(ctx, &Job{ID: job.ID})
			if ferr != nil {
				return ferr
			}
			if fresh == nil {
				return errutil.NotFound("job not found")
			}
			return p.settleable(fresh, cmd.ViewerID)
		}

		// The campaign may have been suspended or completed between the
		// pre-check and here; settlement must not pay out against it.
		cres := tx.WithContext(ctx).
			Model(&campaign.Campaign{}).
			Where("id = ? AND status = ?", job.CampaignID, campaign.StatusActive).
			Updates(map[string]any{
				"completed_views": gorm.Expr("completed_views + 1"),
				"updated_at":      now,
			})
		if cres.Error != nil {
			return cres.Error
		}
		if cres.RowsAffected == 0 {
			return errutil.Conflict("campaign is not active",
				errutil.WithReason(ReasonCampaignNotActive))
		}

		receipt, rerr := p.createReceipt(ctx, tx, job, cmd, true)
		if rerr != nil {
			return rerr
		}
		result.Receipt = receipt

		_, nb, lerr := p.ledger.AppendInTx(ctx, tx, cmd.ViewerID, award,
			ledger.KindWatchCredit, fmt.Sprintf("watch credit for job %s", job.ID))
		if lerr != nil {
			return lerr
		}
		result.ViewerBalance = nb

		closed, ferr := campaign.FinalizeIfCompleteInTx(ctx, tx, job.CampaignID)
		if ferr != nil {
			return ferr
		}
		result.CampaignClosed = closed
		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().Info("job settled",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("job_id", job.ID),
		zap.String("viewer_id", cmd.ViewerID),
		zap.String("campaign_id", job.CampaignID),
		zap.Int64("coins_awarded", award),
		zap.Bool("campaign_closed", result.CampaignClosed),
	)

	p.publisher.Publish(ctx, event.New(event.TypeBalanceChanged, event.BalanceChanged{
		AccountID:  cmd.ViewerID,
		NewBalance: result.ViewerBalance,
		Delta:      award,
		Reason:     "watch credit",
	}))
	p.publisher.Publish(ctx, event.New(event.TypeJobPoolChanged, event.JobPoolChanged{
		CampaignID: job.CampaignID,
	}))
	if result.CampaignClosed {
		p.publisher.Publish(ctx, event.New(event.TypeCampaignCompleted, event.CampaignCompleted{
			CampaignID: job.CampaignID,
		}))
	}

	return result, nil
}

func (p *Pool) settleable(job *Job, viewerID string) error {
	switch job.Status {
	case StatusCompleted:
		return errutil.Conflict("job already settled",
			errutil.WithReason(ReasonAlreadySettled))
	case StatusExpired:
		return errutil.Conflict("job expired",
			errutil.WithReason(ReasonJobExpired))
	case StatusAvailable:
		return errutil.Conflict("job is not assigned",
			errutil.WithReason(ReasonNotAssignedToCaller))
	}
	if job.AssigneeID != viewerID {
		return errutil.Forbidden("job is assigned to another viewer",
			errutil.WithReason(ReasonNotAssignedToCaller))
	}
	return nil
}

func (p *Pool) createReceipt(ctx context.Context, db *gorm.DB, job *Job, cmd SettleCommand, accepted bool) (*WatchReceipt, error) {
	code, err := p.seq.NextReceiptCode(ctx)
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(cmd.Meta)
	if err != nil {
		return nil, err
	}

	receipt := &WatchReceipt{
		ID:              p.node.Generate().String(),
		Code:            code,
		JobID:           job.ID,
		ViewerID:        cmd.ViewerID,
		ReportedSeconds: cmd.ReportedSeconds,
		Accepted:        accepted,
		SessionMeta:     meta,
	}
	if err := p.receipts.WithTrx(db).Create(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ExpireForCampaignInTx invalidates every non-terminal job of the campaign,
// in-flight assignments included. Runs inside the suspend/remove transaction.
func (p *Pool) ExpireForCampaignInTx(ctx context.Context, tx *gorm.DB, campaignID string) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&Job{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []Status{StatusAvailable, StatusAssigned}).
		Updates(map[string]any{
			"status":     StatusExpired,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// ReceiptsForJob returns a job's settlement audit trail, oldest first.
func (p *Pool) ReceiptsForJob(ctx context.Context, jobID string) ([]*WatchReceipt, error) {
	var receipts []*WatchReceipt
	if err := p.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}
