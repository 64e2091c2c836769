package ledger

import (
	"context"

	"viewexchange-engine/pkg/repository"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Task runs the periodic integrity sweep: every cached balance is reconciled
// against its entry sum and every entry chain is re-verified. Mismatches are
// logged for operator follow-up; the sweep never mutates state.
type Task struct {
	db  *gorm.DB
	svc *Service

	balances repository.Repository[Balance]
}

type TaskParams struct {
	fx.In

	DB      *gorm.DB
	Service *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:       p.DB,
		svc:      p.Service,
		balances: repository.ProvideStore[Balance](p.DB),
	}
}

func (t *Task) HandleReconcileTask(ctx context.Context, _ *asynq.Task) error {
	balances, err := t.balances.Find(ctx, &Balance{})
	if err != nil {
		return err
	}

	var drifted, broken int
	for _, b := range balances {
		ok, drift, err := t.svc.Reconcile(ctx, b.AccountID)
		if err != nil {
			return err
		}
		if !ok {
			drifted++
			zap.L().Error("reconcile sweep: balance drift",
				zap.String("account_id", b.AccountID),
				zap.Int64("drift", drift),
			)
		}

		valid, err := t.svc.VerifyChain(ctx, b.AccountID)
		if err != nil {
			return err
		}
		if !valid {
			broken++
			zap.L().Error("reconcile sweep: broken entry chain",
				zap.String("account_id", b.AccountID),
			)
		}
	}

	zap.L().Info("reconcile sweep finished",
		zap.Int("accounts", len(balances)),
		zap.Int("drifted", drifted),
		zap.Int("broken_chains", broken),
	)
	return nil
}
