package main

import (
	"context"
	"os"
	"strconv"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/db"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/logger"
	"viewexchange-engine/pkg/redis"
	"viewexchange-engine/pkg/sequence"
	"viewexchange-engine/pkg/task"
	"viewexchange-engine/services/account"
	"viewexchange-engine/services/campaign"
	"viewexchange-engine/services/jobpool"
	"viewexchange-engine/services/ledger"
	"viewexchange-engine/services/report"
	"viewexchange-engine/services/verify"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),

		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		task.Client,

		fx.Provide(
			provideSnowflakeNode,
			// The worker consumes tasks; it does not fan out UI events.
			func() event.Publisher { return event.Nop{} },
		),

		ledger.Module,
		ledger.TaskModule,
		account.Module,
		campaign.Module,
		jobpool.Module,
		verify.Module,
		report.Module,
		report.TaskModule,

		task.Server,
		fx.Invoke(registerHandlers, registerScheduler),
	).Run()
}

func registerHandlers(mux *asynq.ServeMux, ledgerTask *ledger.Task, reportTask *report.Task) {
	mux.HandleFunc(task.TypeLedgerReconcile, ledgerTask.HandleReconcileTask)
	mux.HandleFunc(task.TypeReportReview, reportTask.HandleReviewTask)
}

// registerScheduler enqueues the hourly ledger integrity sweep.
func registerScheduler(lc fx.Lifecycle, cfg *config.Config) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		nil,
	)

	if _, err := scheduler.Register("@every 1h", asynq.NewTask(task.TypeLedgerReconcile, nil)); err != nil {
		zap.L().Fatal("register reconcile schedule", zap.Error(err))
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start()
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			return nil
		},
	})
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	id := int64(2)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	return snowflake.NewNode(id)
}
