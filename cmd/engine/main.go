package main

import (
	"os"
	"strconv"

	"viewexchange-engine/internal/httpapi"
	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/db"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/health"
	"viewexchange-engine/pkg/logger"
	"viewexchange-engine/pkg/redis"
	"viewexchange-engine/pkg/sequence"
	"viewexchange-engine/pkg/server"
	"viewexchange-engine/pkg/task"
	"viewexchange-engine/services/account"
	"viewexchange-engine/services/campaign"
	"viewexchange-engine/services/jobpool"
	"viewexchange-engine/services/ledger"
	"viewexchange-engine/services/report"
	"viewexchange-engine/services/verify"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gorm.io/gorm"
)

func main() {
	fx.New(
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),

		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		event.Module,
		sequence.Module,
		task.Client,
		health.Module,

		fx.Provide(provideSnowflakeNode),
		fx.Invoke(registerDBPlugins),

		ledger.Module,
		account.Module,
		campaign.Module,
		jobpool.Module,
		verify.Module,
		report.Module,

		httpapi.Module,
		server.ProvideHTTPServer,
	).Run()
}

func registerDBPlugins(gdb *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb, cfg.Database.DBName)
}

// NODE_ID distinguishes replicas so snowflake ids never collide. Defaults to
// 1 for single-node deployments.
func provideSnowflakeNode() (*snowflake.Node, error) {
	id := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	return snowflake.NewNode(id)
}
