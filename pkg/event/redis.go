package event

import (
	"context"
	"encoding/json"
	"time"

	"viewexchange-engine/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("event",
	fx.Provide(NewRedisPublisher),
)

// RedisPublisher broadcasts events over a redis pub/sub channel. The push
// transport (websocket fan-out, notification daemon) subscribes on the other
// side; this process never waits for consumers.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

type PublisherParams struct {
	fx.In

	Redis  *redis.Client
	Config *config.Config
}

func NewRedisPublisher(p PublisherParams) Publisher {
	return &RedisPublisher{
		rdb:     p.Redis,
		channel: p.Config.Engine.EventsChannelName,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		zap.L().Error("event marshal failed", zap.String("event_type", e.Type), zap.Error(err))
		return
	}

	// Detached context: the event outlives the request that produced it, and
	// a canceled request must not suppress an already-committed change.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
			zap.L().Warn("event publish failed",
				zap.String("event_type", e.Type),
				zap.Error(err),
			)
		}
	}()
}
