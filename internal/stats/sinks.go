package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/idkwim/baeum/internal/campaign"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type logSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) Sink {
	return &logSink{logger: logger.Named("stats")}
}

func (s *logSink) Name() string { return "log" }

func (s *logSink) Publish(_ context.Context, campaignID string, snap campaign.LogSnapshot, now time.Time) error {
	s.logger.Info("campaign stats",
		zap.String("campaign_id", campaignID),
		zap.Duration("uptime", snap.Age(now).Truncate(time.Second)),
		zap.Uint64("execs", snap.ExecCount),
		zap.Float64("execs_per_sec", snap.ExecsPerSecond(now)),
		zap.Uint32("seeds", snap.SeedCount),
		zap.Uint32("crashes", snap.CrashCount),
		zap.Uint32("unique_crashes", snap.UniqCrashCount),
		zap.Uint32("total_nodes", snap.TotalNode))
	return nil
}

type RedisSinkParams struct {
	fx.In

	Client *redis.Client `optional:"true"`
}

type redisSink struct {
	client *redis.Client
}

func NewRedisSink(p RedisSinkParams) Sink {
	if p.Client == nil {
		return nil
	}
	return &redisSink{client: p.Client}
}

// RedisKey is the hash holding the latest snapshot of a campaign.
func RedisKey(campaignID string) string {
	return fmt.Sprintf("baeum:campaign:%s:stats", campaignID)
}

func (s *redisSink) Name() string { return "redis" }

func (s *redisSink) Publish(ctx context.Context, campaignID string, snap campaign.LogSnapshot, now time.Time) error {
	fields := Fields(snap, now)
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.HSet(ctx, RedisKey(campaignID), values).Err()
}
