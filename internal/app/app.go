package app

import (
	"context"

	"github.com/idkwim/baeum/config"
	"github.com/idkwim/baeum/internal/campaign"
	"github.com/idkwim/baeum/internal/corpus"
	"github.com/idkwim/baeum/internal/crash"
	"github.com/idkwim/baeum/internal/fuzz"
	"github.com/idkwim/baeum/internal/seeds"
	"github.com/idkwim/baeum/internal/stats"
	"github.com/idkwim/baeum/pkg/database"
	"github.com/idkwim/baeum/pkg/logger"
	"github.com/idkwim/baeum/pkg/mq"
	"github.com/idkwim/baeum/pkg/telemetry"
	"github.com/idkwim/baeum/pkg/watchdog"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Infrastructure provides configuration, logging and the optional external
// services. Services that are not configured resolve to nil.
var Infrastructure = fx.Options(
	fx.Provide(
		config.LoadConfig,           // inject config
		telemetry.NewTelemetry,      // inject telemetry
		telemetry.NewTracerFactory,  // inject telemetry tracer factory
		logger.NewLogger,            // inject logger
		database.NewDBConnection,    // inject db connection
		database.NewRedisClient,     // inject redis client
		mq.NewRabbitMQ,              // inject rabbitmq service
		watchdog.NewWatchDogFactory, // inject watchdog factory
	),
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		zlogger := fxevent.ZapLogger{Logger: log}
		zlogger.UseLogLevel(zap.DebugLevel)
		return &zlogger
	}),
)

// Campaign wires the workspace, crash triage, queue watching, stats and the
// worker pool. The including application provides a fuzz.Executor and a
// fuzz.InputSource.
var Campaign = fx.Module("campaign",
	fx.Provide(
		campaign.NewCampaign,
		crash.NewCrashManager,
		fx.Annotate(crash.NewDBReporter, fx.ResultTags(`group:"reporters"`)),
		fx.Annotate(crash.NewMQReporter, fx.ResultTags(`group:"reporters"`)),
		seeds.NewSeedManager,
		corpus.NewImporter,
		stats.NewPublisher,
		fx.Annotate(stats.NewLogSink, fx.ResultTags(`group:"sinks"`)),
		fx.Annotate(stats.NewRedisSink, fx.ResultTags(`group:"sinks"`)),
		fuzz.NewPool,
	),
	// hooks run in construction order and stop in reverse, so the publisher
	// sees the final counts after the pool has stopped
	fx.Invoke(func(*stats.Publisher) {}),
	fx.Invoke(func(*seeds.SeedManager) {}),
	fx.Invoke(func(*corpus.Importer) {}), // after the seed manager so imports are counted
	fx.Invoke(ShutdownWhenDone),
)

// ShutdownWhenDone stops the application once every worker has exited on its
// own, e.g. when a finite input source is exhausted.
func ShutdownWhenDone(lc fx.Lifecycle, pool *fuzz.Pool, shutdowner fx.Shutdowner, logger *zap.Logger) {
	stopping := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				pool.Wait()
				select {
				case <-stopping:
				default:
					logger.Info("all workers finished, shutting down")
					shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stopping)
			return nil
		},
	})
}
