package fuzz

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/idkwim/baeum/config"
	"github.com/idkwim/baeum/internal/campaign"
	"github.com/idkwim/baeum/internal/crash"
	"github.com/idkwim/baeum/internal/types"
	"github.com/idkwim/baeum/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const errorBackoff = 100 * time.Millisecond

// Pool runs workers that pull inputs, execute them and record the outcome in
// the campaign log. Unique crashes are announced on Crashes.
type Pool struct {
	logger   *zap.Logger
	campaign *campaign.Campaign
	executor Executor
	source   InputSource
	workers  int
	tracer   telemetry.Tracer

	crashChan chan types.CrashMessage
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	finished  chan struct{}
}

type PoolParams struct {
	fx.In

	Logger        *zap.Logger
	Lifecycle     fx.Lifecycle
	Config        *config.AppConfig
	Campaign      *campaign.Campaign
	Executor      Executor
	Source        InputSource
	CrashManager  *crash.CrashManager
	TracerFactory *telemetry.TracerFactory
}

func NewPool(p PoolParams) *Pool {
	pool := New(p.Logger, p.Campaign, p.Executor, p.Source, p.Config.CoreCount)
	pool.tracer = p.TracerFactory.NewTracer(context.Background(), "fuzzing campaign")
	pool.tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
		WithCampaignID(p.Campaign.ID).
		WithTarget(strings.Join(p.Campaign.Args, " ")).
		WithStdinInput(p.Campaign.UsesStdin()).
		WithWorkers(pool.workers))

	// registered before start so the manager outlives every worker
	p.CrashManager.RegisterCrashChan(pool.Crashes())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pool.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Stop()
			return nil
		},
	})
	return pool
}

func New(logger *zap.Logger, c *campaign.Campaign, executor Executor, source InputSource, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		logger:    logger,
		campaign:  c,
		executor:  executor,
		source:    source,
		workers:   workers,
		tracer:    &telemetry.DummyTracer{},
		crashChan: make(chan types.CrashMessage, 64),
		finished:  make(chan struct{}),
	}
}

// Crashes is closed once every worker has exited.
func (p *Pool) Crashes() <-chan types.CrashMessage {
	return p.crashChan
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.tracer.Start()
	p.logger.Info("starting fuzzing workers",
		zap.String("campaign_id", p.campaign.ID),
		zap.Int("workers", p.workers),
		zap.Strings("args", p.campaign.Args))

	for id := range p.workers {
		p.wg.Add(1)
		go p.worker(ctx, id)
	}
	go func() {
		p.wg.Wait()
		close(p.crashChan)
		p.finish()
		close(p.finished)
	}()
}

// Stop cancels every worker and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.Wait()
}

// Wait blocks until all workers have exited on their own or through Stop.
func (p *Pool) Wait() {
	<-p.finished
}

func (p *Pool) finish() {
	snap := p.campaign.Log.Snapshot()
	p.tracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttributes(map[string]any{
		"baeum.stats.execs":          int64(snap.ExecCount),
		"baeum.stats.crashes":        snap.CrashCount,
		"baeum.stats.unique_crashes": snap.UniqCrashCount,
	}))
	p.tracer.End()
	p.logger.Info("fuzzing workers stopped",
		zap.Uint64("execs", snap.ExecCount),
		zap.Uint32("unique_crashes", snap.UniqCrashCount))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for ctx.Err() == nil {
		input, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.Debug("input source exhausted")
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to get next input", zap.Error(err))
			p.tracer.SetStatus(codes.Error, "input source failed")
			return
		}

		fb, err := p.executor.Run(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("execution failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}
		p.record(logger, input, fb)
	}
}

func (p *Pool) record(logger *zap.Logger, input []byte, fb *types.Feedback) {
	p.campaign.Log.AddExecs(1)
	if fb.NewNodes > 0 {
		p.campaign.Log.AddNodes(fb.NewNodes)
	}
	if !fb.Crashed {
		return
	}

	res, err := p.campaign.SaveCrash(input, fb)
	if err != nil {
		logger.Error("failed to save crash", zap.String("signature", fb.Subpath.String()), zap.Error(err))
		return
	}
	if !res.Unique {
		return
	}
	// never dropped: the crash manager drains until this channel closes
	p.crashChan <- types.CrashMessage{
		CampaignID: p.campaign.ID,
		Ordinal:    res.Ordinal,
		CrashFile:  res.Path,
		Signature:  fb.Subpath,
		Size:       len(input),
		FoundAt:    time.Now(),
	}
}
