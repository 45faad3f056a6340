package stats

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/idkwim/baeum/config"
	"github.com/idkwim/baeum/internal/campaign"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sink receives periodic snapshots of a campaign log.
type Sink interface {
	Name() string
	Publish(ctx context.Context, campaignID string, snap campaign.LogSnapshot, now time.Time) error
}

type Publisher struct {
	logger   *zap.Logger
	campaign *campaign.Campaign
	sinks    []Sink
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type PublisherParams struct {
	fx.In

	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
	Campaign  *campaign.Campaign
	Sinks     []Sink `group:"sinks"`
}

func NewPublisher(p PublisherParams) *Publisher {
	var sinks []Sink
	for _, s := range p.Sinks {
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	pub := New(p.Logger, p.Campaign, p.Config.StatsInterval, sinks...)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pub.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pub.Stop(ctx)
			return nil
		},
	})
	return pub
}

func New(logger *zap.Logger, c *campaign.Campaign, interval time.Duration, sinks ...Sink) *Publisher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Publisher{
		logger:   logger,
		campaign: c,
		sinks:    sinks,
		interval: interval,
		now:      time.Now,
	}
}

func (p *Publisher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Publish(ctx)
			}
		}
	}()
}

// Stop ends the periodic loop and publishes one final snapshot.
func (p *Publisher) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.Publish(ctx)
}

// Publish pushes the current snapshot to every sink. Sink errors are logged.
func (p *Publisher) Publish(ctx context.Context) {
	snap := p.campaign.Log.Snapshot()
	now := p.now()
	for _, s := range p.sinks {
		if err := s.Publish(ctx, p.campaign.ID, snap, now); err != nil {
			p.logger.Warn("failed to publish stats", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// Fields flattens a snapshot into string values, as stored in the redis hash.
func Fields(snap campaign.LogSnapshot, now time.Time) map[string]string {
	return map[string]string{
		"seeds":          strconv.FormatUint(uint64(snap.SeedCount), 10),
		"crashes":        strconv.FormatUint(uint64(snap.CrashCount), 10),
		"unique_crashes": strconv.FormatUint(uint64(snap.UniqCrashCount), 10),
		"execs":          strconv.FormatUint(snap.ExecCount, 10),
		"execs_per_sec":  strconv.FormatFloat(snap.ExecsPerSecond(now), 'f', 2, 64),
		"total_nodes":    strconv.FormatUint(uint64(snap.TotalNode), 10),
		"start_time":     snap.StartTime.UTC().Format(time.RFC3339),
		"uptime_sec":     strconv.FormatInt(int64(snap.Age(now)/time.Second), 10),
	}
}
