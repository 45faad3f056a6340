package crash

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/idkwim/baeum/internal/campaign"
	"github.com/idkwim/baeum/internal/types"
	"github.com/idkwim/baeum/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Reporter forwards a unique crash that is already on disk.
type Reporter interface {
	Name() string
	Report(ctx context.Context, crash *Crash) error
}

// Crash is a CrashMessage together with what was read back from disk.
type Crash struct {
	types.CrashMessage
	MD5 string
}

type CrashManager struct {
	logger    *zap.Logger
	tracer    telemetry.Tracer
	reporters []Reporter

	crashChan chan types.CrashMessage
	wg        sync.WaitGroup
	done      chan struct{}

	mu        sync.Mutex
	processed int
}

type CrashManagerParams struct {
	fx.In

	Logger        *zap.Logger
	Lifecycle     fx.Lifecycle
	Campaign      *campaign.Campaign
	TracerFactory *telemetry.TracerFactory
	Reporters     []Reporter `group:"reporters"`
}

func NewCrashManager(p CrashManagerParams) *CrashManager {
	tracer := p.TracerFactory.NewTracer(context.Background(), "crash triage")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Triage).
		WithCampaignID(p.Campaign.ID).
		WithOutputDir(p.Campaign.OutputDir))

	var reporters []Reporter
	for _, r := range p.Reporters {
		// reporters whose backing service is unconfigured provide nil
		if r != nil {
			reporters = append(reporters, r)
		}
	}
	c := NewManager(p.Logger, tracer, reporters...)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.logger.Debug("starting crash manager", zap.Int("reporters", len(c.reporters)))
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.logger.Info("stopping crash manager")
			c.Stop()
			return nil
		},
	})
	return c
}

// NewManager builds a manager outside of fx. Start must be called before any
// registered channel is drained.
func NewManager(logger *zap.Logger, tracer telemetry.Tracer, reporters ...Reporter) *CrashManager {
	if tracer == nil {
		tracer = &telemetry.DummyTracer{}
	}
	return &CrashManager{
		logger:    logger,
		tracer:    tracer,
		reporters: reporters,
		crashChan: make(chan types.CrashMessage, 1024),
		done:      make(chan struct{}),
	}
}

func (c *CrashManager) Start() {
	c.tracer.Start()
	go c.start()
}

// Stop waits for every registered channel to close, then for the queued
// crashes to be reported.
func (c *CrashManager) Stop() {
	c.wg.Wait()
	c.logger.Debug("closing crash channel")
	close(c.crashChan)
	<-c.done
	c.tracer.End()
}

// Processed is the number of crash messages handled so far.
func (c *CrashManager) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

// RegisterCrashChan routes the messages of rCh into the manager until rCh is
// closed.
func (c *CrashManager) RegisterCrashChan(rCh <-chan types.CrashMessage) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for crash := range rCh {
			c.crashChan <- crash
		}
		c.logger.Debug("crash channel closed")
	}()
	c.logger.Debug("new crash channel registered")
}

func (c *CrashManager) start() {
	defer close(c.done)
	for msg := range c.crashChan {
		if err := c.processCrash(msg); err != nil {
			c.logger.Error("failed to process crash", zap.Uint32("ordinal", msg.Ordinal), zap.Error(err))
		}
		c.mu.Lock()
		c.processed++
		c.mu.Unlock()
	}
}

func (c *CrashManager) processCrash(msg types.CrashMessage) error {
	data, err := os.ReadFile(msg.CrashFile)
	if err != nil {
		return fmt.Errorf("failed to read crash file: %w", err)
	}
	sum := md5.Sum(data)
	crash := &Crash{CrashMessage: msg, MD5: hex.EncodeToString(sum[:])}
	if crash.Size == 0 {
		crash.Size = len(data)
	}

	c.logger.Info("unique crash",
		zap.Uint32("ordinal", msg.Ordinal),
		zap.String("signature", msg.Signature.String()),
		zap.String("path", msg.CrashFile),
		zap.String("md5", crash.MD5))

	if msg.Ordinal == 1 {
		c.tracer.AddEvent("first_crash_found", telemetry.NewEventAttributes(map[string]string{
			"baeum.crash.path":      msg.CrashFile,
			"baeum.crash.signature": msg.Signature.String(),
			"baeum.crash.ordinal":   strconv.FormatUint(uint64(msg.Ordinal), 10),
		}))
	}

	// every reporter gets a chance even if an earlier one failed
	var firstErr error
	for _, r := range c.reporters {
		if err := r.Report(context.Background(), crash); err != nil {
			c.logger.Error("crash reporter failed", zap.String("reporter", r.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", r.Name(), err)
			}
		}
	}
	return firstErr
}
