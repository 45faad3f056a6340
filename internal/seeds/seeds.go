package seeds

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/idkwim/baeum/internal/campaign"
	"github.com/idkwim/baeum/internal/types"
	"github.com/idkwim/baeum/pkg/database"
	"github.com/idkwim/baeum/pkg/watchdog"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	batchSize     = 1024
	flushInterval = time.Minute
)

// SeedManager counts test cases as they land in the campaign queue and, when
// a database is configured, records them in batches.
type SeedManager struct {
	logger   *zap.Logger
	campaign *campaign.Campaign
	watchDog *watchdog.WatchDogFactory
	persist  func(context.Context, []*database.Seed) error

	flushInterval time.Duration
	seedChan      chan types.SeedMessage
	seedChanWg    sync.WaitGroup
	cancel        context.CancelFunc
	done          chan struct{}
}

type SeedManagerParams struct {
	fx.In

	Logger          *zap.Logger
	Lifecycle       fx.Lifecycle
	Campaign        *campaign.Campaign
	WatchDogFactory *watchdog.WatchDogFactory
	DB              *gorm.DB `optional:"true"`
}

func NewSeedManager(p SeedManagerParams) *SeedManager {
	s := NewManager(p.Logger, p.Campaign, p.WatchDogFactory, p.DB)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Debug("starting seed manager", zap.String("queue", s.campaign.QueueDir()))
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Debug("stopping seed manager")
			s.Stop()
			return nil
		},
	})
	return s
}

// NewManager builds a SeedManager outside of fx; db may be nil.
func NewManager(logger *zap.Logger, c *campaign.Campaign, factory *watchdog.WatchDogFactory, db *gorm.DB) *SeedManager {
	s := &SeedManager{
		logger:        logger,
		campaign:      c,
		watchDog:      factory,
		flushInterval: flushInterval,
		seedChan:      make(chan types.SeedMessage, batchSize),
		done:          make(chan struct{}),
	}
	if db != nil {
		s.persist = func(ctx context.Context, seeds []*database.Seed) error {
			return database.AddSeeds(ctx, db, seeds)
		}
	}
	return s
}

// Start watches the queue directory of the campaign.
func (s *SeedManager) Start() error {
	watchCtx, cancel := context.WithCancel(context.Background())
	notify := make(chan string, 64)
	wd, err := s.watchDog.New(watchCtx, notify, watchdog.NotHidden)
	if err != nil {
		cancel()
		return err
	}
	if err := wd.AddDir(s.campaign.QueueDir()); err != nil {
		cancel()
		return fmt.Errorf("failed to watch queue: %w", err)
	}
	s.cancel = cancel

	seedChan := make(chan types.SeedMessage)
	s.RegisterSeedChan(seedChan)
	go func() {
		defer close(seedChan)
		for path := range notify {
			s.campaign.Log.AddSeeds(1)
			seedChan <- types.SeedMessage{CampaignID: s.campaign.ID, SeedFile: path}
		}
	}()

	go s.start()
	return nil
}

// Stop ends the queue watch and flushes pending seed records.
func (s *SeedManager) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.seedChanWg.Wait()
	close(s.seedChan)
	<-s.done
}

// RegisterSeedChan routes the messages of rCh into the manager until rCh is closed.
func (s *SeedManager) RegisterSeedChan(rCh <-chan types.SeedMessage) {
	s.seedChanWg.Add(1)
	go func() {
		defer s.seedChanWg.Done()
		for seed := range rCh {
			s.seedChan <- seed
		}
	}()
}

func (s *SeedManager) start() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]types.SeedMessage, 0, batchSize)
	for {
		select {
		case seed, ok := <-s.seedChan:
			if !ok {
				if len(batch) > 0 {
					s.processSeedMessages(batch)
				}
				return
			}
			batch = append(batch, seed)
			if len(batch) >= batchSize {
				s.processSeedMessages(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.processSeedMessages(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *SeedManager) processSeedMessages(msgs []types.SeedMessage) {
	s.logger.Debug("processing seed messages", zap.Int("seeds_count", len(msgs)))
	if s.persist == nil {
		return
	}

	rows := make([]*database.Seed, 0, len(msgs))
	for _, msg := range msgs {
		var size int64
		// the target may already have removed a transient file
		if info, err := os.Stat(msg.SeedFile); err == nil {
			size = info.Size()
		}
		rows = append(rows, database.NewSeed(msg.CampaignID, msg.SeedFile, size))
	}
	if err := s.persist(context.Background(), rows); err != nil {
		s.logger.Error("failed to save seeds to database", zap.Int("seeds_count", len(rows)), zap.Error(err))
	}
}
