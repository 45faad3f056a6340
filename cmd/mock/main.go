package main

// run a campaign against an in-process fake target

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/idkwim/baeum/internal/app"
	"github.com/idkwim/baeum/internal/fuzz"
	"github.com/idkwim/baeum/internal/types"
	"go.uber.org/fx"
)

// mockExecutor crashes on a fraction of inputs, spreading the crashes over a
// small signature space so that most of them are duplicates.
type mockExecutor struct {
	mu         sync.Mutex
	rng        *rand.Rand
	crashRate  float64
	signatures int
	delay      time.Duration
}

func (m *mockExecutor) Run(ctx context.Context, input []byte) (*types.Feedback, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fb := &types.Feedback{
		Subpath:  types.Signature(m.rng.Intn(m.signatures)),
		Duration: m.delay,
	}
	if m.rng.Float64() < m.crashRate {
		fb.Crashed = true
		fb.ExitCode = -1
	}
	if m.rng.Intn(100) == 0 {
		fb.NewNodes = 1
	}
	return fb, nil
}

// randomSource hands out limit random inputs, or runs forever when limit is 0.
type randomSource struct {
	mu    sync.Mutex
	rng   *rand.Rand
	limit int
	given int
}

func (s *randomSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.given >= s.limit {
		return nil, io.EOF
	}
	s.given++
	input := make([]byte, 1+s.rng.Intn(64))
	s.rng.Read(input)
	return input, nil
}

func main() {
	help := flag.Bool("help", false, "Show help message")
	execs := flag.Int("execs", 10000, "Number of executions before shutting down, 0 runs until interrupted")
	crashRate := flag.Float64("crash-rate", 0.05, "Fraction of executions that crash")
	signatures := flag.Int("signatures", 16, "Number of distinct crash signatures")
	delay := flag.Duration("delay", time.Millisecond, "Simulated execution time")
	flag.Parse()

	if *help {
		fmt.Println("Usage: mock [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nTARGET and OUTPUT_DIR default to a fake target and a fresh temporary directory.")
		os.Exit(0)
	}
	if *signatures < 1 {
		*signatures = 1
	}

	if os.Getenv("TARGET") == "" && os.Getenv("CAMPAIGN_FILE") == "" {
		os.Setenv("TARGET", "mock-target @@")
	}
	if os.Getenv("OUTPUT_DIR") == "" && os.Getenv("CAMPAIGN_FILE") == "" {
		os.Setenv("OUTPUT_DIR", filepath.Join(os.TempDir(), "baeum-mock-"+uuid.New().String()))
	}

	seed := time.Now().UnixNano()
	fx.New(
		app.Infrastructure,
		app.Campaign,
		fx.Provide(
			fx.Annotate(func() *mockExecutor {
				return &mockExecutor{
					rng:        rand.New(rand.NewSource(seed)),
					crashRate:  *crashRate,
					signatures: *signatures,
					delay:      *delay,
				}
			}, fx.As(new(fuzz.Executor))),
			fx.Annotate(func() *randomSource {
				return &randomSource{rng: rand.New(rand.NewSource(seed + 1)), limit: *execs}
			}, fx.As(new(fuzz.InputSource))),
		),
	).Run()
}
