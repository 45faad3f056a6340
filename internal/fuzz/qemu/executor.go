package qemu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/idkwim/baeum/internal/campaign"
	"github.com/idkwim/baeum/internal/types"
	"go.uber.org/zap"
)

// DefaultGrace is how long a timed out target gets to exit after SIGINT
// before it is killed.
const DefaultGrace = 500 * time.Millisecond

// Executor runs the resolved campaign command under the coverage tracer.
//
// The tracer's standard output is treated as an opaque description of the
// path taken; its xxhash becomes the Feedback signature.
type Executor struct {
	campaign *campaign.Campaign
	logger   *zap.Logger
	grace    time.Duration

	mu    sync.Mutex // one input path per campaign
	paths map[types.Signature]struct{}
}

func NewExecutor(c *campaign.Campaign, logger *zap.Logger) *Executor {
	return &Executor{
		campaign: c,
		logger:   logger,
		grace:    DefaultGrace,
		paths:    make(map[types.Signature]struct{}),
	}
}

// ProvideExecutor is NewExecutor for fx; it refuses to start without a tracer.
func ProvideExecutor(c *campaign.Campaign, logger *zap.Logger) (*Executor, error) {
	e := NewExecutor(c, logger)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks that the first argument is an executable file.
func (e *Executor) Validate() error {
	if len(e.campaign.Args) == 0 {
		return errors.New("empty command")
	}
	info, err := os.Stat(e.campaign.Args[0])
	if err != nil {
		return fmt.Errorf("coverage tracer not usable: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("coverage tracer %s is not executable", e.campaign.Args[0])
	}
	return nil
}

// Run writes input where the target reads it and executes the target once.
// At the campaign timeout the target gets SIGINT, then SIGKILL after the
// grace period.
func (e *Executor) Run(ctx context.Context, input []byte) (*types.Feedback, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.campaign.PrepareInput(input); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.campaign.Timeout)
	defer cancel()

	args := e.campaign.Args
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGINT) }
	cmd.WaitDelay = e.grace
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if e.campaign.UsesStdin() {
		cmd.Stdin = e.campaign.Stdin
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if cmd.ProcessState == nil {
		return nil, fmt.Errorf("failed to start target: %w", err)
	}
	var exitErr *exec.ExitError
	if err != nil && !timedOut && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		return nil, fmt.Errorf("failed to run target: %w", err)
	}

	fb := &types.Feedback{
		Subpath:  types.Signature(xxhash.Sum64(stdout.Bytes())),
		TimedOut: timedOut,
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: duration,
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		// our own SIGINT or SIGKILL after the deadline is a timeout, not a crash
		fb.Crashed = !timedOut
		if fb.Crashed {
			e.logger.Debug("target crashed", zap.String("signal", ws.Signal().String()))
		}
	}

	if _, seen := e.paths[fb.Subpath]; !seen {
		e.paths[fb.Subpath] = struct{}{}
		fb.NewNodes = 1
	}
	return fb, nil
}
