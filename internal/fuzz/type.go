package fuzz

import (
	"context"

	"github.com/idkwim/baeum/internal/types"
)

// Executor runs the target once on input and reports what happened.
//
// Run must return ctx.Err() (or an error wrapping it) when ctx is done before
// the execution finished. A target that crashes or times out is not an error;
// both are described by the returned Feedback.
type Executor interface {
	Run(ctx context.Context, input []byte) (*types.Feedback, error)
}

// InputSource hands out test cases to workers. io.EOF means the source is
// exhausted and the worker should exit.
type InputSource interface {
	Next(ctx context.Context) ([]byte, error)
}
