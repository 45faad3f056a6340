package types

import (
	"fmt"
	"time"
)

// Signature is an opaque summary of the coverage path taken by one execution.
// Only equality matters; the value is never interpreted.
type Signature uint64

func (s Signature) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}

// Feedback is what an executor reports back for a single test case.
type Feedback struct {
	Subpath  Signature     // coverage signature, the dedup key for crashes
	Crashed  bool          // target died on a signal we did not send
	TimedOut bool          // per-execution deadline fired
	ExitCode int           // -1 when the process was signaled
	NewNodes uint32        // coverage nodes discovered by this execution
	Duration time.Duration // wall time of the execution
}
