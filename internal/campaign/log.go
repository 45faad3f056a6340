package campaign

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/idkwim/baeum/internal/types"
)

// ErrPersist is returned when a crash was new but its artifact could not be written.
var ErrPersist = errors.New("failed to persist crash")

// PersistFunc writes the bytes of the unique crash numbered ordinal.
type PersistFunc func(ordinal uint32, data []byte) error

// CrashResult is the outcome of recording one crash.
type CrashResult struct {
	Unique  bool   // false for a signature that was already recorded
	Ordinal uint32 // unique-crash sequence number, 0 for duplicates
	Path    string // set by Campaign.SaveCrash for unique crashes
}

// Log is the shared run state of a campaign. Every field is guarded by mu;
// there is no field-level locking.
type Log struct {
	mu sync.Mutex

	seedCount      uint32
	crashCount     uint32
	uniqCrashCount uint32
	crashPaths     map[types.Signature]struct{}
	startTime      time.Time
	execCount      uint64
	totalNode      uint32
}

func NewLog() *Log {
	return &Log{
		crashPaths: make(map[types.Signature]struct{}),
		startTime:  time.Now(),
	}
}

// RecordCrash counts a crash and, if its coverage signature has not been seen
// before, assigns it the next ordinal and persists it.
//
// The whole sequence runs under the log's mutex, including persist, so the
// number of files under crash/ always matches the unique crash count. If
// persist fails the signature and the ordinal are released again, and the
// next crash with the same signature retries the write.
func (l *Log) RecordCrash(data []byte, fb *types.Feedback, persist PersistFunc) (CrashResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.crashCount++
	if _, seen := l.crashPaths[fb.Subpath]; seen {
		return CrashResult{}, nil
	}
	l.crashPaths[fb.Subpath] = struct{}{}
	l.uniqCrashCount++
	ordinal := l.uniqCrashCount

	if persist != nil {
		if err := persist(ordinal, data); err != nil {
			delete(l.crashPaths, fb.Subpath)
			l.uniqCrashCount--
			return CrashResult{}, fmt.Errorf("%w tc-%d (signature %s): %w", ErrPersist, ordinal, fb.Subpath, err)
		}
	}
	return CrashResult{Unique: true, Ordinal: ordinal}, nil
}

func (l *Log) AddSeeds(n uint32) {
	l.mu.Lock()
	l.seedCount += n
	l.mu.Unlock()
}

func (l *Log) AddExecs(n uint64) {
	l.mu.Lock()
	l.execCount += n
	l.mu.Unlock()
}

func (l *Log) AddNodes(n uint32) {
	l.mu.Lock()
	l.totalNode += n
	l.mu.Unlock()
}

// Seen reports whether a crash with this signature has been recorded.
func (l *Log) Seen(sig types.Signature) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.crashPaths[sig]
	return ok
}

// LogSnapshot is a consistent copy of the counters at one point in time.
type LogSnapshot struct {
	SeedCount      uint32
	CrashCount     uint32
	UniqCrashCount uint32
	CrashPaths     int
	StartTime      time.Time
	ExecCount      uint64
	TotalNode      uint32
}

func (l *Log) Snapshot() LogSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LogSnapshot{
		SeedCount:      l.seedCount,
		CrashCount:     l.crashCount,
		UniqCrashCount: l.uniqCrashCount,
		CrashPaths:     len(l.crashPaths),
		StartTime:      l.startTime,
		ExecCount:      l.execCount,
		TotalNode:      l.totalNode,
	}
}

func (s LogSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// ExecsPerSecond is the average throughput since the campaign started.
func (s LogSnapshot) ExecsPerSecond(now time.Time) float64 {
	age := s.Age(now).Seconds()
	if age <= 0 {
		return 0
	}
	return float64(s.ExecCount) / age
}
