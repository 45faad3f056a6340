package campaign

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/idkwim/baeum/internal/types"
)

func feedback(sig uint64) *types.Feedback {
	return &types.Feedback{Subpath: types.Signature(sig), Crashed: true}
}

func TestRecordCrashOrdinalsFollowFirstOccurrence(t *testing.T) {
	l := NewLog()
	var persisted []uint32
	persist := func(ordinal uint32, data []byte) error {
		persisted = append(persisted, ordinal)
		return nil
	}

	sigs := []uint64{7, 3, 7, 9, 3, 3, 1, 9}
	var ordinals []uint32
	for _, sig := range sigs {
		res, err := l.RecordCrash(nil, feedback(sig), persist)
		if err != nil {
			t.Fatal(err)
		}
		ordinals = append(ordinals, res.Ordinal)
	}

	// 7 -> 1, 3 -> 2, 9 -> 3, 1 -> 4; duplicates get 0
	want := []uint32{1, 2, 0, 3, 0, 0, 4, 0}
	if diff := cmp.Diff(want, ordinals); diff != "" {
		t.Errorf("ordinals mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3, 4}, persisted); diff != "" {
		t.Errorf("persisted ordinals mismatch (-want +got):\n%s", diff)
	}

	snap := l.Snapshot()
	if snap.CrashCount != uint32(len(sigs)) {
		t.Errorf("crash count = %d, want %d", snap.CrashCount, len(sigs))
	}
	if snap.UniqCrashCount != 4 || snap.CrashPaths != 4 {
		t.Errorf("uniq = %d, paths = %d, want 4", snap.UniqCrashCount, snap.CrashPaths)
	}
}

func TestRecordCrashDuplicateNeverPersists(t *testing.T) {
	l := NewLog()
	calls := 0
	persist := func(uint32, []byte) error { calls++; return nil }

	if _, err := l.RecordCrash([]byte("a"), feedback(5), persist); err != nil {
		t.Fatal(err)
	}
	for range 10 {
		res, err := l.RecordCrash([]byte("b"), feedback(5), persist)
		if err != nil {
			t.Fatal(err)
		}
		if res.Unique {
			t.Fatal("duplicate reported as unique")
		}
	}
	if calls != 1 {
		t.Errorf("persist called %d times, want 1", calls)
	}
	if got := l.Snapshot().UniqCrashCount; got != 1 {
		t.Errorf("uniq crash count = %d, want 1", got)
	}
	if !l.Seen(5) || l.Seen(6) {
		t.Error("Seen does not reflect recorded signatures")
	}
}

func TestRecordCrashPersistFailure(t *testing.T) {
	l := NewLog()
	diskErr := errors.New("disk full")
	fail := func(uint32, []byte) error { return diskErr }

	res, err := l.RecordCrash([]byte("x"), feedback(42), fail)
	if !errors.Is(err, ErrPersist) || !errors.Is(err, diskErr) {
		t.Fatalf("err = %v, want ErrPersist wrapping disk error", err)
	}
	if res.Unique {
		t.Error("failed crash must not be reported as unique")
	}

	snap := l.Snapshot()
	if snap.CrashCount != 1 {
		t.Errorf("crash count = %d, want 1", snap.CrashCount)
	}
	if snap.UniqCrashCount != 0 || snap.CrashPaths != 0 {
		t.Errorf("uniq = %d, paths = %d, want 0 after rollback", snap.UniqCrashCount, snap.CrashPaths)
	}

	// the same signature is retried and takes the released ordinal
	res, err = l.RecordCrash([]byte("x"), feedback(42), func(uint32, []byte) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if !res.Unique || res.Ordinal != 1 {
		t.Errorf("retry = %+v, want unique ordinal 1", res)
	}
}

func TestCountersAndSnapshot(t *testing.T) {
	l := NewLog()
	l.AddSeeds(3)
	l.AddExecs(100)
	l.AddExecs(50)
	l.AddNodes(7)

	snap := l.Snapshot()
	if snap.SeedCount != 3 || snap.ExecCount != 150 || snap.TotalNode != 7 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	now := snap.StartTime.Add(10 * time.Second)
	if got := snap.Age(now); got != 10*time.Second {
		t.Errorf("age = %v", got)
	}
	if got := snap.ExecsPerSecond(now); got != 15 {
		t.Errorf("execs/s = %v, want 15", got)
	}
	if got := snap.ExecsPerSecond(snap.StartTime); got != 0 {
		t.Errorf("execs/s at start = %v, want 0", got)
	}
}

// Workers race on a fixed set of signatures with random duplication. The
// crash file content encodes its signature so every file can be attributed.
func TestSaveCrashConcurrentStress(t *testing.T) {
	const (
		workers    = 16
		signatures = 64
		perWorker  = 400
	)
	c, err := New([]string{"@@"}, filepath.Join(t.TempDir(), "stress"), time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range perWorker {
				sig := uint64(rng.Intn(signatures))
				data := binary.LittleEndian.AppendUint64(nil, sig)
				c.Log.AddExecs(1)
				if _, err := c.SaveCrash(data, feedback(sig)); err != nil {
					t.Errorf("SaveCrash: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	snap := c.Log.Snapshot()
	if snap.CrashCount != workers*perWorker {
		t.Errorf("crash count = %d, want %d", snap.CrashCount, workers*perWorker)
	}
	if snap.ExecCount != workers*perWorker {
		t.Errorf("exec count = %d, want %d", snap.ExecCount, workers*perWorker)
	}
	// 6400 draws over 64 values: every signature shows up
	if snap.UniqCrashCount != signatures || snap.CrashPaths != signatures {
		t.Fatalf("uniq = %d, paths = %d, want %d", snap.UniqCrashCount, snap.CrashPaths, signatures)
	}

	entries, err := os.ReadDir(c.CrashDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != signatures {
		t.Fatalf("%d crash files, want %d", len(entries), signatures)
	}

	seen := make(map[uint64]uint32)
	for ordinal := uint32(1); ordinal <= signatures; ordinal++ {
		data, err := os.ReadFile(c.CrashPath(ordinal))
		if err != nil {
			t.Fatalf("missing tc-%d: %v", ordinal, err)
		}
		if len(data) != 8 {
			t.Fatalf("tc-%d has %d bytes", ordinal, len(data))
		}
		sig := binary.LittleEndian.Uint64(data)
		if prev, dup := seen[sig]; dup {
			t.Errorf("signature %d written twice: tc-%d and tc-%d", sig, prev, ordinal)
		}
		seen[sig] = ordinal
	}
	if _, err := os.Stat(c.CrashPath(signatures + 1)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("unexpected tc-%d", signatures+1)
	}
}

func TestRecordCrashConcurrentOrdinalsAreDistinct(t *testing.T) {
	l := NewLog()
	var mu sync.Mutex
	written := make(map[uint32][]byte)
	persist := func(ordinal uint32, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := written[ordinal]; ok {
			return fmt.Errorf("ordinal %d reused", ordinal)
		}
		written[ordinal] = data
		return nil
	}

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				sig := uint64(w*100 + i) // all distinct
				if _, err := l.RecordCrash([]byte(fmt.Sprint(sig)), feedback(sig), persist); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	if len(written) != 800 {
		t.Fatalf("%d ordinals written, want 800", len(written))
	}
	for ordinal := uint32(1); ordinal <= 800; ordinal++ {
		if _, ok := written[ordinal]; !ok {
			t.Errorf("ordinal %d skipped", ordinal)
		}
	}
	if bytes.Equal(written[1], written[2]) {
		t.Error("distinct signatures produced identical artifacts")
	}
}
