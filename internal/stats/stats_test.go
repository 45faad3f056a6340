package stats

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/idkwim/baeum/internal/campaign"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSink struct {
	mu    sync.Mutex
	snaps []campaign.LogSnapshot
	err   error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Publish(_ context.Context, _ string, snap campaign.LogSnapshot, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

func newCampaign(t *testing.T) *campaign.Campaign {
	t.Helper()
	c, err := campaign.New([]string{"@@"}, filepath.Join(t.TempDir(), "run"), time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPublisherPeriodicAndFinal(t *testing.T) {
	c := newCampaign(t)
	sink := &fakeSink{}
	p := New(zap.NewNop(), c, 10*time.Millisecond, sink)
	p.Start()

	deadline := time.Now().Add(5 * time.Second)
	for sink.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no periodic publication")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Log.AddExecs(42)
	before := sink.count()
	p.Stop(context.Background())

	if sink.count() != before+1 && sink.count() != before+2 {
		t.Fatalf("stop published %d snapshots", sink.count()-before)
	}
	last := sink.snaps[len(sink.snaps)-1]
	if last.ExecCount != 42 {
		t.Errorf("final snapshot execs = %d, want 42", last.ExecCount)
	}
}

func TestPublisherLogsSinkErrors(t *testing.T) {
	c := newCampaign(t)
	core, logs := observer.New(zapcore.WarnLevel)
	p := New(zap.New(core), c, time.Hour, &fakeSink{err: errors.New("unreachable")})

	p.Publish(context.Background())

	entries := logs.FilterMessage("failed to publish stats").All()
	if len(entries) != 1 {
		t.Fatalf("got %d warnings, want 1", len(entries))
	}
	if sink := entries[0].ContextMap()["sink"]; sink != "fake" {
		t.Errorf("sink field = %v", sink)
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	snap := campaign.LogSnapshot{ExecCount: 200, UniqCrashCount: 2, CrashCount: 5, StartTime: start}
	if err := sink.Publish(context.Background(), "c1", snap, start.Add(10*time.Second)); err != nil {
		t.Fatal(err)
	}

	entries := logs.FilterMessage("campaign stats").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["campaign_id"] != "c1" || fields["execs_per_sec"] != float64(20) || fields["unique_crashes"] != uint32(2) {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestFields(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := campaign.LogSnapshot{
		SeedCount:      3,
		CrashCount:     9,
		UniqCrashCount: 4,
		ExecCount:      1000,
		TotalNode:      77,
		StartTime:      start,
	}
	want := map[string]string{
		"seeds":          "3",
		"crashes":        "9",
		"unique_crashes": "4",
		"execs":          "1000",
		"execs_per_sec":  "10.00",
		"total_nodes":    "77",
		"start_time":     "2024-05-01T12:00:00Z",
		"uptime_sec":     "100",
	}
	if diff := cmp.Diff(want, Fields(snap, start.Add(100*time.Second))); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if got := RedisKey("c1"); got != "baeum:campaign:c1:stats" {
		t.Errorf("RedisKey = %s", got)
	}
	if NewRedisSink(RedisSinkParams{}) != nil {
		t.Error("redis sink without a client must be nil")
	}
}
