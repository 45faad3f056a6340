package campaign

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/idkwim/baeum/config"
	"github.com/idkwim/baeum/internal/types"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func newTestCampaign(t *testing.T, args []string, input string) *Campaign {
	t.Helper()
	out := filepath.Join(t.TempDir(), "run1")
	c, err := New(args, out, time.Second, input)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewCreatesWorkspace(t *testing.T) {
	c := newTestCampaign(t, []string{"--file", "@@"}, "")

	for _, dir := range []string{c.OutputDir, c.QueueDir(), c.CrashDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
	if _, err := os.Stat(filepath.Join(c.OutputDir, StdinName)); err != nil {
		t.Errorf("stdin scratch file missing: %v", err)
	}
	if c.Stdin == nil {
		t.Fatal("expected stdin descriptor to be retained")
	}
	if c.ID == "" {
		t.Error("expected campaign id")
	}
	if c.Timeout != time.Second {
		t.Errorf("timeout = %v, want 1s", c.Timeout)
	}
}

func TestNewRejectsExistingOutput(t *testing.T) {
	out := t.TempDir() // already exists
	marker := filepath.Join(out, "keep")
	if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := New([]string{"@@"}, out, time.Second, "")
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("err = %v, want ErrOutputExists", err)
	}
	if !strings.Contains(err.Error(), out) {
		t.Errorf("error %q does not name %s", err, out)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "keep" {
		t.Errorf("existing directory was modified: %v", entries)
	}
}

func TestSecondConstructionFailsWithoutSideEffects(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "a")
	c, err := New([]string{"@@"}, first, time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := New([]string{"@@"}, first, time.Second, ""); !errors.Is(err, ErrOutputExists) {
		t.Fatalf("err = %v, want ErrOutputExists", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("unexpected entries after failed construction: %v", entries)
	}
}

func TestResolveArgs(t *testing.T) {
	base := PathBase()
	tracer := TracerPath(base)

	t.Run("placeholder replaced by seed path", func(t *testing.T) {
		c := newTestCampaign(t, []string{"--file", "@@"}, "/tmp/seed")
		want := []string{tracer, "--file", "/tmp/seed"}
		if diff := cmp.Diff(want, c.Args); diff != "" {
			t.Errorf("args mismatch (-want +got):\n%s", diff)
		}
		if c.InputPath != "/tmp/seed" {
			t.Errorf("input path = %s", c.InputPath)
		}
		if c.UsesStdin() {
			t.Error("expected file input")
		}
	})

	t.Run("every placeholder is replaced", func(t *testing.T) {
		c := newTestCampaign(t, []string{"@@", "-o", "@@"}, "/tmp/seed")
		want := []string{tracer, "/tmp/seed", "-o", "/tmp/seed"}
		if diff := cmp.Diff(want, c.Args); diff != "" {
			t.Errorf("args mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no placeholder reads stdin", func(t *testing.T) {
		c := newTestCampaign(t, []string{"--stdin"}, "")
		want := []string{tracer, "--stdin"}
		if diff := cmp.Diff(want, c.Args); diff != "" {
			t.Errorf("args mismatch (-want +got):\n%s", diff)
		}
		if got, want := c.InputPath, filepath.Join(c.OutputDir, StdinName); got != want {
			t.Errorf("input path = %s, want %s", got, want)
		}
		if !c.UsesStdin() {
			t.Error("expected stdin input")
		}
	})

	t.Run("stdin wins over a supplied seed path", func(t *testing.T) {
		c := newTestCampaign(t, []string{"--stdin"}, "/tmp/seed")
		if got, want := c.InputPath, filepath.Join(c.OutputDir, StdinName); got != want {
			t.Errorf("input path = %s, want %s", got, want)
		}
	})

	t.Run("without filename defaults to .input", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "run1")
		c, err := NewWithoutFilename([]string{"--file", "@@"}, out, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		input := filepath.Join(out, InputName)
		want := []string{tracer, "--file", input}
		if diff := cmp.Diff(want, c.Args); diff != "" {
			t.Errorf("args mismatch (-want +got):\n%s", diff)
		}
		if c.InputPath != input {
			t.Errorf("input path = %s, want %s", c.InputPath, input)
		}
	})
}

func TestTracerPath(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"/opt/baeum", "/opt/baeum/qemu-trace-coverage"},
		{".", "./qemu-trace-coverage"},
		{"", "/qemu-trace-coverage"},
	}
	for _, tt := range tests {
		if got := TracerPath(tt.base); got != tt.want {
			t.Errorf("TracerPath(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestSaveCrashWritesUniqueCrashes(t *testing.T) {
	c := newTestCampaign(t, []string{"@@"}, "")

	reports := []struct {
		data string
		sig  types.Signature
	}{
		{"first", 10},
		{"dup-of-first", 10},
		{"second", 20},
		{"third", 30},
		{"dup-of-second", 20},
	}
	var unique []CrashResult
	for _, r := range reports {
		res, err := c.SaveCrash([]byte(r.data), &types.Feedback{Subpath: r.sig, Crashed: true})
		if err != nil {
			t.Fatalf("SaveCrash(%s): %v", r.data, err)
		}
		if res.Unique {
			unique = append(unique, res)
		}
	}

	want := []CrashResult{
		{Unique: true, Ordinal: 1, Path: c.CrashPath(1)},
		{Unique: true, Ordinal: 2, Path: c.CrashPath(2)},
		{Unique: true, Ordinal: 3, Path: c.CrashPath(3)},
	}
	if diff := cmp.Diff(want, unique); diff != "" {
		t.Errorf("unique results mismatch (-want +got):\n%s", diff)
	}

	for ordinal, content := range map[uint32]string{1: "first", 2: "second", 3: "third"} {
		got, err := os.ReadFile(c.CrashPath(ordinal))
		if err != nil {
			t.Fatalf("tc-%d: %v", ordinal, err)
		}
		if string(got) != content {
			t.Errorf("tc-%d = %q, want %q", ordinal, got, content)
		}
	}

	entries, _ := os.ReadDir(c.CrashDir())
	snap := c.Log.Snapshot()
	if int(snap.UniqCrashCount) != len(entries) {
		t.Errorf("uniq crash count %d, files %d", snap.UniqCrashCount, len(entries))
	}
	if snap.CrashCount != uint32(len(reports)) {
		t.Errorf("crash count = %d, want %d", snap.CrashCount, len(reports))
	}
}

func TestPrepareInput(t *testing.T) {
	t.Run("file target", func(t *testing.T) {
		c := newTestCampaign(t, []string{"@@"}, "")
		if err := c.PrepareInput([]byte("hello")); err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(c.InputPath)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "hello" {
			t.Errorf("input = %q", got)
		}
	})

	t.Run("stdin target is rewound", func(t *testing.T) {
		c := newTestCampaign(t, nil, "")
		if err := c.PrepareInput([]byte("a longer first input")); err != nil {
			t.Fatal(err)
		}
		if err := c.PrepareInput([]byte("short")); err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(c.Stdin)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "short" {
			t.Errorf("stdin = %q, want %q", got, "short")
		}
	})
}

func TestNewCampaignFromConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run1")
	lc := fxtest.NewLifecycle(t)
	cfg := &config.AppConfig{Campaign: config.CampaignConfig{
		Target:    []string{"./objdump", "-d", "@@"},
		OutputDir: out,
		Timeout:   250 * time.Millisecond,
	}}

	c, err := NewCampaign(CampaignParams{Config: cfg, Logger: zaptest.NewLogger(t), Lifecycle: lc})
	if err != nil {
		t.Fatal(err)
	}
	if c.InputPath != filepath.Join(out, InputName) {
		t.Errorf("input path = %s", c.InputPath)
	}
	if c.Timeout != 250*time.Millisecond {
		t.Errorf("timeout = %v", c.Timeout)
	}
	lc.RequireStart().RequireStop()

	// a second campaign on the same directory fails startup
	_, err = NewCampaign(CampaignParams{Config: cfg, Logger: zaptest.NewLogger(t), Lifecycle: fxtest.NewLifecycle(t)})
	if !errors.Is(err, ErrOutputExists) {
		t.Errorf("err = %v, want ErrOutputExists", err)
	}
}

func TestSaveCrashRemovesPartialFile(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	c := newTestCampaign(t, []string{"@@"}, "")
	// every write through tc-1 fails with ENOSPC after the open succeeds
	if err := os.Symlink("/dev/full", c.CrashPath(1)); err != nil {
		t.Fatal(err)
	}

	res, err := c.SaveCrash([]byte("crashing input"), &types.Feedback{Subpath: 1, Crashed: true})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if res.Unique {
		t.Error("failed write reported as unique")
	}
	if _, err := os.Lstat(c.CrashPath(1)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("tc-1 left behind after failed write: %v", err)
	}

	entries, err := os.ReadDir(c.CrashDir())
	if err != nil {
		t.Fatal(err)
	}
	if snap := c.Log.Snapshot(); int(snap.UniqCrashCount) != len(entries) {
		t.Errorf("uniq crash count %d, files %d", snap.UniqCrashCount, len(entries))
	}

	// the released ordinal is reused by the retry
	res, err = c.SaveCrash([]byte("crashing input"), &types.Feedback{Subpath: 1, Crashed: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Unique || res.Ordinal != 1 {
		t.Errorf("retry = %+v, want unique ordinal 1", res)
	}
	got, err := os.ReadFile(c.CrashPath(1))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "crashing input" {
		t.Errorf("tc-1 = %q", got)
	}
}
