package campaign

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/idkwim/baeum/internal/types"
)

const (
	Placeholder  = "@@"                  // replaced by the input path in the command template
	TracerBinary = "qemu-trace-coverage" // expected next to the running harness

	QueueDirName = "queue"
	CrashDirName = "crash"
	StdinName    = ".stdin"
	InputName    = ".input"
)

// ErrOutputExists guards against clobbering the queue and crashes of an earlier campaign.
var ErrOutputExists = errors.New("output directory already exists")

// Campaign is the workspace and resolved command of one fuzzing run. It is
// built once and not modified afterwards; only Log changes.
type Campaign struct {
	ID        string
	Args      []string // Args[0] is always the coverage tracer
	InputPath string
	OutputDir string
	PathBase  string
	Stdin     *os.File // scratch file fed to targets that read standard input
	Timeout   time.Duration
	Log       *Log

	usesStdin bool
}

// New creates the workspace under outputDir and resolves the command template.
// outputDir must not exist. An empty inputPath defaults to outputDir/.input.
func New(args []string, outputDir string, timeout time.Duration, inputPath string) (*Campaign, error) {
	if _, err := os.Stat(outputDir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrOutputExists, outputDir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat output directory %s: %w", outputDir, err)
	}

	if err := os.Mkdir(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	stdin, err := layoutWorkspace(outputDir)
	if err != nil {
		// the directory is ours, do not leave half a workspace behind
		os.RemoveAll(outputDir)
		return nil, err
	}

	if inputPath == "" {
		inputPath = filepath.Join(outputDir, InputName)
	}
	pathBase := PathBase()
	resolved, usesStdin := resolveArgs(args, inputPath, pathBase)
	if usesStdin {
		inputPath = filepath.Join(outputDir, StdinName)
	}

	return &Campaign{
		ID:        uuid.New().String(),
		Args:      resolved,
		InputPath: inputPath,
		OutputDir: outputDir,
		PathBase:  pathBase,
		Stdin:     stdin,
		Timeout:   timeout,
		Log:       NewLog(),
		usesStdin: usesStdin,
	}, nil
}

// NewWithoutFilename is New with the input path defaulted to outputDir/.input.
func NewWithoutFilename(args []string, outputDir string, timeout time.Duration) (*Campaign, error) {
	return New(args, outputDir, timeout, filepath.Join(outputDir, InputName))
}

func layoutWorkspace(outputDir string) (*os.File, error) {
	for _, dir := range []string{QueueDirName, CrashDirName} {
		if err := os.Mkdir(filepath.Join(outputDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	stdin, err := os.Create(filepath.Join(outputDir, StdinName))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin scratch file: %w", err)
	}
	return stdin, nil
}

// resolveArgs substitutes every placeholder with inputPath and prepends the
// tracer. usesStdin is true when the template has no placeholder.
func resolveArgs(template []string, inputPath, pathBase string) (resolved []string, usesStdin bool) {
	usesStdin = true
	resolved = make([]string, 0, len(template)+1)
	resolved = append(resolved, TracerPath(pathBase))
	for _, arg := range template {
		if arg == Placeholder {
			usesStdin = false
			arg = inputPath
		}
		resolved = append(resolved, arg)
	}
	return resolved, usesStdin
}

// PathBase is the directory holding the running harness binary. A bare
// argv[0] (started through $PATH) yields ".".
func PathBase() string {
	if len(os.Args) == 0 {
		return ""
	}
	return filepath.Dir(os.Args[0])
}

// TracerPath is kept as a plain join so that a relative base such as "."
// still yields a path exec will not look up in $PATH.
func TracerPath(pathBase string) string {
	return pathBase + string(filepath.Separator) + TracerBinary
}

func (c *Campaign) UsesStdin() bool { return c.usesStdin }
func (c *Campaign) QueueDir() string { return filepath.Join(c.OutputDir, QueueDirName) }
func (c *Campaign) CrashDir() string { return filepath.Join(c.OutputDir, CrashDirName) }

func (c *Campaign) CrashPath(ordinal uint32) string {
	return filepath.Join(c.CrashDir(), fmt.Sprintf("tc-%d", ordinal))
}

// SaveCrash records a crashing input and writes it to crash/tc-<n> if its
// coverage signature is new. Duplicates return a zero result and no error.
func (c *Campaign) SaveCrash(data []byte, fb *types.Feedback) (CrashResult, error) {
	res, err := c.Log.RecordCrash(data, fb, c.writeCrash)
	if err != nil || !res.Unique {
		return res, err
	}
	res.Path = c.CrashPath(res.Ordinal)
	return res, nil
}

// writeCrash removes a file it created but could not fill, so crash/ never
// holds a tc-<n> whose ordinal was released.
func (c *Campaign) writeCrash(ordinal uint32, data []byte) error {
	path := c.CrashPath(ordinal)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// PrepareInput places the next test case where the target will read it. For
// stdin targets the scratch file is rewritten and rewound. Callers sharing a
// campaign must serialize PrepareInput with the execution that consumes it.
func (c *Campaign) PrepareInput(data []byte) error {
	if !c.usesStdin {
		if err := os.WriteFile(c.InputPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write input file: %w", err)
		}
		return nil
	}
	if err := c.Stdin.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate stdin file: %w", err)
	}
	if _, err := c.Stdin.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write stdin file: %w", err)
	}
	if _, err := c.Stdin.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind stdin file: %w", err)
	}
	return nil
}

func (c *Campaign) Close() error {
	if c.Stdin == nil {
		return nil
	}
	return c.Stdin.Close()
}
