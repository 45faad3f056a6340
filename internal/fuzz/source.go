package fuzz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/idkwim/baeum/config"
	"github.com/idkwim/baeum/internal/campaign"
)

// CorpusSource replays the initial seed and every queue entry round-robin.
// The queue directory is rescanned at the start of each cycle so entries
// added by other tools are picked up.
type CorpusSource struct {
	queueDir string
	seed     []byte

	mu      sync.Mutex
	entries []string
	pos     int
}

// NewCorpusSource reads seedPath up front, before any worker can overwrite
// it with a prepared input. A missing seed file is not an error.
func NewCorpusSource(queueDir, seedPath string) (*CorpusSource, error) {
	s := &CorpusSource{queueDir: queueDir}
	if seedPath != "" {
		data, err := os.ReadFile(seedPath)
		switch {
		case err == nil:
			s.seed = data
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read seed %s: %w", seedPath, err)
		}
	}
	return s, nil
}

// ProvideCorpusSource wires a CorpusSource to the campaign workspace.
func ProvideCorpusSource(cfg *config.AppConfig, c *campaign.Campaign) (InputSource, error) {
	s, err := NewCorpusSource(c.QueueDir(), cfg.Campaign.SeedPath)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Next never returns io.EOF. With an empty corpus it hands out an empty input.
func (s *CorpusSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.pos == 0 {
			if err := s.rescan(); err != nil {
				return nil, err
			}
		}
		total := len(s.entries)
		if s.seed != nil {
			total++
		}
		if total == 0 {
			return []byte{}, nil
		}

		idx := s.pos
		s.pos = (s.pos + 1) % total
		if s.seed != nil {
			if idx == 0 {
				return bytes.Clone(s.seed), nil
			}
			idx--
		}

		data, err := os.ReadFile(s.entries[idx])
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read queue entry: %w", err)
		}
		// removed since the last scan, restart the cycle
		s.pos = 0
	}
}

func (s *CorpusSource) rescan() error {
	dirents, err := os.ReadDir(s.queueDir)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	s.entries = s.entries[:0]
	for _, d := range dirents {
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		s.entries = append(s.entries, filepath.Join(s.queueDir, d.Name()))
	}
	sort.Strings(s.entries)
	return nil
}
