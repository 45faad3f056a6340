package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// campaignFile mirrors CampaignConfig on disk; the timeout is spelled as a
// Go duration ("500ms") or a bare number of milliseconds.
type campaignFile struct {
	Target    []string `yaml:"target"`
	OutputDir string   `yaml:"output_dir"`
	SeedPath  string   `yaml:"seed"`
	Timeout   string   `yaml:"timeout"`
}

// LoadCampaignFile parses a YAML campaign description such as
//
//	target: ["./objdump", "-d", "@@"]
//	output_dir: /work/objdump-run1
//	timeout: 1000
func LoadCampaignFile(path string) (*CampaignConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}

	var raw campaignFile
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse campaign file %s: %w", path, err)
	}

	timeout, err := parseTimeout(raw.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout in campaign file %s: %w", path, err)
	}

	return &CampaignConfig{
		Target:    raw.Target,
		OutputDir: raw.OutputDir,
		SeedPath:  raw.SeedPath,
		Timeout:   timeout,
	}, nil
}

func parseTimeout(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	if ms := parseInt(val, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(val)
}
