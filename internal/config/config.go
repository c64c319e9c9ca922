package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// SweepConfig lists experiments to run, each over several participant counts.
type SweepConfig struct {
	Name       string `toml:"name" yaml:"name"`
	ResultsDir string `toml:"results_dir" yaml:"results_dir"`
	// Parallel bounds concurrently running experiments; 0 means one per CPU.
	Parallel    int               `toml:"parallel" yaml:"parallel"`
	Runs        int               `toml:"runs" yaml:"runs"`
	Transport   string            `toml:"transport" yaml:"transport"`
	Experiments []ExperimentEntry `toml:"experiments" yaml:"experiments"`
}

// ExperimentEntry is one pattern configuration swept over Sizes.
type ExperimentEntry struct {
	Family     string `toml:"family" yaml:"family"`
	Layout     string `toml:"layout" yaml:"layout"`
	Sizes      []int  `toml:"sizes" yaml:"sizes"`
	Origin     int    `toml:"origin" yaml:"origin"`
	Branching  int    `toml:"branching" yaml:"branching"`
	Compaction int    `toml:"compaction" yaml:"compaction"`
	FullSizes  bool   `toml:"full_sizes" yaml:"full_sizes"`
	Groups     int    `toml:"groups" yaml:"groups"`
	Contiguous bool   `toml:"contiguous" yaml:"contiguous"`
	Seed       int64  `toml:"seed" yaml:"seed"`
	// Runs overrides the sweep-wide run count when set.
	Runs   int    `toml:"runs" yaml:"runs"`
	Jitter string `toml:"jitter" yaml:"jitter"`
}

// LoadSweep reads a sweep file; .yaml and .yml are YAML, anything else TOML.
func LoadSweep(path string) (SweepConfig, error) {
	var cfg SweepConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return SweepConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return SweepConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if cfg.Runs == 0 {
		cfg.Runs = 1
	}
	if err := ValidateSweep(cfg); err != nil {
		return SweepConfig{}, err
	}
	return cfg, nil
}

func ValidateSweep(cfg SweepConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("sweep config missing name")
	}
	if cfg.Parallel < 0 {
		return fmt.Errorf("sweep config parallel must not be negative")
	}
	if cfg.Runs < 1 {
		return fmt.Errorf("sweep config runs must be at least 1")
	}
	if len(cfg.Experiments) == 0 {
		return fmt.Errorf("sweep config has no experiments")
	}
	for i, entry := range cfg.Experiments {
		if err := ValidateExperimentEntry(entry); err != nil {
			return fmt.Errorf("experiments[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateExperimentEntry(entry ExperimentEntry) error {
	if strings.TrimSpace(entry.Family) == "" {
		return fmt.Errorf("family is required")
	}
	if len(entry.Sizes) == 0 {
		return fmt.Errorf("sizes are required")
	}
	for _, n := range entry.Sizes {
		if n < 2 {
			return fmt.Errorf("size %d is below 2", n)
		}
	}
	if entry.Jitter != "" {
		if _, err := time.ParseDuration(entry.Jitter); err != nil {
			return fmt.Errorf("jitter: %w", err)
		}
	}
	return nil
}
