package config

import (
	"fmt"
	"time"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/topology"
)

// Experiments expands the sweep into one experiment config per entry and size.
func Experiments(cfg SweepConfig) ([]experiment.Config, error) {
	out := make([]experiment.Config, 0)
	for i, entry := range cfg.Experiments {
		family, err := plan.ParseFamily(entry.Family)
		if err != nil {
			return nil, fmt.Errorf("experiments[%d]: %w", i, err)
		}
		layout, err := topology.ParseLayout(entry.Layout)
		if err != nil {
			return nil, fmt.Errorf("experiments[%d]: %w", i, err)
		}
		var jitter time.Duration
		if entry.Jitter != "" {
			if jitter, err = time.ParseDuration(entry.Jitter); err != nil {
				return nil, fmt.Errorf("experiments[%d] jitter: %w", i, err)
			}
		}
		for _, n := range entry.Sizes {
			exp := experiment.DefaultConfig()
			exp.Family = family
			exp.Layout = layout
			exp.N = n
			exp.Origin = entry.Origin
			if entry.Branching > 0 {
				exp.Branching = entry.Branching
			}
			if entry.Compaction > 0 {
				exp.Compaction = entry.Compaction
			}
			exp.FullSizes = entry.FullSizes
			exp.Groups = entry.Groups
			exp.Contiguous = entry.Contiguous
			exp.Seed = entry.Seed
			exp.Jitter = jitter
			exp.Runs = cfg.Runs
			if entry.Runs > 0 {
				exp.Runs = entry.Runs
			}
			if cfg.Transport != "" {
				exp.Transport = experiment.Transport(cfg.Transport)
			}
			exp.ResultsDir = cfg.ResultsDir
			if err := exp.Validate(); err != nil {
				return nil, fmt.Errorf("experiments[%d] n=%d: %w", i, n, err)
			}
			out = append(out, exp)
		}
	}
	return out, nil
}
