package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/topology"
)

type runFileConfig struct {
	Family     string `toml:"family"`
	Layout     string `toml:"layout"`
	N          int    `toml:"n"`
	Origin     int    `toml:"origin"`
	Branching  int    `toml:"branching"`
	Compaction int    `toml:"compaction"`
	FullSizes  bool   `toml:"full_sizes"`
	Groups     int    `toml:"groups"`
	Contiguous bool   `toml:"contiguous"`
	Seed       int64  `toml:"seed"`
	Runs       int    `toml:"runs"`
	Transport  string `toml:"transport"`
	SendBuffer int    `toml:"send_buffer"`
	Jitter     string `toml:"jitter"`
	Timeout    string `toml:"timeout"`
	ResultsDir string `toml:"results_dir"`
	Name       string `toml:"name"`
	AdminAddr  string `toml:"admin_addr"`
}

// runFile is a decoded run file: one experiment plus the optional admin
// listener that serves its report.
type runFile struct {
	Experiment experiment.Config
	AdminAddr  string
}

func loadRunFile(path string) (runFile, error) {
	out := runFile{Experiment: experiment.DefaultConfig()}
	cfg := &out.Experiment

	var raw runFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runFile{}, fmt.Errorf("load run file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runFile{}, fmt.Errorf("run file %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("family") {
		family, err := plan.ParseFamily(raw.Family)
		if err != nil {
			return runFile{}, err
		}
		cfg.Family = family
	}
	if meta.IsDefined("layout") {
		layout, err := topology.ParseLayout(raw.Layout)
		if err != nil {
			return runFile{}, err
		}
		cfg.Layout = layout
	}
	if meta.IsDefined("n") {
		cfg.N = raw.N
	}
	if meta.IsDefined("origin") {
		cfg.Origin = raw.Origin
	}
	if meta.IsDefined("branching") {
		cfg.Branching = raw.Branching
	}
	if meta.IsDefined("compaction") {
		cfg.Compaction = raw.Compaction
	}
	if meta.IsDefined("full_sizes") {
		cfg.FullSizes = raw.FullSizes
	}
	if meta.IsDefined("groups") {
		cfg.Groups = raw.Groups
	}
	if meta.IsDefined("contiguous") {
		cfg.Contiguous = raw.Contiguous
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("runs") {
		cfg.Runs = raw.Runs
	}
	if meta.IsDefined("transport") {
		cfg.Transport = experiment.Transport(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("send_buffer") {
		cfg.SendBuffer = raw.SendBuffer
	}
	if meta.IsDefined("jitter") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Jitter))
		if err != nil {
			return runFile{}, fmt.Errorf("parse jitter: %w", err)
		}
		cfg.Jitter = d
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return runFile{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("results_dir") {
		cfg.ResultsDir = strings.TrimSpace(raw.ResultsDir)
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("admin_addr") {
		out.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	return out, nil
}
