package cmd

import (
	"time"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/topology"
	"github.com/spf13/cobra"
)

// experimentFlags are shared by run and plan. A run file is applied first and
// explicitly set flags override it.
type experimentFlags struct {
	configPath string
	family     string
	layout     string
	transport  string
	n          int
	origin     int
	branching  int
	compaction int
	groups     int
	runs       int
	sendBuffer int
	fullSizes  bool
	contiguous bool
	seed       int64
	jitter     time.Duration
	timeout    time.Duration
	resultsDir string
	name       string
	adminAddr  string
}

func (f *experimentFlags) bind(cmd *cobra.Command) {
	def := experiment.DefaultConfig()
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "run file (TOML) applied before flags")
	fs.StringVarP(&f.family, "family", "f", string(def.Family), "pattern family: flat, tree, bcast_tree, hyper")
	fs.StringVarP(&f.layout, "layout", "l", string(def.Layout), "topology layout: star, star_as")
	fs.StringVarP(&f.transport, "transport", "t", string(def.Transport), "transport: sim, tcp")
	fs.IntVarP(&f.n, "participants", "n", def.N, "participant count")
	fs.IntVar(&f.origin, "origin", def.Origin, "participant that starts each run")
	fs.IntVarP(&f.branching, "branching", "b", def.Branching, "tree branching factor")
	fs.IntVar(&f.compaction, "compaction", def.Compaction, "hypercube dimensions folded into one phase")
	fs.IntVarP(&f.groups, "groups", "g", def.Groups, "star_as group count (0 picks a default)")
	fs.IntVarP(&f.runs, "runs", "r", def.Runs, "runs per experiment")
	fs.IntVar(&f.sendBuffer, "send-buffer", def.SendBuffer, "simulated per-channel send buffer in bytes")
	fs.BoolVar(&f.fullSizes, "full-sizes", def.FullSizes, "size every message as if the sender had all contributions")
	fs.BoolVar(&f.contiguous, "contiguous", def.Contiguous, "assign star_as groups contiguously instead of shuffled")
	fs.Int64Var(&f.seed, "seed", def.Seed, "seed for group shuffling and jitter")
	fs.DurationVar(&f.jitter, "jitter", def.Jitter, "maximum extra simulated delay per segment")
	fs.DurationVar(&f.timeout, "timeout", def.Timeout, "wall clock limit for tcp experiments")
	fs.StringVar(&f.resultsDir, "results-dir", def.ResultsDir, "append run timings under this directory")
	fs.StringVar(&f.name, "name", def.Name, "override the derived experiment name")
}

// resolve layers defaults, the run file and changed flags, in that order.
func (f *experimentFlags) resolve(cmd *cobra.Command) (experiment.Config, error) {
	cfg := experiment.DefaultConfig()
	if f.configPath != "" {
		file, err := loadRunFile(f.configPath)
		if err != nil {
			return experiment.Config{}, err
		}
		cfg = file.Experiment
		if file.AdminAddr != "" && !cmd.Flags().Changed("admin") {
			f.adminAddr = file.AdminAddr
		}
	}
	fs := cmd.Flags()
	if fs.Changed("family") {
		cfg.Family = plan.Family(f.family)
	}
	if fs.Changed("layout") {
		cfg.Layout = topology.Layout(f.layout)
	}
	if fs.Changed("transport") {
		cfg.Transport = experiment.Transport(f.transport)
	}
	if fs.Changed("participants") {
		cfg.N = f.n
	}
	if fs.Changed("origin") {
		cfg.Origin = f.origin
	}
	if fs.Changed("branching") {
		cfg.Branching = f.branching
	}
	if fs.Changed("compaction") {
		cfg.Compaction = f.compaction
	}
	if fs.Changed("groups") {
		cfg.Groups = f.groups
	}
	if fs.Changed("runs") {
		cfg.Runs = f.runs
	}
	if fs.Changed("send-buffer") {
		cfg.SendBuffer = f.sendBuffer
	}
	if fs.Changed("full-sizes") {
		cfg.FullSizes = f.fullSizes
	}
	if fs.Changed("contiguous") {
		cfg.Contiguous = f.contiguous
	}
	if fs.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fs.Changed("jitter") {
		cfg.Jitter = f.jitter
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if fs.Changed("results-dir") {
		cfg.ResultsDir = f.resultsDir
	}
	if fs.Changed("name") {
		cfg.Name = f.name
	}
	return cfg.Normalize()
}
