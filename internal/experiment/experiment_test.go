package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/collsim/internal/pattern"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/testutil/testlog"
	"github.com/danmuck/collsim/internal/topology"
)

func simConfig(family plan.Family, n int) Config {
	cfg := DefaultConfig()
	cfg.Family = family
	cfg.N = n
	cfg.Runs = 2
	return cfg
}

func TestEveryFamilyCompletesInSimulation(t *testing.T) {
	testlog.Start(t)

	var cases []Config
	for _, n := range []int{2, 5, 7, 16, 23} {
		cases = append(cases, simConfig(plan.FamilyFlat, n))
		tree := simConfig(plan.FamilyTree, n)
		tree.Branching = 3
		cases = append(cases, tree)
		cases = append(cases, simConfig(plan.FamilyHypercube, n))
		if dims := pattern.Dimensions(n); dims > 1 {
			compacted := simConfig(plan.FamilyHypercube, n)
			compacted.Compaction = dims
			cases = append(cases, compacted)
		}
		grouped := simConfig(plan.FamilyBroadcastTree, n)
		grouped.Layout = topology.LayoutStarAS
		grouped.Groups = min(3, n)
		cases = append(cases, grouped)
	}

	for _, cfg := range cases {
		name := fmt.Sprintf("%s/n=%d", cfg.ExperimentName(), cfg.N)
		report, err := Run(context.Background(), cfg)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(report.Results) != cfg.Runs {
			t.Fatalf("%s: %d results want %d", name, len(report.Results), cfg.Runs)
		}
		for _, r := range report.Results {
			if r.AllDone <= r.Start || r.AllProposals < r.Start || r.AllProposals > r.AllDone {
				t.Fatalf("%s: inconsistent timestamps %+v", name, r)
			}
		}
	}
}

func TestJitterAndSmallBuffersStillComplete(t *testing.T) {
	testlog.Start(t)

	for _, family := range []plan.Family{plan.FamilyFlat, plan.FamilyTree, plan.FamilyHypercube} {
		cfg := simConfig(family, 19)
		cfg.Jitter = 40 * time.Millisecond
		cfg.SendBuffer = 600
		cfg.Seed = 11
		cfg.FullSizes = true
		cfg.Runs = 3
		report, err := Run(context.Background(), cfg)
		if err != nil {
			t.Fatalf("%s: %v", family, err)
		}
		if len(report.Results) != 3 {
			t.Fatalf("%s: %d results", family, len(report.Results))
		}
	}
}

func TestFlatRunPaysThreePathLatencies(t *testing.T) {
	testlog.Start(t)

	flat, err := Run(context.Background(), simConfig(plan.FamilyFlat, 64))
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	// three sequential stages over a 200ms star path
	if got := flat.Results[0].Duration(); got < 600*time.Millisecond {
		t.Fatalf("flat run took %s", got)
	}
}

func TestRunWritesResults(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	cfg := simConfig(plan.FamilyTree, 9)
	cfg.ResultsDir = dir
	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), cfg); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "tree", "9", "data"))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Fatalf("results lines=%d want 6:\n%s", len(lines), data)
	}
	if strings.TrimSpace(lines[0]) != "RUN:" || len(strings.Split(lines[1], ",")) != 3 {
		t.Fatalf("unexpected results layout:\n%s", data)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)

	bad := []Config{
		func() Config { c := simConfig(plan.FamilyHypercube, 8); c.Compaction = 4; return c }(),
		func() Config { c := simConfig(plan.FamilyTree, 8); c.Origin = 2; return c }(),
		func() Config { c := simConfig("ring", 8); return c }(),
		func() Config { c := simConfig(plan.FamilyFlat, 8); c.Runs = 0; return c }(),
		func() Config { c := simConfig(plan.FamilyFlat, 8); c.Transport = "udp"; return c }(),
		func() Config {
			c := simConfig(plan.FamilyBroadcastTree, 4)
			c.Layout = topology.LayoutStarAS
			c.Groups = 5
			return c
		}(),
	}
	for i, cfg := range bad {
		if _, err := Run(context.Background(), cfg); !errors.Is(err, plan.ErrConfiguration) {
			t.Fatalf("case %d: expected configuration error, got %v", i, err)
		}
	}
}

func TestLiveLoopbackRun(t *testing.T) {
	testlog.Start(t)
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}

	for _, family := range []plan.Family{plan.FamilyFlat, plan.FamilyHypercube} {
		cfg := simConfig(family, 6)
		cfg.Transport = TransportTCP
		cfg.Timeout = 20 * time.Second
		report, err := Run(context.Background(), cfg)
		if err != nil {
			t.Fatalf("%s: %v", family, err)
		}
		if len(report.Results) != 2 {
			t.Fatalf("%s: %d results", family, len(report.Results))
		}
	}
}

func TestExperimentNameOverride(t *testing.T) {
	cfg := simConfig(plan.FamilyHypercube, 8)
	cfg.Compaction = 2
	cfg.Layout = topology.LayoutStarAS
	if got := cfg.ExperimentName(); got != "hyper_as_f2" {
		t.Fatalf("name=%q", got)
	}
	cfg.Name = "custom"
	if got := cfg.ExperimentName(); got != "custom" {
		t.Fatalf("name=%q", got)
	}
}
