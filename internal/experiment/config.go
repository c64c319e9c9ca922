package experiment

import (
	"strings"
	"time"

	"github.com/danmuck/collsim/internal/pattern"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/topology"
	"github.com/danmuck/collsim/internal/transport/memnet"
)

// Transport selects how participants exchange bytes.
type Transport string

const (
	// TransportSim runs on the virtual clock over memnet.
	TransportSim Transport = "sim"
	// TransportTCP runs in real time over loopback sockets.
	TransportTCP Transport = "tcp"
)

// Config describes one experiment: a pattern over a topology, run Runs times.
type Config struct {
	Family     plan.Family     `json:"family"`
	Layout     topology.Layout `json:"layout"`
	N          int             `json:"n"`
	Origin     int             `json:"origin"`
	Branching  int             `json:"branching"`
	Compaction int             `json:"compaction"`
	FullSizes  bool            `json:"full_sizes"`
	Groups     int             `json:"groups"`
	Contiguous bool            `json:"contiguous"`
	Seed       int64           `json:"seed"`
	Runs       int             `json:"runs"`

	Transport  Transport     `json:"transport"`
	SendBuffer int           `json:"send_buffer"`
	Jitter     time.Duration `json:"jitter"`
	// Timeout bounds a live run; the virtual clock needs none.
	Timeout time.Duration `json:"timeout"`

	// ResultsDir, when set, receives <name>/<n>/data.
	ResultsDir string `json:"results_dir"`
	// Name overrides the derived experiment name.
	Name string `json:"name"`
}

func DefaultConfig() Config {
	return Config{
		Family:     plan.FamilyHypercube,
		Layout:     topology.LayoutStar,
		N:          16,
		Origin:     0,
		Branching:  2,
		Compaction: 1,
		Runs:       1,
		Transport:  TransportSim,
		SendBuffer: memnet.DefaultSendBuffer,
		Timeout:    30 * time.Second,
	}
}

// Params returns the compiler parameters of c.
func (c Config) Params() pattern.Params {
	return pattern.Params{
		Family:     c.Family,
		Branching:  c.Branching,
		Compaction: c.Compaction,
		FullSizes:  c.FullSizes,
	}
}

// ExperimentName returns Name or the name derived from the pattern parameters.
func (c Config) ExperimentName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return pattern.ExperimentName(c.Params(), c.Layout, c.Contiguous)
}

// Validate checks the parameters that do not need a compiled plan. Structural
// compatibility is left to the compiler.
func (c Config) Validate() error {
	if _, err := plan.ParseFamily(string(c.Family)); err != nil {
		return err
	}
	if _, err := topology.ParseLayout(string(c.Layout)); err != nil {
		return err
	}
	if c.N < 2 {
		return plan.Configf("n", "need at least 2 participants, got %d", c.N)
	}
	if c.Runs < 1 {
		return plan.Configf("runs", "run count %d must be at least 1", c.Runs)
	}
	switch c.Transport {
	case TransportSim, TransportTCP:
	default:
		return plan.Configf("transport", "unknown transport %q", c.Transport)
	}
	if c.SendBuffer < 0 {
		return plan.Configf("send_buffer", "negative send buffer %d", c.SendBuffer)
	}
	if c.Jitter < 0 {
		return plan.Configf("jitter", "negative jitter %s", c.Jitter)
	}
	return nil
}

// Normalize canonicalises family and layout aliases.
func (c Config) Normalize() (Config, error) {
	family, err := plan.ParseFamily(string(c.Family))
	if err != nil {
		return c, err
	}
	layout, err := topology.ParseLayout(string(c.Layout))
	if err != nil {
		return c, err
	}
	c.Family = family
	c.Layout = layout
	if c.Transport == "" {
		c.Transport = TransportSim
	}
	return c, c.Validate()
}
