// Package pattern compiles collective communication patterns into per-participant
// message plans.
//
// Every family produces the same plan shape: an ordered list of send and
// receive steps per participant, each carrying a peer, a byte size and a
// logical phase. Plans are validated before they are returned; a parameter
// set that cannot produce a correct plan is rejected with a configuration
// error and no partial plan.
package pattern

import (
	"fmt"

	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/topology"
	"github.com/rs/zerolog/log"
)

// Params selects a family and its structural parameters.
type Params struct {
	Family plan.Family
	// Branching is the tree fan-out B.
	Branching int
	// Compaction is the hypercube compaction factor C.
	Compaction int
	// FullSizes disables destination-based message sizing.
	FullSizes bool
}

// DefaultParams returns the defaults used by the experiment drivers.
func DefaultParams(family plan.Family) Params {
	return Params{Family: family, Branching: 2, Compaction: 1}
}

// Compile builds and validates the plan for params over assignment a.
func Compile(a *topology.Assignment, params Params) (*plan.Plan, error) {
	if a == nil {
		return nil, plan.Configf("topology", "missing assignment")
	}
	var (
		p   *plan.Plan
		err error
	)
	switch params.Family {
	case plan.FamilyFlat:
		p, err = Flat(a.N, a.Origin)
	case plan.FamilyTree:
		if a.Origin != 0 {
			return nil, plan.Configf("origin", "tree is rooted at 0, got origin %d", a.Origin)
		}
		p, err = Tree(a.N, params.Branching, params.FullSizes)
	case plan.FamilyBroadcastTree:
		p, err = BroadcastTree(a)
	case plan.FamilyHypercube:
		if a.Origin != 0 {
			return nil, plan.Configf("origin", "hypercube broadcast starts at 0, got origin %d", a.Origin)
		}
		p, err = Hypercube(a.N, params.Compaction, params.FullSizes)
	default:
		return nil, plan.Configf("family", "unknown family %q", params.Family)
	}
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pattern: compiled %s plan: %w", params.Family, err)
	}
	log.Debug().
		Str("family", string(p.Family)).
		Int("n", p.N).
		Int("depth", p.Depth).
		Int("steps", p.Len()).
		Msg("pattern.Compile plan ready")
	return p, nil
}

// ExperimentName labels a compiled configuration the way results directories are named.
func ExperimentName(params Params, layout topology.Layout, contiguous bool) string {
	name := ""
	switch params.Family {
	case plan.FamilyFlat:
		name = "bcast"
	case plan.FamilyTree:
		name = "tree"
	case plan.FamilyBroadcastTree:
		name = "bcast_tree"
	case plan.FamilyHypercube:
		name = "hyper"
	default:
		name = string(params.Family)
	}
	if layout == topology.LayoutStarAS {
		name += "_as"
	}
	if params.Family == plan.FamilyFlat {
		return name
	}
	if (params.Family == plan.FamilyTree || params.Family == plan.FamilyBroadcastTree) && params.Branching != 2 {
		name += fmt.Sprintf("_b%d", params.Branching)
	}
	if params.Family == plan.FamilyHypercube && params.Compaction > 1 {
		name += fmt.Sprintf("_f%d", params.Compaction)
	}
	if contiguous {
		name += "_g"
	}
	if params.FullSizes {
		name += "_full"
	}
	return name
}
