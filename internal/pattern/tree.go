package pattern

import (
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/topology"
)

// TreeDepth returns ceil(log_b n) using integer arithmetic.
func TreeDepth(n, b int) int {
	d := 0
	for span := 1; span < n; span *= b {
		d++
	}
	return d
}

// Tree compiles the b-ary aggregation tree rooted at participant 0. Control
// units travel down, full payloads travel up, and the aggregate travels back
// down sized by the number of participants below each child (or full size).
func Tree(n, b int, fullSizes bool) (*plan.Plan, error) {
	if n < 2 {
		return nil, plan.Configf("n", "tree pattern needs at least 2 participants, got %d", n)
	}
	if b < 2 {
		return nil, plan.Configf("branching", "branching factor %d must be at least 2", b)
	}

	bld := newBuilder(n)
	full := n * plan.HMACSize

	for node := 0; node < n; node++ {
		for _, child := range children(node, n, b) {
			bld.pair(node, child, plan.HMACSize, 0, true)
		}
	}

	// subtree[i] counts i and everything below it. Children carry larger ids,
	// so a descending sweep resolves them before their parent.
	subtree := make([]int, n)
	for node := n - 1; node > 0; node-- {
		parent := (node - 1) / b
		bld.pair(node, parent, full, 1, false)

		subtree[node] = 1
		for _, child := range children(node, n, b) {
			subtree[node] += subtree[child]
		}
	}

	for node := 0; node < n; node++ {
		for _, child := range children(node, n, b) {
			size := plan.HMACSize * subtree[child]
			if fullSizes {
				size = full
			}
			bld.pair(node, child, size, 2, false)
		}
	}
	return bld.build(plan.FamilyTree, 0, TreeDepth(n, b)), nil
}

func children(node, n, b int) []int {
	out := make([]int, 0, b)
	for i := 1; i <= b; i++ {
		child := b*node + i
		if child >= n {
			break
		}
		out = append(out, child)
	}
	return out
}

// BroadcastTree routes every stage through a two-level hierarchy: the origin
// talks to group leaders, leaders talk to their members.
func BroadcastTree(a *topology.Assignment) (*plan.Plan, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	n := a.N
	origin := a.Origin
	groups := a.Groups
	if len(groups) > n {
		return nil, plan.Configf("groups", "%d groups for %d participants", len(groups), n)
	}
	if leader := groups[a.GroupOf(origin)].Leader; leader != origin {
		return nil, plan.Configf("origin", "origin %d does not lead its group (leader %d)", origin, leader)
	}

	bld := newBuilder(n)
	full := n * plan.HMACSize

	for _, g := range groups {
		if g.Leader != origin {
			bld.pair(origin, g.Leader, plan.HMACSize, 0, true)
		}
	}
	for _, g := range groups {
		for _, member := range g.Members {
			if member != g.Leader {
				bld.pair(g.Leader, member, plan.HMACSize, 0, true)
			}
		}
	}

	for _, g := range groups {
		for _, member := range g.Members {
			if member != g.Leader {
				bld.pair(member, g.Leader, full, 1, false)
			}
		}
		if g.Leader != origin {
			bld.pair(g.Leader, origin, full, 1, false)
		}
	}

	for _, g := range groups {
		if g.Leader != origin {
			bld.pair(origin, g.Leader, len(g.Members)*plan.HMACSize, 2, false)
		}
	}
	for _, g := range groups {
		for _, member := range g.Members {
			if member != g.Leader {
				bld.pair(g.Leader, member, plan.HMACSize, 0, true)
			}
		}
	}
	return bld.build(plan.FamilyBroadcastTree, origin, 2), nil
}
