package pattern

import (
	"slices"

	"github.com/danmuck/collsim/internal/plan"
)

// Hypercube compiles the all-to-all hypercube pattern for n participants with
// compaction factor c. Participant 0 first broadcasts a control unit along a
// spanning path of the cube, then every participant exchanges data with its
// per-phase peers. Send sizes are unit × |destination set| unless fullSizes.
func Hypercube(n, c int, fullSizes bool) (*plan.Plan, error) {
	ps, err := ComputePeerSets(n, c)
	if err != nil {
		return nil, err
	}

	bld := newBuilder(n)
	broadcastCube(bld, 0, 0, ps.Dimensions, n)
	if c > 1 {
		compactBroadcast(bld.steps, c)
	}

	for node := 0; node < n; node++ {
		for phase := 0; phase < ps.D; phase++ {
			for _, peer := range ps.Send(node, phase) {
				bld.steps[node] = append(bld.steps[node], plan.Step{Dir: plan.Send, Peer: peer, Size: plan.Unsized, Phase: phase})
			}
			for _, peer := range ps.Recv(node, phase) {
				bld.steps[node] = append(bld.steps[node], plan.Step{Dir: plan.Receive, Peer: peer, Size: plan.Unsized, Phase: phase})
			}
		}
	}

	full := n * plan.HMACSize
	for node, steps := range bld.steps {
		for i := range steps {
			s := &steps[i]
			if s.Broadcast {
				continue
			}
			switch {
			case fullSizes:
				s.Size = full
			case s.Dir == plan.Send:
				s.Size = plan.HMACSize * ps.Multiplier(node, s.Phase, s.Peer)
			default:
				s.Size = plan.HMACSize * ps.Multiplier(s.Peer, s.Phase, node)
			}
		}
	}
	return bld.build(plan.FamilyHypercube, 0, ps.D), nil
}

// broadcastCube appends the recursive XOR descent from node starting at
// dimension from. Recursion depth is bounded by the dimension count.
func broadcastCube(bld *builder, node, from, dims, n int) {
	for d := from; d < dims; d++ {
		peer := node ^ (1 << d)
		if peer >= n {
			continue
		}
		bld.pair(node, peer, plan.HMACSize, plan.BroadcastPhase, true)
		broadcastCube(bld, peer, d+1, dims, n)
	}
}

// compactBroadcast lets each broadcast sender take over up to c-1 of its
// child's leading broadcast sends, re-pointing the grandchildren's first
// receive at the new sender. Adopted sends are not revisited by the sender.
func compactBroadcast(steps [][]plan.Step, c int) {
	for node := range steps {
		for i := 0; i < len(steps[node]) && steps[node][i].Broadcast; i++ {
			s := steps[node][i]
			if s.Dir != plan.Send {
				continue
			}
			child := s.Peer
			for moved := 1; moved < c && len(steps[child]) > 1 && steps[child][1].Broadcast; moved++ {
				adopted := steps[child][1]
				steps[child] = slices.Delete(steps[child], 1, 2)
				steps[node] = slices.Insert(steps[node], i+1, adopted)
				i++
				steps[adopted.Peer][0].Peer = node
			}
		}
	}
}
