package pattern

import "github.com/danmuck/collsim/internal/plan"

// Flat compiles the star pattern: the origin broadcasts a control unit to
// every participant, every participant transmits a full-size payload to the
// origin, and the origin broadcasts a second control round.
func Flat(n, origin int) (*plan.Plan, error) {
	if n < 2 {
		return nil, plan.Configf("n", "flat pattern needs at least 2 participants, got %d", n)
	}
	if origin < 0 || origin >= n {
		return nil, plan.Configf("origin", "origin %d outside [0,%d)", origin, n)
	}

	b := newBuilder(n)
	full := n * plan.HMACSize
	for peer := 0; peer < n; peer++ {
		if peer != origin {
			b.pair(origin, peer, plan.HMACSize, 0, true)
		}
	}
	for node := 0; node < n; node++ {
		if node != origin {
			b.pair(node, origin, full, 1, false)
		}
	}
	for peer := 0; peer < n; peer++ {
		if peer != origin {
			b.pair(origin, peer, plan.HMACSize, 0, true)
		}
	}
	return b.build(plan.FamilyFlat, origin, 1), nil
}

type builder struct {
	steps [][]plan.Step
}

func newBuilder(n int) *builder {
	return &builder{steps: make([][]plan.Step, n)}
}

// pair appends the send half at from and the matching receive half at to.
func (b *builder) pair(from, to, size, phase int, broadcast bool) {
	b.steps[from] = append(b.steps[from], plan.Step{Dir: plan.Send, Peer: to, Size: size, Phase: phase, Broadcast: broadcast})
	b.steps[to] = append(b.steps[to], plan.Step{Dir: plan.Receive, Peer: from, Size: size, Phase: phase, Broadcast: broadcast})
}

func (b *builder) build(family plan.Family, origin, depth int) *plan.Plan {
	return &plan.Plan{
		Family: family,
		N:      len(b.steps),
		Origin: origin,
		Depth:  depth,
		Unit:   plan.HMACSize,
		Steps:  b.steps,
	}
}
