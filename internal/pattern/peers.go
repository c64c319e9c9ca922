package pattern

import (
	"fmt"
	"sort"

	"github.com/danmuck/collsim/internal/plan"
)

// Dimensions returns ceil(log2 n), the number of hypercube dimensions needed for n participants.
func Dimensions(n int) int {
	d := 0
	for (1 << d) < n {
		d++
	}
	return d
}

type intSet map[int]struct{}

func (s intSet) add(v int) { s[v] = struct{}{} }

func (s intSet) union(o intSet) {
	for v := range o {
		s[v] = struct{}{}
	}
}

func (s intSet) sorted() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// PeerSets holds, per participant and phase, the hypercube peers a participant
// sends to and receives from, plus the destination multiplier of every send.
type PeerSets struct {
	N int
	// D is the number of phases after compaction.
	D int
	// Dimensions is the uncompacted cube dimension count.
	Dimensions int
	Compaction int

	send [][][]int
	recv [][][]int
	// dest[participant][phase][peer] is the number of final recipients reached
	// by the message participant sends to peer in phase.
	dest [][]map[int]int
}

// Send returns the peers participant p sends to in phase, ascending.
func (ps *PeerSets) Send(p, phase int) []int { return ps.send[p][phase] }

// Recv returns the peers participant p receives from in phase, ascending.
func (ps *PeerSets) Recv(p, phase int) []int { return ps.recv[p][phase] }

// Multiplier returns |destination set| for the message p sends to peer in phase, or 0.
func (ps *PeerSets) Multiplier(p, phase, peer int) int { return ps.dest[p][phase][peer] }

// ComputePeerSets derives hypercube peer sets for n participants with
// compaction factor c, and verifies that every participant reaches each other
// participant through exactly one (phase, peer) pair.
func ComputePeerSets(n, c int) (*PeerSets, error) {
	if n < 2 {
		return nil, plan.Configf("n", "hypercube needs at least 2 participants, got %d", n)
	}
	dims := Dimensions(n)
	if c < 1 || c > dims {
		return nil, plan.Configf("compaction", "factor %d outside [1,%d] for n=%d", c, dims, n)
	}

	direct, err := directPeers(n, dims)
	if err != nil {
		return nil, err
	}
	phases := direct
	if c > 1 {
		phases = compact(direct, n, dims, c)
	}
	d := len(phases[0])

	dest := destinations(phases, n, d)
	if err := checkCoverage(dest, n, d); err != nil {
		return nil, err
	}

	ps := &PeerSets{
		N:          n,
		D:          d,
		Dimensions: dims,
		Compaction: c,
		send:       make([][][]int, n),
		recv:       make([][][]int, n),
		dest:       make([][]map[int]int, n),
	}
	recv := make([][]intSet, n)
	for p := 0; p < n; p++ {
		recv[p] = make([]intSet, d)
		for phase := 0; phase < d; phase++ {
			recv[p][phase] = intSet{}
		}
	}
	for p := 0; p < n; p++ {
		ps.send[p] = make([][]int, d)
		ps.dest[p] = make([]map[int]int, d)
		for phase := 0; phase < d; phase++ {
			ps.send[p][phase] = phases[p][phase].sorted()
			ps.dest[p][phase] = make(map[int]int, len(dest[p][phase]))
			for peer, reached := range dest[p][phase] {
				ps.dest[p][phase][peer] = len(reached)
			}
			for _, peer := range ps.send[p][phase] {
				recv[peer][phase].add(p)
			}
		}
	}
	for p := 0; p < n; p++ {
		ps.recv[p] = make([][]int, d)
		for phase := 0; phase < d; phase++ {
			ps.recv[p][phase] = recv[p][phase].sorted()
		}
	}
	return ps, nil
}

// directPeers computes the per-dimension partner of every participant. In an
// incomplete cube an upper-half participant whose XOR partner does not exist
// borrows the partner of the smallest later dimension that does.
func directPeers(n, dims int) ([][]intSet, error) {
	upper := 1 << (dims - 1)
	out := make([][]intSet, n)
	for p := 0; p < n; p++ {
		out[p] = make([]intSet, dims)
		for d := 0; d < dims; d++ {
			out[p][d] = intSet{}
			peer := p ^ (1 << d)
			if peer < n {
				out[p][d].add(peer)
				continue
			}
			if p < upper {
				continue
			}
			future := -1
			for fd := d + 1; fd < dims; fd++ {
				if cand := peer ^ (1 << fd); cand < n {
					future = cand
					break
				}
			}
			if future < 0 {
				return nil, plan.Configf("n", "no substitute peer for participant %d in dimension %d (n=%d, d=%d)", p, d, n, dims)
			}
			out[p][d].add(future)
		}
	}
	return out, nil
}

type frame struct {
	peer  int
	phase int
}

// compact merges every c consecutive dimensions into one phase. The peer set
// of a merged phase is everything reachable from the participant through the
// direct peers of those dimensions, walked with an explicit stack.
func compact(direct [][]intSet, n, dims, c int) [][]intSet {
	phases := (dims + c - 1) / c
	out := make([][]intSet, n)
	for p := 0; p < n; p++ {
		out[p] = make([]intSet, phases)
		first := 0
		for cp := 0; cp < phases; cp++ {
			reached := intSet{}
			last := min(first+c, dims)
			stack := []frame{{peer: p, phase: first}}
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				reached.add(top.peer)
				for d := top.phase; d < last; d++ {
					for _, peer := range direct[top.peer][d].sorted() {
						stack = append(stack, frame{peer: peer, phase: d + 1})
					}
				}
			}
			delete(reached, p)
			out[p][cp] = reached
			first += c
		}
	}
	return out
}

// destinations walks phases backward: what p sends to peer in phase d reaches
// peer plus everything peer forwards in later phases.
func destinations(phases [][]intSet, n, d int) [][]map[int]intSet {
	dest := make([][]map[int]intSet, n)
	for p := 0; p < n; p++ {
		dest[p] = make([]map[int]intSet, d)
		for phase := 0; phase < d; phase++ {
			dest[p][phase] = make(map[int]intSet)
		}
	}
	for phase := d - 1; phase >= 0; phase-- {
		for p := 0; p < n; p++ {
			for peer := range phases[p][phase] {
				reached := intSet{}
				reached.add(peer)
				for later := d - 1; later > phase; later-- {
					for _, set := range dest[peer][later] {
						reached.union(set)
					}
				}
				dest[p][phase][peer] = reached
			}
		}
	}
	return dest
}

func checkCoverage(dest [][]map[int]intSet, n, d int) error {
	for p := 0; p < n; p++ {
		seen := intSet{}
		count := 0
		for phase := 0; phase < d; phase++ {
			for _, set := range dest[p][phase] {
				seen.union(set)
				count += len(set)
			}
		}
		if _, self := seen[p]; self || count != len(seen) || len(seen) != n-1 {
			return &plan.InvariantError{
				Participant: p,
				Peer:        plan.NoPeer,
				Phase:       plan.NoPeer,
				Reason: fmt.Sprintf("destination coverage: %d deliveries to %d distinct participants, want %d",
					count, len(seen), n-1),
			}
		}
	}
	return nil
}
