package plan

import (
	"fmt"
	"strings"
)

// HMACSize is the unit message size in bytes. Control messages carry one
// unit, aggregated messages carry one unit per final recipient.
const HMACSize = 32

// Unsized marks a step whose byte size is resolved after peer sets are known.
const Unsized = -1

// NoPeer is the peer id reported for steps that have no counterpart.
const NoPeer = -1

// BroadcastPhase is the phase assigned to hypercube broadcast steps.
const BroadcastPhase = -1

// Direction is the side of a pairwise exchange a step performs.
type Direction int

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	switch d {
	case Send:
		return "send"
	case Receive:
		return "recv"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Family names a communication pattern.
type Family string

const (
	FamilyFlat          Family = "flat"
	FamilyTree          Family = "tree"
	FamilyBroadcastTree Family = "bcast_tree"
	FamilyHypercube     Family = "hyper"
)

// ParseFamily accepts canonical family names and the common aliases.
func ParseFamily(raw string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "flat", "star", "bcast":
		return FamilyFlat, nil
	case "tree":
		return FamilyTree, nil
	case "bcast_tree", "bcast-tree", "broadcast-tree":
		return FamilyBroadcastTree, nil
	case "hyper", "hypercube":
		return FamilyHypercube, nil
	default:
		return "", &ConfigError{Param: "family", Reason: fmt.Sprintf("unknown family %q", raw)}
	}
}

// Step is one entry of a participant's plan.
type Step struct {
	Dir       Direction
	Peer      int
	Size      int
	Phase     int
	Broadcast bool
}

func (s Step) String() string {
	return fmt.Sprintf("(%d,%s,%d,%d)", s.Peer, s.Dir, s.Phase, s.Size)
}

// Plan is the compiled, read-only message plan for every participant.
type Plan struct {
	Family Family
	N      int
	Origin int
	// Depth is the number of transfer rounds: tree depth or (compacted) cube dimensions.
	Depth int
	Unit  int
	Steps [][]Step
}

// Participant returns the steps of participant id.
func (p *Plan) Participant(id int) []Step {
	if id < 0 || id >= len(p.Steps) {
		return nil
	}
	return p.Steps[id]
}

// Len returns the total number of steps across all participants.
func (p *Plan) Len() int {
	total := 0
	for _, steps := range p.Steps {
		total += len(steps)
	}
	return total
}

// Peers returns the distinct peers participant id exchanges messages with, in
// first-use order.
func (p *Plan) Peers(id int) []int {
	seen := make(map[int]bool)
	out := make([]int, 0)
	for _, s := range p.Participant(id) {
		if s.Peer == NoPeer || seen[s.Peer] {
			continue
		}
		seen[s.Peer] = true
		out = append(out, s.Peer)
	}
	return out
}

// SentBytes sums the sizes of every send step of participant id in phase.
func (p *Plan) SentBytes(id, phase int) int {
	total := 0
	for _, s := range p.Participant(id) {
		if s.Dir == Send && s.Phase == phase {
			total += s.Size
		}
	}
	return total
}

// ReceivedBytesFrom sums the sizes of receive steps at participant id from peer in phase.
func (p *Plan) ReceivedBytesFrom(id, peer, phase int) int {
	total := 0
	for _, s := range p.Participant(id) {
		if s.Dir == Receive && s.Peer == peer && s.Phase == phase {
			total += s.Size
		}
	}
	return total
}

// Validate checks the structural invariants every compiled plan must hold.
func (p *Plan) Validate() error {
	if p.N != len(p.Steps) {
		return &InvariantError{Participant: NoPeer, Peer: NoPeer, Phase: NoPeer,
			Reason: fmt.Sprintf("plan has %d participants, want %d", len(p.Steps), p.N)}
	}
	type pair struct{ from, to int }
	sends := make(map[pair][]int)
	recvs := make(map[pair][]int)
	for id, steps := range p.Steps {
		last := BroadcastPhase
		for i, s := range steps {
			if s.Peer < 0 || s.Peer >= p.N || s.Peer == id {
				return &InvariantError{Participant: id, Peer: s.Peer, Phase: s.Phase,
					Reason: fmt.Sprintf("step %d has invalid peer", i)}
			}
			if s.Size <= 0 {
				return &InvariantError{Participant: id, Peer: s.Peer, Phase: s.Phase,
					Reason: fmt.Sprintf("step %d is unsized", i)}
			}
			if !s.Broadcast {
				if s.Phase < last {
					return &InvariantError{Participant: id, Peer: s.Peer, Phase: s.Phase,
						Reason: fmt.Sprintf("step %d phase decreases from %d", i, last)}
				}
				last = s.Phase
			}
			switch s.Dir {
			case Send:
				k := pair{from: id, to: s.Peer}
				sends[k] = append(sends[k], s.Size)
			case Receive:
				k := pair{from: s.Peer, to: id}
				recvs[k] = append(recvs[k], s.Size)
			}
		}
	}
	for k, out := range sends {
		in := recvs[k]
		if len(in) != len(out) {
			return &InvariantError{Participant: k.to, Peer: k.from, Phase: NoPeer,
				Reason: fmt.Sprintf("%d sends but %d receives", len(out), len(in))}
		}
		for i := range out {
			if out[i] != in[i] {
				return &InvariantError{Participant: k.to, Peer: k.from, Phase: NoPeer,
					Reason: fmt.Sprintf("message %d sized %d by sender, %d by receiver", i, out[i], in[i])}
			}
		}
	}
	for k, in := range recvs {
		if _, ok := sends[k]; !ok {
			return &InvariantError{Participant: k.to, Peer: k.from, Phase: NoPeer,
				Reason: fmt.Sprintf("%d receives with no matching send", len(in))}
		}
	}
	return nil
}
