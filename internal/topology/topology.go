// Package topology assigns participants to groups and describes the links
// between them. It stands in for physical network construction: it only
// provides what the pattern compiler and the simulated transport consume.
package topology

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/collsim/internal/plan"
)

// Layout names a physical arrangement of participants.
type Layout string

const (
	// LayoutStar hangs every participant off one router.
	LayoutStar Layout = "star"
	// LayoutStarAS groups participants behind per-group routers joined by a core router.
	LayoutStarAS Layout = "star_as"
)

// ParseLayout accepts a layout name.
func ParseLayout(raw string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LayoutStar:
		return LayoutStar, nil
	case LayoutStarAS:
		return LayoutStarAS, nil
	default:
		return "", plan.Configf("topology", "unknown layout %q", raw)
	}
}

// Link describes one participant-to-participant path.
type Link struct {
	Latency time.Duration
	// Rate is in bytes per second; 0 means unbounded.
	Rate float64
}

// Serialization returns how long size bytes occupy the sender side of the link.
func (l Link) Serialization(size int) time.Duration {
	if l.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(size) * float64(time.Second) / l.Rate)
}

// Transfer returns how long size bytes take to cross the link.
func (l Link) Transfer(size int) time.Duration {
	return l.Latency + l.Serialization(size)
}

const gbps = 1e9 / 8

// Hop profiles of the point-to-point links behind each layout. A path crosses
// two hops in a star and up to four in star_as (node, group router, core).
var (
	StarHop  = Link{Latency: 100 * time.Millisecond, Rate: 20 * gbps}
	LocalHop = Link{Latency: 1 * time.Millisecond, Rate: 20 * gbps}
	CoreHop  = Link{Latency: 100 * time.Millisecond, Rate: 20 * gbps}
)

// Group is one AS: a leader and its members (leader included).
type Group struct {
	Leader  int
	Members []int
}

// Assignment is the topology provider's view: participant count, grouping
// and link profile.
type Assignment struct {
	Layout Layout
	N      int
	Origin int
	Groups []Group

	groupOf []int
}

// Options configure New.
type Options struct {
	Layout Layout
	N      int
	Origin int
	// Groups is the AS count; 0 selects ceil(N/128).
	Groups int
	// Contiguous keeps ids in order when filling groups; otherwise ids are shuffled.
	Contiguous bool
	Seed       int64
}

// DefaultGroups is the AS count used when none is configured.
func DefaultGroups(n int) int {
	return (n + 127) / 128
}

// New builds an assignment. Star layouts place everyone in a single group led
// by the origin.
func New(opts Options) (*Assignment, error) {
	if opts.N < 2 {
		return nil, plan.Configf("n", "need at least 2 participants, got %d", opts.N)
	}
	if opts.Origin < 0 || opts.Origin >= opts.N {
		return nil, plan.Configf("origin", "origin %d outside [0,%d)", opts.Origin, opts.N)
	}
	if opts.Layout == "" {
		opts.Layout = LayoutStar
	}
	groups := opts.Groups
	if opts.Layout == LayoutStar {
		groups = 1
	} else if groups == 0 {
		groups = DefaultGroups(opts.N)
	}
	if groups < 1 || groups > opts.N {
		return nil, plan.Configf("groups", "%d groups for %d participants", groups, opts.N)
	}

	ids := make([]int, opts.N)
	for i := range ids {
		ids[i] = i
	}
	if !opts.Contiguous {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}

	a := &Assignment{
		Layout:  opts.Layout,
		N:       opts.N,
		Origin:  opts.Origin,
		Groups:  make([]Group, groups),
		groupOf: make([]int, opts.N),
	}
	per := opts.N / groups
	extra := opts.N % groups
	next := 0
	for g := 0; g < groups; g++ {
		size := per
		if g < extra {
			size++
		}
		members := append([]int(nil), ids[next:next+size]...)
		next += size
		leader := members[0]
		for _, m := range members {
			a.groupOf[m] = g
			if m == opts.Origin {
				leader = m
			}
		}
		a.Groups[g] = Group{Leader: leader, Members: members}
	}
	return a, nil
}

// GroupOf returns the group index of participant p.
func (a *Assignment) GroupOf(p int) int {
	return a.groupOf[p]
}

// Validate checks that groups partition [0,N) and leaders are members.
func (a *Assignment) Validate() error {
	if len(a.Groups) == 0 {
		return plan.Configf("groups", "no groups assigned")
	}
	if len(a.groupOf) != a.N {
		return plan.Configf("groups", "group index covers %d of %d participants", len(a.groupOf), a.N)
	}
	seen := make([]bool, a.N)
	for g, group := range a.Groups {
		if len(group.Members) == 0 {
			return plan.Configf("groups", "group %d is empty", g)
		}
		leads := false
		for _, m := range group.Members {
			if m < 0 || m >= a.N {
				return plan.Configf("groups", "group %d member %d outside [0,%d)", g, m, a.N)
			}
			if seen[m] {
				return plan.Configf("groups", "participant %d assigned twice", m)
			}
			seen[m] = true
			if m == group.Leader {
				leads = true
			}
		}
		if !leads {
			return plan.Configf("groups", "group %d leader %d is not a member", g, group.Leader)
		}
	}
	for p, ok := range seen {
		if !ok {
			return plan.Configf("groups", "participant %d has no group", p)
		}
	}
	return nil
}

// Link returns the path profile from participant from to participant to.
func (a *Assignment) Link(from, to int) Link {
	if a.Layout != LayoutStarAS {
		return Link{Latency: 2 * StarHop.Latency, Rate: StarHop.Rate}
	}
	if a.groupOf[from] == a.groupOf[to] {
		return Link{Latency: 2 * LocalHop.Latency, Rate: LocalHop.Rate}
	}
	return Link{Latency: 2*LocalHop.Latency + 2*CoreHop.Latency, Rate: CoreHop.Rate}
}

func (a *Assignment) String() string {
	return fmt.Sprintf("%s n=%d groups=%d origin=%d", a.Layout, a.N, len(a.Groups), a.Origin)
}
