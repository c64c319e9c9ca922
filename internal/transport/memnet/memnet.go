// Package memnet is an in-memory transport on the sim virtual clock.
//
// Every channel has a bounded send buffer. Accepted bytes are cut into
// segments, serialised at the link rate and delivered after the link
// latency plus optional jitter. Segments on one channel never overtake each
// other; segments on different channels interleave freely.
package memnet

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/collsim/internal/sim"
	"github.com/danmuck/collsim/internal/topology"
	"github.com/danmuck/collsim/internal/transport"
	"github.com/rs/zerolog/log"
)

// DefaultSendBuffer is the per-channel send buffer in bytes.
const DefaultSendBuffer = 128 << 10

// Links supplies the path profile between two participants.
type Links interface {
	Link(from, to int) topology.Link
}

// Config tunes the simulated network.
type Config struct {
	SendBuffer int
	// Jitter is the upper bound of extra per-segment delay.
	Jitter time.Duration
	Seed   int64
}

func DefaultConfig() Config {
	return Config{SendBuffer: DefaultSendBuffer}
}

// Stats counts traffic since the network was created.
type Stats struct {
	Segments     uint64
	BytesSent    uint64
	BytesArrived uint64
	ShortWrites  uint64
}

type channel struct {
	transport.Channel
	link topology.Link

	queued int
	// busyUntil is when the sender side finishes serialising queued bytes.
	busyUntil   time.Duration
	lastArrival time.Duration
	blocked     bool
}

// Network implements transport.Transport on a sim.Scheduler.
type Network struct {
	sched   *sim.Scheduler
	links   Links
	n       int
	cfg     Config
	rng     *rand.Rand
	handler transport.Handler
	closed  bool

	channels []*channel
	byPair   map[[2]int]*channel
	stats    Stats
}

// New builds a network of n participants.
func New(sched *sim.Scheduler, links Links, n int, cfg Config) *Network {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	return &Network{
		sched:   sched,
		links:   links,
		n:       n,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		handler: transport.HandlerFuncs{},
		byPair:  make(map[[2]int]*channel),
	}
}

func (nw *Network) SetHandler(h transport.Handler) {
	nw.handler = h
}

func (nw *Network) Open(from, to int) (transport.Channel, error) {
	if nw.closed {
		return transport.Channel{}, transport.ErrClosed
	}
	if from < 0 || from >= nw.n || to < 0 || to >= nw.n || from == to {
		return transport.Channel{}, fmt.Errorf("memnet: open %d->%d with %d participants", from, to, nw.n)
	}
	key := [2]int{from, to}
	if c, ok := nw.byPair[key]; ok {
		return c.Channel, nil
	}
	c := &channel{
		Channel: transport.Channel{ID: transport.ChannelID(len(nw.channels)), From: from, To: to},
		link:    nw.links.Link(from, to),
	}
	nw.channels = append(nw.channels, c)
	nw.byPair[key] = c
	return c.Channel, nil
}

func (nw *Network) SendBytes(ch transport.Channel, n int) (int, error) {
	if nw.closed {
		return 0, transport.ErrClosed
	}
	if int(ch.ID) < 0 || int(ch.ID) >= len(nw.channels) {
		return 0, fmt.Errorf("%w: %s", transport.ErrUnknownChannel, ch)
	}
	c := nw.channels[ch.ID]
	accepted := min(n, nw.cfg.SendBuffer-c.queued)
	if accepted <= 0 {
		c.blocked = true
		nw.stats.ShortWrites++
		return 0, nil
	}
	if accepted < n {
		c.blocked = true
		nw.stats.ShortWrites++
	}

	now := nw.sched.Now()
	for sent := 0; sent < accepted; {
		seg := min(accepted-sent, transport.SegmentSize)
		if err := nw.transmit(c, seg, now); err != nil {
			return sent, err
		}
		sent += seg
		nw.stats.BytesSent += uint64(seg)
	}
	return accepted, nil
}

// transmit schedules one segment. The channel only accounts seg once its
// drain is scheduled, so a failed segment leaves the send buffer untouched.
func (nw *Network) transmit(c *channel, seg int, now time.Duration) error {
	start := max(now, c.busyUntil)
	done := start + c.link.Serialization(seg)
	arrival := done + c.link.Latency
	if nw.cfg.Jitter > 0 {
		arrival += time.Duration(nw.rng.Int63n(int64(nw.cfg.Jitter) + 1))
	}
	arrival = max(arrival, c.lastArrival)

	if err := nw.sched.At(done, func() { nw.drained(c, seg) }); err != nil {
		return err
	}
	c.queued += seg
	c.busyUntil = done
	c.lastArrival = arrival
	nw.stats.Segments++
	return nw.sched.At(arrival, func() {
		nw.stats.BytesArrived += uint64(seg)
		nw.handler.OnBytesArrived(c.Channel, seg)
	})
}

// drained frees send buffer space once a segment leaves the sender.
func (nw *Network) drained(c *channel, seg int) {
	c.queued -= seg
	if !c.blocked || c.queued >= nw.cfg.SendBuffer {
		return
	}
	c.blocked = false
	log.Trace().
		Int("from", c.From).
		Int("to", c.To).
		Int("queued", c.queued).
		Msg("memnet.drained channel writable")
	nw.handler.OnWritable(c.Channel)
}

// Stats returns a snapshot of the traffic counters.
func (nw *Network) Stats() Stats { return nw.stats }

func (nw *Network) Close() error {
	nw.closed = true
	return nil
}
