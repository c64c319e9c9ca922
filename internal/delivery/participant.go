// Package delivery drives one participant through its compiled plan.
//
// A Participant owns a cursor into its plan, per-peer inbound byte counters,
// per-peer outbound queues and a FIFO buffer of messages that completed
// before the cursor asked for them. Streams are byte-continuous: bytes past
// the end of one message count toward the next message from the same peer.
package delivery

import (
	"fmt"
	"sync"

	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/transport"
	"github.com/rs/zerolog/log"
)

// State is the coarse lifecycle of a participant within one run.
type State int

const (
	Idle State = iota
	Waiting
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sender is the part of the transport a participant writes through.
type Sender interface {
	Open(from, to int) (transport.Channel, error)
	SendBytes(ch transport.Channel, n int) (int, error)
}

type inbound struct {
	// sizes are this participant's receive steps from the peer, in order.
	sizes []int
	next  int
	got   int
}

type outbound struct {
	ch    transport.Channel
	queue []int
	sent  int
}

// Participant is the delivery state machine of one plan participant. All
// methods are safe for concurrent use. Events reach the Sink while the
// participant's lock is held, so callers on different goroutines observe one
// participant's events in the order they happened. A Sink must not block
// indefinitely or call back into the participant.
type Participant struct {
	mu sync.Mutex

	id    int
	steps []plan.Step
	tr    Sender
	sink  Sink

	cursor  int
	started bool
	done    bool
	// buffer holds peers whose message completed ahead of the cursor, oldest first.
	buffer []int
	in     map[int]*inbound
	out    map[int]*outbound

	pending []Event
}

// New builds participant id of p, opening a channel to every peer it sends to.
func New(id int, p *plan.Plan, tr Sender, sink Sink) (*Participant, error) {
	if id < 0 || id >= p.N {
		return nil, plan.Configf("participant", "id %d outside [0,%d)", id, p.N)
	}
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	pt := &Participant{
		id:    id,
		steps: p.Participant(id),
		tr:    tr,
		sink:  sink,
		in:    make(map[int]*inbound),
		out:   make(map[int]*outbound),
	}
	for _, s := range pt.steps {
		switch s.Dir {
		case plan.Receive:
			if pt.in[s.Peer] == nil {
				pt.in[s.Peer] = &inbound{}
			}
			pt.in[s.Peer].sizes = append(pt.in[s.Peer].sizes, s.Size)
		case plan.Send:
			if pt.out[s.Peer] != nil {
				continue
			}
			ch, err := tr.Open(id, s.Peer)
			if err != nil {
				return nil, fmt.Errorf("delivery: participant %d open channel to %d: %w", id, s.Peer, err)
			}
			pt.out[s.Peer] = &outbound{ch: ch}
		}
	}
	return pt, nil
}

// ID returns the participant id.
func (p *Participant) ID() int { return p.id }

// Start issues every step the participant can take without waiting. For a
// participant whose plan opens with a receive this only marks it started.
func (p *Participant) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	err := p.advance()
	p.emit(p.takeEvents())
	return err
}

// OnBytesArrived accounts n bytes from peer against that peer's open
// message, carrying any excess into the next message on the stream.
func (p *Participant) OnBytesArrived(peer, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.arrive(peer, n)
	p.emit(p.takeEvents())
	return err
}

// OnWritable resumes pumping queued bytes to peer.
func (p *Participant) OnWritable(peer int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pump(peer)
}

// Reset returns the participant to Idle for the next run. Backing storage is
// reused.
func (p *Participant) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = 0
	p.started = false
	p.done = false
	p.buffer = p.buffer[:0]
	p.pending = p.pending[:0]
	for _, in := range p.in {
		in.next = 0
		in.got = 0
	}
	for _, out := range p.out {
		out.queue = out.queue[:0]
		out.sent = 0
	}
}

// Cursor returns the index of the next step to issue or complete.
func (p *Participant) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Buffered returns a copy of the buffered peers, oldest first.
func (p *Participant) Buffered() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.buffer...)
}

// State reports where the participant is in its run.
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.done:
		return Done
	case p.started || p.cursor > 0:
		return Waiting
	default:
		return Idle
	}
}

// Pending returns the bytes still queued toward peer.
func (p *Participant) Pending(peer int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out[peer]
	if out == nil {
		return 0
	}
	total := -out.sent
	for _, size := range out.queue {
		total += size
	}
	return total
}

func (p *Participant) arrive(peer, n int) error {
	in := p.in[peer]
	if in == nil {
		return p.violation(peer, "bytes from a peer the plan never receives from")
	}
	for n > 0 {
		if in.next >= len(in.sizes) {
			return p.violation(peer, fmt.Sprintf("%d bytes beyond the last expected message", n))
		}
		want := in.sizes[in.next] - in.got
		take := min(want, n)
		in.got += take
		n -= take
		if in.got < in.sizes[in.next] {
			continue
		}
		in.next++
		in.got = 0
		if err := p.complete(peer); err != nil {
			return err
		}
	}
	return nil
}

// complete handles one fully received message from peer: consumed if the
// cursor expects it, buffered otherwise. The buffer bound is a backstop: arrive
// already rejects bytes past the last message expected from peer, so it cannot
// trip on its own.
func (p *Participant) complete(peer int) error {
	if p.expects(peer) {
		p.started = true
		p.consume()
		return p.advance()
	}
	if p.done {
		return p.violation(peer, "message arrived after the plan completed")
	}
	if held, left := p.countBuffered(peer), p.remainingFrom(peer); held >= left {
		return p.violation(peer, fmt.Sprintf("buffer holds %d messages but only %d receives remain", held, left))
	}
	p.buffer = append(p.buffer, peer)
	p.record(Buffered, peer)
	log.Trace().
		Int("participant", p.id).
		Int("peer", peer).
		Int("cursor", p.cursor).
		Msg("delivery.complete buffered early message")
	return nil
}

func (p *Participant) expects(peer int) bool {
	if p.cursor >= len(p.steps) {
		return false
	}
	s := p.steps[p.cursor]
	return s.Dir == plan.Receive && s.Peer == peer
}

// consume completes the receive step at the cursor.
func (p *Participant) consume() {
	s := p.steps[p.cursor]
	if p.cursor == 0 {
		p.record(ProposalReceived, s.Peer)
	}
	p.record(StepCompleted, s.Peer)
	p.cursor++
}

// advance issues send steps and drains buffered receives until the cursor
// rests on a receive that has not arrived, or the plan ends. The non-empty
// buffer check at completion is a backstop for the inbound ledger and is not
// reachable through OnBytesArrived.
func (p *Participant) advance() error {
	for p.cursor < len(p.steps) {
		s := p.steps[p.cursor]
		if s.Dir == plan.Send {
			out := p.out[s.Peer]
			out.queue = append(out.queue, s.Size)
			p.record(StepCompleted, s.Peer)
			p.cursor++
			if err := p.pump(s.Peer); err != nil {
				return err
			}
			continue
		}
		if !p.takeBuffered(s.Peer) {
			break
		}
		p.record(Drained, s.Peer)
		p.consume()
	}
	if p.cursor < len(p.steps) || p.done {
		return nil
	}
	if len(p.buffer) > 0 {
		return p.violation(p.buffer[0], fmt.Sprintf("plan completed with %d buffered messages", len(p.buffer)))
	}
	p.done = true
	p.record(ParticipantDone, plan.NoPeer)
	return nil
}

func (p *Participant) takeBuffered(peer int) bool {
	for i, b := range p.buffer {
		if b == peer {
			p.buffer = append(p.buffer[:i], p.buffer[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Participant) countBuffered(peer int) int {
	count := 0
	for _, b := range p.buffer {
		if b == peer {
			count++
		}
	}
	return count
}

func (p *Participant) remainingFrom(peer int) int {
	count := 0
	for _, s := range p.steps[p.cursor:] {
		if s.Dir == plan.Receive && s.Peer == peer {
			count++
		}
	}
	return count
}

// pump writes queued bytes toward peer until the queue is empty or the
// transport stops accepting.
func (p *Participant) pump(peer int) error {
	out := p.out[peer]
	if out == nil {
		return nil
	}
	for len(out.queue) > 0 {
		want := min(out.queue[0]-out.sent, transport.SegmentSize)
		accepted, err := p.tr.SendBytes(out.ch, want)
		if err != nil {
			return fmt.Errorf("delivery: participant %d send to %d: %w", p.id, peer, err)
		}
		if accepted <= 0 {
			return nil
		}
		out.sent += accepted
		if out.sent == out.queue[0] {
			out.queue = out.queue[1:]
			out.sent = 0
		}
	}
	return nil
}

func (p *Participant) phase() int {
	if p.cursor < len(p.steps) {
		return p.steps[p.cursor].Phase
	}
	return plan.NoPeer
}

func (p *Participant) violation(peer int, reason string) error {
	return &plan.InvariantError{
		Participant: p.id,
		Peer:        peer,
		Phase:       p.phase(),
		Reason:      fmt.Sprintf("cursor %d/%d: %s", p.cursor, len(p.steps), reason),
	}
}

func (p *Participant) record(kind EventKind, peer int) {
	p.pending = append(p.pending, Event{Kind: kind, Participant: p.id, Peer: peer, Phase: p.phase(), Step: p.cursor})
}

func (p *Participant) takeEvents() []Event {
	if len(p.pending) == 0 {
		return nil
	}
	events := append([]Event(nil), p.pending...)
	p.pending = p.pending[:0]
	return events
}

func (p *Participant) emit(events []Event) {
	for _, ev := range events {
		p.sink.Emit(ev)
	}
}
