package delivery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/testutil/testlog"
	"github.com/danmuck/collsim/internal/transport"
)

type recordingSender struct {
	// capacity is the number of bytes still accepted; negative means unbounded.
	capacity int
	writes   map[int][]int
	opened   []int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{capacity: -1, writes: make(map[int][]int)}
}

func (s *recordingSender) Open(from, to int) (transport.Channel, error) {
	s.opened = append(s.opened, to)
	return transport.Channel{ID: transport.ChannelID(len(s.opened)), From: from, To: to}, nil
}

func (s *recordingSender) SendBytes(ch transport.Channel, n int) (int, error) {
	if s.capacity >= 0 {
		n = min(n, s.capacity)
		s.capacity -= n
	}
	if n > 0 {
		s.writes[ch.To] = append(s.writes[ch.To], n)
	}
	return n, nil
}

func (s *recordingSender) total(peer int) int {
	sum := 0
	for _, n := range s.writes[peer] {
		sum += n
	}
	return sum
}

type eventLog []Event

func (l *eventLog) Emit(ev Event) { *l = append(*l, ev) }

func (l eventLog) kinds() []EventKind {
	out := make([]EventKind, 0, len(l))
	for _, ev := range l {
		out = append(out, ev.Kind)
	}
	return out
}

// gatherPlan: participant 0 receives from 1 then 2, then answers 1.
func gatherPlan() *plan.Plan {
	return &plan.Plan{
		Family: plan.FamilyFlat,
		N:      3,
		Unit:   plan.HMACSize,
		Steps: [][]plan.Step{
			{
				{Dir: plan.Receive, Peer: 1, Size: 32, Phase: 1},
				{Dir: plan.Receive, Peer: 2, Size: 32, Phase: 1},
				{Dir: plan.Send, Peer: 1, Size: 64, Phase: 2},
			},
			{
				{Dir: plan.Send, Peer: 0, Size: 32, Phase: 1},
				{Dir: plan.Receive, Peer: 0, Size: 64, Phase: 2},
			},
			{
				{Dir: plan.Send, Peer: 0, Size: 32, Phase: 1},
			},
		},
	}
}

func TestEarlyArrivalIsBufferedThenDrained(t *testing.T) {
	testlog.Start(t)

	var events eventLog
	tr := newRecordingSender()
	p, err := New(0, gatherPlan(), tr, &events)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.OnBytesArrived(2, 32); err != nil {
		t.Fatalf("early arrival: %v", err)
	}
	if got := p.Buffered(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected peer 2 buffered, got %v", got)
	}
	if p.Cursor() != 0 {
		t.Fatalf("cursor moved on an early arrival: %d", p.Cursor())
	}

	if err := p.OnBytesArrived(1, 32); err != nil {
		t.Fatalf("expected arrival: %v", err)
	}
	if p.State() != Done || p.Cursor() != 3 {
		t.Fatalf("expected done at cursor 3, got %s at %d", p.State(), p.Cursor())
	}
	if len(p.Buffered()) != 0 {
		t.Fatalf("buffer not drained: %v", p.Buffered())
	}
	if tr.total(1) != 64 {
		t.Fatalf("expected 64 bytes to peer 1, got %d", tr.total(1))
	}
	want := []EventKind{Buffered, ProposalReceived, StepCompleted, Drained, StepCompleted, StepCompleted, ParticipantDone}
	got := events.kinds()
	if len(got) != len(want) {
		t.Fatalf("events=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d=%s want %s (all %v)", i, got[i], want[i], got)
		}
	}
}

func TestBytesCarryAcrossMessageBoundaries(t *testing.T) {
	testlog.Start(t)

	pl := &plan.Plan{
		N: 2,
		Steps: [][]plan.Step{
			{{Dir: plan.Send, Peer: 1, Size: 32}, {Dir: plan.Send, Peer: 1, Size: 64}},
			{{Dir: plan.Receive, Peer: 0, Size: 32}, {Dir: plan.Receive, Peer: 0, Size: 64}},
		},
	}
	p, err := New(1, pl, newRecordingSender(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.OnBytesArrived(0, 50); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if p.Cursor() != 1 {
		t.Fatalf("first message should complete with excess carried, cursor=%d", p.Cursor())
	}
	if err := p.OnBytesArrived(0, 45); err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if p.State() == Done {
		t.Fatalf("second message completed one byte early")
	}
	if err := p.OnBytesArrived(0, 1); err != nil {
		t.Fatalf("last byte: %v", err)
	}
	if p.State() != Done {
		t.Fatalf("expected done, got %s", p.State())
	}

	err = p.OnBytesArrived(0, 1)
	if !errors.Is(err, plan.ErrInvariant) {
		t.Fatalf("expected invariant violation for surplus bytes, got %v", err)
	}
	var inv *plan.InvariantError
	if !errors.As(err, &inv) || inv.Participant != 1 || inv.Peer != 0 {
		t.Fatalf("violation lacks context: %v", err)
	}
}

func TestBytesFromUnplannedPeerAreRejected(t *testing.T) {
	testlog.Start(t)

	p, err := New(2, gatherPlan(), newRecordingSender(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.OnBytesArrived(1, 8); !errors.Is(err, plan.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestResetReturnsToIdleFromAnyPoint(t *testing.T) {
	testlog.Start(t)

	pl := gatherPlan()
	for stop := 0; stop <= 3; stop++ {
		var events eventLog
		p, err := New(0, pl, newRecordingSender(), &events)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		feed := []struct{ peer, n int }{{2, 32}, {1, 10}, {1, 22}}
		for _, f := range feed[:stop] {
			if err := p.OnBytesArrived(f.peer, f.n); err != nil {
				t.Fatalf("stop=%d: %v", stop, err)
			}
		}
		p.Reset()
		p.Reset()
		if p.Cursor() != 0 || len(p.Buffered()) != 0 || p.State() != Idle {
			t.Fatalf("stop=%d: reset left cursor=%d buffered=%v state=%s", stop, p.Cursor(), p.Buffered(), p.State())
		}

		events = events[:0]
		for _, f := range []struct{ peer, n int }{{1, 32}, {2, 32}} {
			if err := p.OnBytesArrived(f.peer, f.n); err != nil {
				t.Fatalf("stop=%d replay: %v", stop, err)
			}
		}
		if p.State() != Done {
			t.Fatalf("stop=%d: replay did not complete", stop)
		}
	}
}

func TestBackpressureWaitsForWritable(t *testing.T) {
	testlog.Start(t)

	pl := &plan.Plan{
		N: 2,
		Steps: [][]plan.Step{
			{{Dir: plan.Send, Peer: 1, Size: 4000}},
			{{Dir: plan.Receive, Peer: 0, Size: 4000}},
		},
	}
	tr := newRecordingSender()
	tr.capacity = 1500
	p, err := New(0, pl, tr, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.State() != Done {
		t.Fatalf("send steps complete when issued, got %s", p.State())
	}
	if got := p.Pending(1); got != 2500 {
		t.Fatalf("pending=%d want 2500", got)
	}
	if w := tr.writes[1]; len(w) != 2 || w[0] != transport.SegmentSize || w[1] != 64 {
		t.Fatalf("writes=%v", w)
	}

	tr.capacity = -1
	if err := p.OnWritable(1); err != nil {
		t.Fatalf("writable: %v", err)
	}
	if got := p.Pending(1); got != 0 {
		t.Fatalf("pending=%d after writable", got)
	}
	if tr.total(1) != 4000 {
		t.Fatalf("sent %d bytes want 4000", tr.total(1))
	}
	for _, n := range tr.writes[1] {
		if n > transport.SegmentSize {
			t.Fatalf("write of %d exceeds segment size", n)
		}
	}
}

func TestNewRejectsUnknownParticipant(t *testing.T) {
	testlog.Start(t)

	if _, err := New(3, gatherPlan(), newRecordingSender(), nil); !errors.Is(err, plan.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// stallingSink holds the first ProposalReceived until release is closed.
type stallingSink struct {
	mu      sync.Mutex
	events  []EventKind
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSink) Emit(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev.Kind)
	s.mu.Unlock()
	if ev.Kind == ProposalReceived {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
}

func TestConcurrentArrivalsKeepEventOrder(t *testing.T) {
	testlog.Start(t)

	sink := &stallingSink{entered: make(chan struct{}), release: make(chan struct{})}
	p, err := New(0, gatherPlan(), newRecordingSender(), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- p.OnBytesArrived(1, 32)
	}()
	<-sink.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- p.OnBytesArrived(2, 32)
	}()
	// Give the second reader time to race the stalled sink.
	time.Sleep(20 * time.Millisecond)
	close(sink.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("arrival: %v", err)
		}
	}

	want := []EventKind{ProposalReceived, StepCompleted, StepCompleted, StepCompleted, ParticipantDone}
	sink.mu.Lock()
	got := append([]EventKind(nil), sink.events...)
	sink.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("events=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d=%s want %s (all %v)", i, got[i], want[i], got)
		}
	}
}
