package memnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/collsim/internal/sim"
	"github.com/danmuck/collsim/internal/testutil/testlog"
	"github.com/danmuck/collsim/internal/topology"
	"github.com/danmuck/collsim/internal/transport"
)

type fixedLinks topology.Link

func (l fixedLinks) Link(from, to int) topology.Link { return topology.Link(l) }

type arrival struct {
	at time.Duration
	ch transport.Channel
	n  int
}

func TestSegmentsArriveInOrderAfterLatency(t *testing.T) {
	testlog.Start(t)

	sched := sim.New()
	nw := New(sched, fixedLinks{Latency: 10 * time.Millisecond}, 3, DefaultConfig())
	var got []arrival
	nw.SetHandler(transport.HandlerFuncs{Arrived: func(ch transport.Channel, n int) {
		got = append(got, arrival{at: sched.Now(), ch: ch, n: n})
	}})

	ch, err := nw.Open(0, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	again, err := nw.Open(0, 2)
	if err != nil || again != ch {
		t.Fatalf("reopen returned %v, %v", again, err)
	}
	if accepted, err := nw.SendBytes(ch, 3000); err != nil || accepted != 3000 {
		t.Fatalf("send accepted=%d err=%v", accepted, err)
	}
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []int{transport.SegmentSize, transport.SegmentSize, 3000 - 2*transport.SegmentSize}
	if len(got) != len(want) {
		t.Fatalf("arrivals=%+v", got)
	}
	for i, a := range got {
		if a.n != want[i] || a.at != 10*time.Millisecond || a.ch.To != 2 {
			t.Fatalf("arrival %d=%+v", i, a)
		}
	}
	if st := nw.Stats(); st.BytesArrived != 3000 || st.Segments != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestShortWriteSignalsWritable(t *testing.T) {
	testlog.Start(t)

	sched := sim.New()
	nw := New(sched, fixedLinks{Latency: time.Millisecond, Rate: 1e6}, 2, Config{SendBuffer: 2000})
	writable := 0
	nw.SetHandler(transport.HandlerFuncs{Writable: func(transport.Channel) { writable++ }})
	ch, err := nw.Open(1, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	accepted, err := nw.SendBytes(ch, 3000)
	if err != nil || accepted != 2000 {
		t.Fatalf("accepted=%d err=%v", accepted, err)
	}
	if accepted, _ := nw.SendBytes(ch, 10); accepted != 0 {
		t.Fatalf("full buffer accepted %d bytes", accepted)
	}
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if writable != 1 {
		t.Fatalf("writable fired %d times, want 1", writable)
	}
	// 2000 bytes at 1 MB/s take 2ms to serialise.
	if sched.Now() != 3*time.Millisecond {
		t.Fatalf("last arrival at %s", sched.Now())
	}
}

func TestJitterKeepsChannelOrder(t *testing.T) {
	testlog.Start(t)

	sched := sim.New()
	nw := New(sched, fixedLinks{Latency: time.Millisecond}, 2, Config{Jitter: 5 * time.Millisecond, Seed: 3})
	var at []time.Duration
	nw.SetHandler(transport.HandlerFuncs{Arrived: func(transport.Channel, int) { at = append(at, sched.Now()) }})
	ch, _ := nw.Open(0, 1)
	for i := 0; i < 20; i++ {
		if _, err := nw.SendBytes(ch, 100); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(at) != 20 {
		t.Fatalf("arrivals=%d", len(at))
	}
	for i := 1; i < len(at); i++ {
		if at[i] < at[i-1] {
			t.Fatalf("segment %d overtook its predecessor: %v", i, at)
		}
	}
}

func TestOpenRejectsBadEndpoints(t *testing.T) {
	testlog.Start(t)

	nw := New(sim.New(), fixedLinks{}, 2, DefaultConfig())
	for _, pair := range [][2]int{{0, 0}, {0, 2}, {-1, 1}} {
		if _, err := nw.Open(pair[0], pair[1]); err == nil {
			t.Fatalf("open %v should fail", pair)
		}
	}
	_ = nw.Close()
	if _, err := nw.Open(0, 1); err != transport.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFailedTransmitLeavesBufferUntouched(t *testing.T) {
	testlog.Start(t)

	sched := sim.New()
	nw := New(sched, fixedLinks{Latency: time.Millisecond, Rate: 1e6}, 2, Config{SendBuffer: 4000})
	ch, err := nw.Open(0, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sched.Stop()

	sent, err := nw.SendBytes(ch, 3000)
	if !errors.Is(err, sim.ErrStopped) || sent != 0 {
		t.Fatalf("sent=%d err=%v", sent, err)
	}
	c := nw.channels[ch.ID]
	if c.queued != 0 || c.busyUntil != 0 || c.lastArrival != 0 {
		t.Fatalf("channel state changed by a failed send: %+v", *c)
	}
	if st := nw.Stats(); st.BytesSent != 0 || st.Segments != 0 {
		t.Fatalf("stats=%+v", st)
	}
}
