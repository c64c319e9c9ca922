// Package experiment wires a topology, a compiled plan, a transport, one
// delivery state machine per participant and a run coordinator into a
// single runnable experiment.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/collsim/internal/delivery"
	"github.com/danmuck/collsim/internal/observability"
	"github.com/danmuck/collsim/internal/pattern"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/run"
	"github.com/danmuck/collsim/internal/sim"
	"github.com/danmuck/collsim/internal/topology"
	"github.com/danmuck/collsim/internal/transport"
	"github.com/danmuck/collsim/internal/transport/memnet"
	"github.com/danmuck/collsim/internal/transport/tcpnet"
	"github.com/rs/zerolog/log"
)

// ErrStalled means the event source went quiet before every run finished.
var ErrStalled = errors.New("experiment: stalled before all runs completed")

// Report is the outcome of one experiment.
type Report struct {
	Name       string
	Config     Config
	Assignment *topology.Assignment
	Plan       *plan.Plan
	Results    []run.Result
	// Elapsed is virtual time for sim runs and wall time for live runs.
	Elapsed time.Duration
}

// Compile builds the assignment and plan for cfg without running anything.
func Compile(cfg Config) (*topology.Assignment, *plan.Plan, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, nil, err
	}
	a, err := topology.New(topology.Options{
		Layout:     cfg.Layout,
		N:          cfg.N,
		Origin:     cfg.Origin,
		Groups:     cfg.Groups,
		Contiguous: cfg.Contiguous,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, nil, err
	}
	p, err := pattern.Compile(a, cfg.Params())
	if err != nil {
		return nil, nil, err
	}
	return a, p, nil
}

// Run compiles and executes cfg, writing results when ResultsDir is set.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	a, p, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	report := &Report{Name: cfg.ExperimentName(), Config: cfg, Assignment: a, Plan: p}
	log.Info().
		Str("experiment", report.Name).
		Str("topology", a.String()).
		Int("depth", p.Depth).
		Int("steps", p.Len()).
		Int("runs", cfg.Runs).
		Str("transport", string(cfg.Transport)).
		Msg("experiment.Run starting")

	switch cfg.Transport {
	case TransportTCP:
		err = runLive(ctx, cfg, report)
	default:
		err = runSim(ctx, cfg, report)
	}
	if err != nil {
		return report, err
	}
	if cfg.ResultsDir != "" {
		path, err := WriteResults(cfg.ResultsDir, report.Name, cfg.N, report.Results)
		if err != nil {
			return report, err
		}
		log.Info().Str("experiment", report.Name).Str("path", path).Msg("experiment.Run results written")
	}
	return report, nil
}

// metricsObserver feeds coordinator events into the prometheus collectors.
type metricsObserver struct {
	name string
	n    int
}

func (o metricsObserver) Event(ev delivery.Event) {
	observability.RecordDeliveryEvent(o.name, ev.Kind.String())
}

func (o metricsObserver) RunFinished(res run.Result) {
	observability.RecordRun(o.name, o.n, res.Duration())
}

// buildParticipants creates one state machine per participant on tr.
func buildParticipants(p *plan.Plan, tr delivery.Sender, sink delivery.Sink) ([]*delivery.Participant, []run.Participant, error) {
	parts := make([]*delivery.Participant, p.N)
	handles := make([]run.Participant, p.N)
	for id := 0; id < p.N; id++ {
		pt, err := delivery.New(id, p, tr, sink)
		if err != nil {
			return nil, nil, err
		}
		parts[id] = pt
		handles[id] = pt
	}
	return parts, handles, nil
}

// route builds the transport handler that forwards callbacks to participants.
func route(name, kind string, parts []*delivery.Participant, fail func(error)) transport.Handler {
	return transport.HandlerFuncs{
		Arrived: func(ch transport.Channel, n int) {
			observability.RecordBytesDelivered(name, kind, n)
			if err := parts[ch.To].OnBytesArrived(ch.From, n); err != nil {
				fail(err)
			}
		},
		Writable: func(ch transport.Channel) {
			if err := parts[ch.From].OnWritable(ch.To); err != nil {
				fail(err)
			}
		},
	}
}

func runSim(ctx context.Context, cfg Config, report *Report) error {
	sched := sim.New()
	nw := memnet.New(sched, report.Assignment, cfg.N, memnet.Config{
		SendBuffer: cfg.SendBuffer,
		Jitter:     cfg.Jitter,
		Seed:       cfg.Seed,
	})
	defer nw.Close()

	var coord *run.Coordinator
	sink := delivery.SinkFunc(func(ev delivery.Event) {
		// Coordinator work is queued, never run inside a participant callback.
		if err := sched.Schedule(0, func() {
			if err := coord.Handle(ev); err != nil {
				sched.Fail(err)
			}
		}); err != nil && !errors.Is(err, sim.ErrStopped) {
			sched.Fail(err)
		}
	})
	parts, handles, err := buildParticipants(report.Plan, nw, sink)
	if err != nil {
		return err
	}
	nw.SetHandler(route(report.Name, "memnet", parts, sched.Fail))

	coord, err = run.New(run.Config{Runs: cfg.Runs, Origin: report.Plan.Origin, Label: report.Name},
		sched, handles, metricsObserver{name: report.Name, n: cfg.N})
	if err != nil {
		return err
	}
	if err := sched.Schedule(0, func() {
		if err := coord.Start(); err != nil {
			sched.Fail(err)
		}
	}); err != nil {
		return err
	}
	runErr := sched.Run(ctx)
	report.Results = coord.Results()
	report.Elapsed = sched.Now()
	if runErr != nil {
		return fmt.Errorf("experiment %s: %w", report.Name, runErr)
	}
	if err := coord.Err(); err != nil {
		return fmt.Errorf("experiment %s: %w", report.Name, err)
	}
	if len(report.Results) != cfg.Runs {
		return fmt.Errorf("%w: %s finished %d of %d runs", ErrStalled, report.Name, len(report.Results), cfg.Runs)
	}
	log.Debug().
		Str("experiment", report.Name).
		Uint64("segments", nw.Stats().Segments).
		Uint64("bytes", nw.Stats().BytesArrived).
		Dur("virtual_time", report.Elapsed).
		Msg("experiment.runSim finished")
	return nil
}

// mailbox is an unbounded event queue so a participant never blocks on the
// coordinator that may be calling into it.
type mailbox struct {
	mu     sync.Mutex
	events []delivery.Event
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) Emit(ev delivery.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []delivery.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events
}

func runLive(ctx context.Context, cfg Config, report *Report) error {
	nw, err := tcpnet.Listen(cfg.N, tcpnet.DefaultConfig())
	if err != nil {
		return err
	}
	defer nw.Close()

	box := newMailbox()
	clock := run.NewWallClock()
	var coord *run.Coordinator
	fail := func(err error) { coord.Fail(err) }

	parts, handles, err := buildParticipants(report.Plan, nw, box)
	if err != nil {
		return err
	}
	coord, err = run.New(run.Config{Runs: cfg.Runs, Origin: report.Plan.Origin, Label: report.Name},
		clock, handles, metricsObserver{name: report.Name, n: cfg.N})
	if err != nil {
		return err
	}
	nw.SetHandler(route(report.Name, "tcpnet", parts, fail))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := coord.Start(); err != nil {
		return err
	}
	for done := false; !done; {
		select {
		case <-box.signal:
			for _, ev := range box.take() {
				if err := coord.Handle(ev); err != nil {
					done = true
					break
				}
			}
		case <-coord.Shutdown():
			done = true
		case <-ctx.Done():
			coord.Fail(fmt.Errorf("%w: %v", ErrStalled, ctx.Err()))
			done = true
		}
	}

	report.Results = coord.Results()
	report.Elapsed = clock.Now()
	if err := coord.Err(); err != nil {
		return fmt.Errorf("experiment %s: %w", report.Name, err)
	}
	return nil
}
