// Package run drives repeated executions of one compiled plan.
//
// The Coordinator counts proposals and completions reported by participants,
// timestamps each run on a Clock, resets every participant between runs and
// signals shutdown after the last one. It never touches the plan itself.
package run

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/collsim/internal/delivery"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/rs/zerolog/log"
)

var ErrNotStarted = errors.New("run: coordinator not started")

// Clock reports elapsed time since the experiment began.
type Clock interface {
	Now() time.Duration
}

// WallClock measures real elapsed time from its creation.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) Now() time.Duration { return time.Since(c.start) }

// Participant is the coordinator's handle on one delivery state machine.
type Participant interface {
	Start() error
	Reset()
}

// Observer is notified of run lifecycle and participant events.
type Observer interface {
	Event(ev delivery.Event)
	RunFinished(res Result)
}

// Result holds the timestamps of one run, relative to the experiment clock.
type Result struct {
	Run          int
	Start        time.Duration
	AllProposals time.Duration
	AllDone      time.Duration
}

// Duration is the time from start until every participant finished.
func (r Result) Duration() time.Duration { return r.AllDone - r.Start }

// Config selects the run count and the participant that starts each run.
type Config struct {
	Runs   int
	Origin int
	// Label tags log lines, usually the experiment name.
	Label string
}

// Coordinator is safe for concurrent use, but events for a run must reach it
// through Handle in the order participants produced them.
type Coordinator struct {
	mu sync.Mutex

	cfg          Config
	clock        Clock
	participants []Participant
	observers    []Observer

	started   bool
	run       int
	proposals int
	completed int
	finished  []bool
	current   Result
	results   []Result
	err       error

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New builds a coordinator over participants, indexed by participant id.
func New(cfg Config, clock Clock, participants []Participant, observers ...Observer) (*Coordinator, error) {
	if len(participants) < 2 {
		return nil, plan.Configf("n", "need at least 2 participants, got %d", len(participants))
	}
	if cfg.Runs < 1 {
		return nil, plan.Configf("runs", "run count %d must be at least 1", cfg.Runs)
	}
	if cfg.Origin < 0 || cfg.Origin >= len(participants) {
		return nil, plan.Configf("origin", "origin %d outside [0,%d)", cfg.Origin, len(participants))
	}
	return &Coordinator{
		cfg:          cfg,
		clock:        clock,
		participants: participants,
		observers:    observers,
		finished:     make([]bool, len(participants)),
		shutdown:     make(chan struct{}),
	}, nil
}

// Start begins the first run.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("run: coordinator already started")
	}
	c.started = true
	return c.begin()
}

// Handle applies one participant event. It returns an error for invariant
// breaks; the caller is expected to abort the experiment.
func (c *Coordinator) Handle(ev delivery.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	if c.err != nil {
		return c.err
	}
	if ev.Participant < 0 || ev.Participant >= len(c.participants) {
		return c.fail(&plan.InvariantError{Participant: ev.Participant, Peer: ev.Peer, Phase: ev.Phase,
			Reason: fmt.Sprintf("%s event from unknown participant", ev.Kind)})
	}
	if c.run >= c.cfg.Runs {
		return c.fail(&plan.InvariantError{Participant: ev.Participant, Peer: ev.Peer, Phase: ev.Phase,
			Reason: fmt.Sprintf("%s event after the final run", ev.Kind)})
	}
	for _, o := range c.observers {
		o.Event(ev)
	}

	switch ev.Kind {
	case delivery.ProposalReceived:
		c.proposals++
		if c.proposals == len(c.participants) {
			c.current.AllProposals = c.clock.Now()
		}
	case delivery.ParticipantDone:
		if c.finished[ev.Participant] {
			return c.fail(&plan.InvariantError{Participant: ev.Participant, Peer: plan.NoPeer, Phase: plan.NoPeer,
				Reason: fmt.Sprintf("finished twice in run %d", c.run)})
		}
		c.finished[ev.Participant] = true
		c.completed++
		if c.completed == len(c.participants) {
			return c.finishRun()
		}
	}
	return nil
}

// IsRunComplete reports whether every participant finished the current run.
func (c *Coordinator) IsRunComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed == len(c.participants)
}

// Reset clears run counters and returns every participant to Idle. The run
// index is kept.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Fail aborts the experiment with err and signals shutdown.
func (c *Coordinator) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.fail(err)
}

// Err returns the error that aborted the experiment, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Shutdown is closed after the final run or on failure.
func (c *Coordinator) Shutdown() <-chan struct{} { return c.shutdown }

// Results returns the finished runs in order.
func (c *Coordinator) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

// Progress reports the current run index and counters.
func (c *Coordinator) Progress() (run, proposals, completed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run, c.proposals, c.completed
}

func (c *Coordinator) resetLocked() {
	c.proposals = 1
	c.completed = 0
	clear(c.finished)
	for _, p := range c.participants {
		p.Reset()
	}
}

// begin resets state and kicks every participant, origin first. Participants
// whose plan opens with a receive only get marked started.
func (c *Coordinator) begin() error {
	c.resetLocked()
	c.current = Result{Run: c.run, Start: c.clock.Now()}
	log.Debug().
		Str("experiment", c.cfg.Label).
		Int("run", c.run).
		Dur("at", c.current.Start).
		Msg("run.begin")
	order := make([]int, 0, len(c.participants))
	order = append(order, c.cfg.Origin)
	for id := range c.participants {
		if id != c.cfg.Origin {
			order = append(order, id)
		}
	}
	for _, id := range order {
		if err := c.participants[id].Start(); err != nil {
			return c.fail(fmt.Errorf("run: start participant %d in run %d: %w", id, c.run, err))
		}
	}
	return nil
}

func (c *Coordinator) finishRun() error {
	c.current.AllDone = c.clock.Now()
	res := c.current
	c.results = append(c.results, res)
	for _, o := range c.observers {
		o.RunFinished(res)
	}

	last := c.run == c.cfg.Runs-1
	event := log.Debug()
	if last {
		event = log.Info()
	}
	event.
		Str("experiment", c.cfg.Label).
		Int("run", res.Run).
		Int("n", len(c.participants)).
		Dur("all_proposals", res.AllProposals-res.Start).
		Dur("all_done", res.Duration()).
		Msg("run.finishRun run complete")

	c.run++
	if last {
		c.shutdownOnce.Do(func() { close(c.shutdown) })
		return nil
	}
	return c.begin()
}

func (c *Coordinator) fail(err error) error {
	if c.err == nil {
		c.err = err
		log.Error().Err(err).Str("experiment", c.cfg.Label).Int("run", c.run).Msg("run aborted")
	}
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	return c.err
}
