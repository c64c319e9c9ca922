// Package admin serves experiment state over HTTP: health, metrics, run
// results and per-participant plan dumps.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/observability"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var ErrExperimentNotFound = errors.New("experiment not found")

// Runner executes one experiment; experiment.Run in production.
type Runner func(ctx context.Context, cfg experiment.Config) (*experiment.Report, error)

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router *gin.Engine
	runner Runner

	mu      sync.RWMutex
	reports map[string]*experiment.Report
}

func New(id, addr string, corsOrigins []string, runner Runner) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if runner == nil {
		runner = experiment.Run
	}
	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		router:   r,
		runner:   runner,
		reports:  make(map[string]*experiment.Report),
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Record stores a finished experiment under its name and size.
func (s *Server) Record(report *experiment.Report) {
	if report == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[reportKey(report.Name, report.Config.N)] = report
}

func (s *Server) Report(name string, n int) (*experiment.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[reportKey(name, n)]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	return report, nil
}

// Serve blocks serving HTTP until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", s.Addr).Msg("admin server listening")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ExperimentSummary is the list view of one stored report.
type ExperimentSummary struct {
	Name    string            `json:"name"`
	N       int               `json:"n"`
	Family  plan.Family       `json:"family"`
	Depth   int               `json:"depth"`
	Steps   int               `json:"steps"`
	Runs    []RunView         `json:"runs"`
	Elapsed string            `json:"elapsed"`
	Config  experiment.Config `json:"config"`
}

// RunView reports one run in nanoseconds relative to the experiment clock.
type RunView struct {
	Run         int   `json:"run"`
	StartNS     int64 `json:"start_ns"`
	ProposalsNS int64 `json:"all_proposals_ns"`
	DoneNS      int64 `json:"all_done_ns"`
	DurationNS  int64 `json:"duration_ns"`
}

func summarize(report *experiment.Report) ExperimentSummary {
	runs := make([]RunView, 0, len(report.Results))
	for _, r := range report.Results {
		runs = append(runs, RunView{
			Run:         r.Run,
			StartNS:     r.Start.Nanoseconds(),
			ProposalsNS: r.AllProposals.Nanoseconds(),
			DoneNS:      r.AllDone.Nanoseconds(),
			DurationNS:  r.Duration().Nanoseconds(),
		})
	}
	return ExperimentSummary{
		Name:    report.Name,
		N:       report.Config.N,
		Family:  report.Plan.Family,
		Depth:   report.Plan.Depth,
		Steps:   report.Plan.Len(),
		Runs:    runs,
		Elapsed: report.Elapsed.String(),
		Config:  report.Config,
	}
}

func (s *Server) summaries() []ExperimentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExperimentSummary, 0, len(s.reports))
	for _, report := range s.reports {
		out = append(out, summarize(report))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].N < out[j].N
	})
	return out
}

func reportKey(name string, n int) string {
	return name + "/" + strconv.Itoa(n)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
