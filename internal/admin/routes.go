package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	r.GET("/experiments", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"experiments": s.summaries()})
	})

	r.POST("/experiments", s.handleRun)
	r.GET("/experiments/:name/:n", s.handleReport)
	r.GET("/experiments/:name/:n/plan/:participant", s.handlePlan)
}

func (s *Server) handleRun(c *gin.Context) {
	cfg := experiment.DefaultConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.runner(c.Request.Context(), cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, plan.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.Record(report)
	c.JSON(http.StatusOK, summarize(report))
}

func (s *Server) lookup(c *gin.Context) (*experiment.Report, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be an integer"})
		return nil, false
	}
	report, err := s.Report(c.Param("name"), n)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return report, true
}

func (s *Server) handleReport(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(report))
}

func (s *Server) handlePlan(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("participant"))
	if err != nil || id < 0 || id >= report.Plan.N {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not in plan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participant": id,
		"peers":       report.Plan.Peers(id),
		"steps":       plan.View(report.Plan, id),
		"dump":        plan.DumpParticipant(report.Plan, id),
	})
}
