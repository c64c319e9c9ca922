package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, s *Server, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr, out
}

func TestHealthReadyAndMetrics(t *testing.T) {
	testlog.Start(t)

	s := New("collsim-test", ":0", nil, nil)
	rr, body := serve(t, s, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["service"] != "collsim-test" {
		t.Fatalf("health status=%d body=%v", rr.Code, body)
	}
	rr, body = serve(t, s, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusOK || body["ready"] != true {
		t.Fatalf("ready status=%d body=%v", rr.Code, body)
	}
	rr, _ = serve(t, s, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "collsim_http_requests_total") {
		t.Fatalf("metrics status=%d missing request counter", rr.Code)
	}
}

func TestRunExperimentAndDumpPlan(t *testing.T) {
	testlog.Start(t)

	s := New("collsim-test", ":0", nil, nil)
	cfg := experiment.DefaultConfig()
	cfg.Family = plan.FamilyHypercube
	cfg.N = 5
	cfg.Runs = 2
	payload, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rr, body := serve(t, s, http.MethodPost, "/experiments", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("run status=%d body=%v", rr.Code, body)
	}
	if body["name"] != "hyper" || len(body["runs"].([]any)) != 2 {
		t.Fatalf("unexpected summary %v", body)
	}

	rr, body = serve(t, s, http.MethodGet, "/experiments/hyper/5/plan/4", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("plan status=%d body=%v", rr.Code, body)
	}
	if dump, _ := body["dump"].(string); !strings.HasPrefix(dump, "4: (0,recv,-1,32);(1,send,0,64);(2,send,1,32);") {
		t.Fatalf("unexpected dump %q", dump)
	}

	rr, body = serve(t, s, http.MethodGet, "/experiments", nil)
	if rr.Code != http.StatusOK || len(body["experiments"].([]any)) != 1 {
		t.Fatalf("list status=%d body=%v", rr.Code, body)
	}
}

func TestRunRejectsBadConfigAndUnknownLookups(t *testing.T) {
	testlog.Start(t)

	s := New("collsim-test", ":0", nil, nil)
	rr, _ := serve(t, s, http.MethodPost, "/experiments", []byte(`{"family":"hyper","n":8,"compaction":9,"runs":1}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad compaction, got %d", rr.Code)
	}
	rr, _ = serve(t, s, http.MethodPost, "/experiments", []byte(`{"family":`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}
	rr, _ = serve(t, s, http.MethodGet, "/experiments/hyper/8", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr, _ = serve(t, s, http.MethodGet, "/experiments/hyper/x", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric size, got %d", rr.Code)
	}
}

func TestRecordedReportsAreServed(t *testing.T) {
	testlog.Start(t)

	runner := func(ctx context.Context, cfg experiment.Config) (*experiment.Report, error) {
		return experiment.Run(ctx, cfg)
	}
	s := New("collsim-test", ":0", []string{"http://example.test"}, runner)
	cfg := experiment.DefaultConfig()
	cfg.Family = plan.FamilyFlat
	cfg.N = 4
	report, err := runner(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	s.Record(report)

	rr, body := serve(t, s, http.MethodGet, "/experiments/bcast/4", nil)
	if rr.Code != http.StatusOK || body["family"] != "flat" {
		t.Fatalf("report status=%d body=%v", rr.Code, body)
	}
	rr, _ = serve(t, s, http.MethodGet, "/experiments/bcast/4/plan/9", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown participant, got %d", rr.Code)
	}
}
