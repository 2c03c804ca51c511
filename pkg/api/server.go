// Package api implements the HTTP surface (C13): route handlers,
// the {error, details} response taxonomy, and the per-IP rate limiter.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ccodaemon/ccod/pkg/config"
	"github.com/ccodaemon/ccod/pkg/credentials"
	"github.com/ccodaemon/ccod/pkg/metrics"
	"github.com/ccodaemon/ccod/pkg/orchestration"
	"github.com/ccodaemon/ccod/pkg/permission"
)

// Version is the daemon build version, surfaced at /health. Set at
// build time via -ldflags.
var Version = "dev"

var startTime = time.Now()

// DecisionRecord is one classification the hooks/decisions endpoint
// returns, pairing the permission outcome with the command it judged.
type DecisionRecord struct {
	Command    string                       `json:"command"`
	Result     permission.PermissionResult  `json:"result"`
}

// DecisionLog is an append-only, capacity-bounded ring of recent
// classifications backing /api/hooks/decisions.
type DecisionLog struct {
	mu       sync.Mutex
	capacity int
	entries  []DecisionRecord
}

// NewDecisionLog constructs a bounded decision log.
func NewDecisionLog(capacity int) *DecisionLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &DecisionLog{capacity: capacity}
}

// Append records a decision, dropping the oldest entry on overflow.
func (d *DecisionLog) Append(rec DecisionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, rec)
	if len(d.entries) > d.capacity {
		d.entries = d.entries[len(d.entries)-d.capacity:]
	}
}

// Recent returns the last n entries, most recent last.
func (d *DecisionLog) Recent(n int) []DecisionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.entries) {
		n = len(d.entries)
	}
	out := make([]DecisionRecord, n)
	copy(out, d.entries[len(d.entries)-n:])
	return out
}

// Server bundles the dependencies the route handlers read from.
type Server struct {
	Config        *config.Config
	MetricsCache  *metrics.Cache
	Credentials   *credentials.Store
	Orchestration *orchestration.Bus
	Decisions     *DecisionLog
	HealthChecks  map[string]func() error

	// EvaluateCommand runs the classifier+permission-gate pipeline for
	// a single shell command. It is injected rather than imported so
	// this package never needs to know about pkg/classifier or
	// pkg/hookengine's wiring details. Nil disables /api/hooks/evaluate.
	EvaluateCommand func(command string) (permission.PermissionResult, error)
}

// Routes registers every handler on mux and applies no middleware
// itself; the daemon wraps mux with auth middleware only (every route
// but /health requires it). POST /api/hooks/decisions/{id}/resolve is not
// registered here: it lives in pkg/auth.ResolveHandler, which needs
// the resolution-token issuer and would otherwise import this package
// (which auth.NewMiddleware already imports, for the error writers).
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/hooks/decisions", s.handleDecisions)
	mux.HandleFunc("POST /api/hooks/evaluate", s.handleHooksEvaluate)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	mux.HandleFunc("GET /api/credentials", s.handleCredentialsList)
	mux.HandleFunc("GET /api/credentials/{key}", s.handleCredentialsGet)
	mux.HandleFunc("PUT /api/credentials/{key}", s.handleCredentialsPut)
	mux.HandleFunc("DELETE /api/credentials/{key}", s.handleCredentialsDelete)
	mux.HandleFunc("POST /api/credentials/{key}/rotate", s.handleCredentialsRotate)

	mux.HandleFunc("POST /api/orchestration/spawn", s.handleOrchestrationSpawn)
	mux.HandleFunc("GET /api/orchestration/status/{id}", s.handleOrchestrationStatus)
	mux.HandleFunc("GET /api/orchestration/results/{id}", s.handleOrchestrationResults)
	mux.HandleFunc("GET /api/orchestration/events", s.handleOrchestrationEvents)
}

type healthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	CurrentVersion string            `json:"current_version,omitempty"`
	UptimeSec      float64           `json:"uptime_seconds"`
	Checks         map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "ok"
	for name, check := range s.HealthChecks {
		if err := check(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
		} else {
			checks[name] = "ok"
		}
	}

	resp := healthResponse{
		Status:    status,
		Version:   Version,
		UptimeSec: time.Since(startTime).Seconds(),
		Checks:    checks,
	}
	if s.Config != nil {
		resp.CurrentVersion = s.Config.CurrentVersion
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.MetricsCache == nil {
		writeJSON(w, http.StatusOK, map[string]any{"latest": nil})
		return
	}
	latest, ok := s.MetricsCache.GetLatest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"latest": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"latest": latest})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.Config == nil {
		writeJSON(w, http.StatusOK, []config.AgentDefinition{})
		return
	}
	writeJSON(w, http.StatusOK, s.Config.Agents)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.Decisions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"decisions": []DecisionRecord{}})
		return
	}
	recent := s.Decisions.Recent(100)
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions":  recent,
		"percentages": decisionPercentages(recent),
	})
}

func decisionPercentages(recent []DecisionRecord) map[string]float64 {
	counts := make(map[permission.Decision]int)
	for _, r := range recent {
		counts[r.Result.Decision]++
	}
	out := make(map[string]float64)
	if len(recent) == 0 {
		return out
	}
	for decision, count := range counts {
		out[string(decision)] = float64(count) / float64(len(recent)) * 100
	}
	return out
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternal(w, errNotFlushable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	var ch <-chan orchestration.Event
	var unsubscribe func()
	if s.Orchestration != nil {
		ch, unsubscribe = s.Orchestration.Subscribe()
		defer unsubscribe()
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeSSE(w, "analytics", map[string]any{"recent_activity": s.recentActivitySnapshot()})
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, "analytics", event)
			flusher.Flush()
		}
	}
}

func (s *Server) recentActivitySnapshot() []metrics.Snapshot {
	if s.MetricsCache == nil {
		return nil
	}
	all := s.MetricsCache.GetAll()
	if len(all) > 10 {
		return all[len(all)-10:]
	}
	return all
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeSSERaw(w, "error", `{"error":"failed to encode event"}`)
		return
	}
	writeSSERaw(w, event, string(data))
}

func writeSSERaw(w http.ResponseWriter, event, data string) {
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: " + data + "\n\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errNotFlushable = errors.New("api: response writer does not support flushing")
