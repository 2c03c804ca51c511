package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ccodaemon/ccod/pkg/config"
	"github.com/ccodaemon/ccod/pkg/metrics"
	"github.com/ccodaemon/ccod/pkg/orchestration"
	"github.com/ccodaemon/ccod/pkg/permission"
)

func TestHandleHealth_AllChecksPass(t *testing.T) {
	s := &Server{HealthChecks: map[string]func() error{
		"db": func() error { return nil },
	}}

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "ok", resp.Checks["db"])
}

func TestHandleHealth_DegradedOnFailingCheck(t *testing.T) {
	s := &Server{HealthChecks: map[string]func() error{
		"disk": func() error { return errors.New("out of space") },
	}}

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, "out of space", resp.Checks["disk"])
}

func TestHandleStats_NoCacheConfigured(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"latest":null}`, rec.Body.String())
}

func TestHandleStats_ReturnsLatestSnapshot(t *testing.T) {
	cache := metrics.NewCache(10, 10)
	cache.Update(metrics.Snapshot{Totals: metrics.Totals{Usage: metrics.Usage{InputTokens: 42}}})
	s := &Server{MetricsCache: cache}

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Latest metrics.Snapshot `json:"latest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 42, body.Latest.Totals.Usage.InputTokens)
}

func TestHandleAgents_ReturnsConfiguredAgents(t *testing.T) {
	s := &Server{Config: &config.Config{
		Agents: []config.AgentDefinition{{Type: "general"}},
	}}

	rec := httptest.NewRecorder()
	s.handleAgents(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))

	var agents []config.AgentDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	require.Equal(t, "general", agents[0].Type)
}

func TestHandleDecisions_ComputesPercentages(t *testing.T) {
	log := NewDecisionLog(10)
	log.Append(DecisionRecord{Command: "git status", Result: permission.PermissionResult{Decision: permission.Approved}})
	log.Append(DecisionRecord{Command: "rm -rf /", Result: permission.PermissionResult{Decision: permission.Pending}})
	s := &Server{Decisions: log}

	rec := httptest.NewRecorder()
	s.handleDecisions(rec, httptest.NewRequest(http.MethodGet, "/api/hooks/decisions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Decisions   []DecisionRecord   `json:"decisions"`
		Percentages map[string]float64 `json:"percentages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Decisions, 2)
	require.Equal(t, 50.0, body.Percentages[string(permission.Approved)])
	require.Equal(t, 50.0, body.Percentages[string(permission.Pending)])
}

func TestDecisionLog_DropsOldestOnOverflow(t *testing.T) {
	log := NewDecisionLog(2)
	log.Append(DecisionRecord{Command: "one"})
	log.Append(DecisionRecord{Command: "two"})
	log.Append(DecisionRecord{Command: "three"})

	recent := log.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "two", recent[0].Command)
	require.Equal(t, "three", recent[1].Command)
}

func TestHandleStream_EmitsOrchestrationEvent(t *testing.T) {
	bus := orchestration.NewBus()
	s := &Server{Orchestration: bus}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleStream(rec, req)
		close(done)
	}()

	// Let the handler reach its subscribe+select loop before publishing.
	time.Sleep(20 * time.Millisecond)
	task := bus.Spawn("demo")
	bus.Complete(task.ID, "ok")
	time.Sleep(20 * time.Millisecond)
	cancel()

	<-done
	require.Contains(t, rec.Body.String(), "event: analytics")
}
