package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ccodaemon/ccod/pkg/orchestration"
)

type spawnRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleOrchestrationSpawn(w http.ResponseWriter, r *http.Request) {
	if s.Orchestration == nil {
		WriteUnavailable(w, "orchestration bus not configured")
		return
	}

	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteBadRequest(w, "missing or invalid task name")
		return
	}

	task := s.Orchestration.Spawn(req.Name)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleOrchestrationStatus(w http.ResponseWriter, r *http.Request) {
	if s.Orchestration == nil {
		WriteUnavailable(w, "orchestration bus not configured")
		return
	}
	task, err := s.Orchestration.Status(r.PathValue("id"))
	if errors.Is(err, orchestration.ErrTaskNotFound) {
		WriteNotFound(w, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleOrchestrationResults(w http.ResponseWriter, r *http.Request) {
	if s.Orchestration == nil {
		WriteUnavailable(w, "orchestration bus not configured")
		return
	}
	task, err := s.Orchestration.Results(r.PathValue("id"))
	if errors.Is(err, orchestration.ErrTaskNotFound) {
		WriteNotFound(w, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleOrchestrationEvents(w http.ResponseWriter, r *http.Request) {
	if s.Orchestration == nil {
		WriteUnavailable(w, "orchestration bus not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternal(w, errNotFlushable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := s.Orchestration.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			writeSSERaw(w, "heartbeat", `{}`)
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, "task", event)
			flusher.Flush()
		}
	}
}
