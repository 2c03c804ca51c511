package api

import (
	"encoding/json"
	"net/http"
)

type evaluateRequest struct {
	Command string `json:"command"`
}

// handleHooksEvaluate classifies and gates a single command, recording
// the outcome in the decision log so /api/hooks/decisions reflects it.
func (s *Server) handleHooksEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.EvaluateCommand == nil {
		WriteUnavailable(w, "command evaluation not configured")
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		WriteBadRequest(w, "missing or invalid command")
		return
	}

	result, err := s.EvaluateCommand(req.Command)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	if s.Decisions != nil {
		s.Decisions.Append(DecisionRecord{Command: req.Command, Result: result})
	}

	writeJSON(w, http.StatusOK, result)
}
