package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ccodaemon/ccod/pkg/credentials"
)

type putCredentialRequest struct {
	Secret   string            `json:"secret"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type rotateCredentialRequest struct {
	NewSecret string `json:"new_secret"`
}

func (s *Server) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		WriteUnavailable(w, "credential store not configured")
		return
	}
	list, err := s.Credentials.List(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCredentialsGet(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		WriteUnavailable(w, "credential store not configured")
		return
	}
	cred, err := s.Credentials.Get(r.Context(), r.PathValue("key"))
	if errors.Is(err, credentials.ErrNotFound) {
		WriteNotFound(w, "credential not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	defer cred.Zero()
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleCredentialsPut(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		WriteUnavailable(w, "credential store not configured")
		return
	}

	var req putCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	cred := &credentials.Credential{
		Key:      r.PathValue("key"),
		Secret:   []byte(req.Secret),
		Metadata: req.Metadata,
	}
	defer cred.Zero()

	switch err := s.Credentials.Save(r.Context(), cred); {
	case errors.Is(err, credentials.ErrKeyTooLarge), errors.Is(err, credentials.ErrSecretTooLarge):
		WriteTooLarge(w, err.Error())
	case err != nil:
		WriteInternal(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"key": cred.Key})
	}
}

func (s *Server) handleCredentialsDelete(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		WriteUnavailable(w, "credential store not configured")
		return
	}
	err := s.Credentials.Delete(r.Context(), r.PathValue("key"))
	if errors.Is(err, credentials.ErrNotFound) {
		WriteNotFound(w, "credential not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCredentialsRotate(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		WriteUnavailable(w, "credential store not configured")
		return
	}

	var req rotateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	err := s.Credentials.Rotate(r.Context(), r.PathValue("key"), []byte(req.NewSecret))
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		WriteNotFound(w, "credential not found")
	case errors.Is(err, credentials.ErrSecretTooLarge):
		WriteTooLarge(w, err.Error())
	case err != nil:
		WriteInternal(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
