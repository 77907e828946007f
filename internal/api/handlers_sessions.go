package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/sessionguard/internal/evm"
	"github.com/org/sessionguard/internal/session"
	"github.com/org/sessionguard/pkg/models"
)

// OpenSessionHandler handles POST /v1/sessions
func (s *Server) OpenSessionHandler(w http.ResponseWriter, r *http.Request) {
	var in models.OpenSessionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := openRequestFromInput(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := s.sessions.OpenSession(r.Context(), req)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func openRequestFromInput(in models.OpenSessionInput) (session.OpenRequest, error) {
	owner, err := evm.NormalizeAddress(in.Owner)
	if err != nil {
		return session.OpenRequest{}, fmt.Errorf("owner: %w", err)
	}
	contracts, err := evm.NormalizeAddresses(in.Contracts)
	if err != nil {
		return session.OpenRequest{}, fmt.Errorf("contracts: %w", err)
	}
	methods, err := evm.ParseSelectors(in.Methods)
	if err != nil {
		return session.OpenRequest{}, fmt.Errorf("methods: %w", err)
	}
	return session.OpenRequest{
		Owner:         owner,
		SessionKeyRef: in.SessionKeyRef,
		Scope: models.Scope{
			Contracts:         contracts,
			Methods:           methods,
			AllowAllContracts: in.AllowAllContracts,
			AllowAllMethods:   in.AllowAllMethods,
		},
		Caps: models.Caps{PerTx: in.PerTxCap, Daily: in.DailyCap},
		TTL:  time.Duration(in.TTLSeconds) * time.Second,
	}, nil
}

// GetSessionHandler handles GET /v1/sessions/{id}
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	g, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ActiveSessionHandler handles GET /v1/owners/{owner}/session
func (s *Server) ActiveSessionHandler(w http.ResponseWriter, r *http.Request) {
	owner, err := evm.NormalizeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.sessions.GetActiveSession(r.Context(), owner)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ListSessionsHandler handles GET /v1/owners/{owner}/sessions
func (s *Server) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	owner, err := evm.NormalizeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	grants, err := s.sessions.ListSessions(r.Context(), owner)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": grants})
}

// RevokeSessionHandler handles POST /v1/sessions/{id}/revoke
func (s *Server) RevokeSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UseSessionHandler handles POST /v1/sessions/{id}/use
func (s *Server) UseSessionHandler(w http.ResponseWriter, r *http.Request) {
	var in models.UseInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := evm.NormalizeAddress(in.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	method, err := evm.ParseSelector(in.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.sessions.AuthorizeUse(r.Context(), models.UseRequest{
		SessionID: chi.URLParam(r, "id"),
		Target:    target,
		Method:    method,
		Amount:    in.Amount,
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	code := http.StatusOK
	if !res.Approved {
		code = http.StatusForbidden
	}
	writeJSON(w, code, res)
}

// writeSessionError maps session manager errors onto status codes.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidTTL),
		errors.Is(err, session.ErrInvalidCaps),
		errors.Is(err, session.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("session storage failure")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}
