package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/sessionguard/internal/authz"
	"github.com/org/sessionguard/internal/evm"
	"github.com/org/sessionguard/internal/gaspolicy"
	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/storage"
	"github.com/org/sessionguard/pkg/models"
)

// PutGasPolicyHandler handles PUT /v1/projects/{project}/gas-policy
func (s *Server) PutGasPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var in models.GasPolicyInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pol, err := gaspolicy.FromInput(chi.URLParam(r, "project"), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pol.UpdatedAt = s.clock.Now()
	if err := s.store.PutGasPolicy(r.Context(), &pol); err != nil {
		log.Error().Err(err).Str("project_id", pol.ProjectID).Msg("storing gas policy")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	log.Info().Str("project_id", pol.ProjectID).Str("mode", string(pol.Mode)).Msg("gas policy updated")
	writeJSON(w, http.StatusOK, pol)
}

// ListGasPoliciesHandler handles GET /v1/projects
func (s *Server) ListGasPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListGasPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": policies})
}

// GetGasPolicyHandler handles GET /v1/projects/{project}/gas-policy
func (s *Server) GetGasPolicyHandler(w http.ResponseWriter, r *http.Request) {
	pol, err := s.store.GetGasPolicy(r.Context(), chi.URLParam(r, "project"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "gas policy not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// SponsoredTotalHandler handles GET /v1/projects/{project}/gas-policy/sponsored
func (s *Server) SponsoredTotalHandler(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	out := models.SponsoredTotal{
		ProjectID:   project,
		WindowStart: ledger.WindowKey(s.clock.Now(), s.cfg.Window),
	}
	if pol, err := s.store.GetGasPolicy(r.Context(), project); err == nil {
		out.DailyBudget = pol.DailyBudget
	}
	total, err := s.tracker.SponsoredTotal(r.Context(), project, out.WindowStart)
	if err != nil {
		log.Error().Err(err).Str("project_id", project).Msg("reading sponsored total")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	out.Total = total
	writeJSON(w, http.StatusOK, out)
}

// AuthorizeHandler handles POST /v1/projects/{project}/authorize
func (s *Server) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in models.AuthorizeInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := authz.Request{ProjectID: chi.URLParam(r, "project"), Amount: in.Amount}
	var err error
	if req.Owner, err = evm.NormalizeAddress(in.Owner); err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return
	}
	if req.Target, err = evm.NormalizeAddress(in.Target); err != nil {
		writeError(w, http.StatusBadRequest, "target: "+err.Error())
		return
	}
	if req.Method, err = evm.ParseSelector(in.Method); err != nil {
		writeError(w, http.StatusBadRequest, "method: "+err.Error())
		return
	}
	if in.EstimatedGasCost != nil {
		req.EstimatedGasCost = *in.EstimatedGasCost
	} else if req.EstimatedGasCost, err = s.estimator.EstimateCost(ctx, req.Target, req.Method); err != nil {
		log.Error().Err(err).Msg("estimating gas cost")
		writeError(w, http.StatusServiceUnavailable, "gas estimation unavailable")
		return
	}

	dec, err := s.facade.AuthorizeForProject(ctx, req)
	switch {
	case errors.Is(err, authz.ErrPolicyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, gaspolicy.ErrInvalidPolicyConfiguration):
		s.auditor.LogDecision(ctx, requestIDFromCtx(ctx), apiKeyHashFromCtx(ctx), req.ProjectID, req.Owner, dec)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"errors":   []string{err.Error()},
			"decision": dec,
		})
		return
	case err != nil:
		log.Error().Err(err).Str("project_id", req.ProjectID).Msg("authorization failed")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	s.auditor.LogDecision(ctx, requestIDFromCtx(ctx), apiKeyHashFromCtx(ctx), req.ProjectID, req.Owner, dec)
	code := http.StatusOK
	if !dec.Permitted {
		code = http.StatusForbidden
	}
	writeJSON(w, code, dec)
}
