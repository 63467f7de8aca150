package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/ledgerline/internal/policy"
)

func (s *Server) registerPolicy(w http.ResponseWriter, r *http.Request) {
	var spec policy.Spec
	if err := readJSON(r, &spec); err != nil {
		writeError(w, err, nil)
		return
	}
	p, err := s.deps.Policies.Register(r.Context(), spec)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusCreated, p)
}

func (s *Server) listPolicies(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, nonNil(s.deps.Policies.List()))
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Policies.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) policyObservations(w http.ResponseWriter, r *http.Request) {
	obs, err := s.deps.Policies.Observations(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, nonNil(obs))
}

func (s *Server) recordActual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FactID string `json:"fact_id"`
		Actual string `json:"actual"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, err, nil)
		return
	}
	p, err := s.deps.Policies.RecordActual(r.Context(), chi.URLParam(r, "id"), body.FactID, body.Actual)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) killPolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, err, nil)
		return
	}
	p, err := s.deps.Policies.Kill(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, p)
}
