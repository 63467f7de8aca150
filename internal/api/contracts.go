package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/failure"
)

func (s *Server) intakeContract(w http.ResponseWriter, r *http.Request) {
	var c contract.Contract
	if err := readJSON(r, &c); err != nil {
		writeError(w, err, nil)
		return
	}
	out, err := s.deps.Machine.Intake(r.Context(), c)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusCreated, out)
}

func (s *Server) listContracts(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, nonNil(s.deps.Machine.Index().List()))
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Machine.Index().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) blastRadius(w http.ResponseWriter, r *http.Request) {
	to, err := stateParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	br, err := s.deps.Machine.Preview(chi.URLParam(r, "id"), to)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, br)
}

func (s *Server) transitionContract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To     string `json:"to"`
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, err, nil)
		return
	}
	to, err := stateParam(body.To)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	res, err := s.deps.Machine.Transition(r.Context(), chi.URLParam(r, "id"), to, body.Actor, body.Reason)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, res)
}

func stateParam(raw string) (contract.State, error) {
	if raw == "" {
		return "", failure.Validation("api", "target state is required")
	}
	st, err := contract.ParseState(raw)
	if err != nil {
		return "", failure.Validation("api", "%v", err)
	}
	return st, nil
}
