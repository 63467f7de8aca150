package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/ledgerline/internal/engine"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
)

const defaultRecentLimit = 50

func (s *Server) appendFact(w http.ResponseWriter, r *http.Request) {
	var ev engine.Event
	if err := readJSON(r, &ev); err != nil {
		writeError(w, err, nil)
		return
	}
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	rep, err := s.deps.Engine.Ingest(r.Context(), ev)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	status := http.StatusCreated
	if rep.Skipped {
		status = http.StatusOK
	}
	writeData(w, status, rep)
}

func (s *Server) queryFacts(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	facts, err := s.deps.Ledger.Query(r.Context(), q)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, nonNil(facts))
}

func (s *Server) recentFacts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultRecentLimit)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	facts, err := s.deps.Ledger.RecentFacts(r.Context(), limit)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, nonNil(facts))
}

func (s *Server) getFact(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) markProcessed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Process string `json:"process"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, err, nil)
		return
	}
	res, err := s.deps.Engine.MarkProcessed(r.Context(), chi.URLParam(r, "id"), body.Process)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeData(w, status, res)
}

func (s *Server) unprocessed(w http.ResponseWriter, r *http.Request) {
	facts, err := s.deps.Ledger.UnprocessedTriggers(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, nonNil(facts))
}

func (s *Server) processPending(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Engine.ProcessPending(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"processed": n})
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	from, err := intParam(r, "from", 1)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	var entries []ir.Entry
	if limit > 0 {
		entries, err = s.deps.Ledger.ReplayPage(r.Context(), int64(from), limit)
	} else {
		entries, err = s.deps.Ledger.Replay(r.Context(), int64(from))
	}
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, nonNil(entries))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Ledger.Stats(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Ledger.VerifyAll(r.Context())
	if err != nil {
		writeError(w, err, v)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (s *Server) computeVV(w http.ResponseWriter, r *http.Request) {
	window, err := intParam(r, "window", 0)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	res, err := s.deps.VV.Compute(r.Context(), chi.URLParam(r, "subject"), window)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, res)
}

// parseQuery reads fact filters from the URL. outcome_type may repeat or
// be comma separated.
func parseQuery(r *http.Request) (ledger.Query, error) {
	v := r.URL.Query()
	q := ledger.Query{
		EntityID:   v.Get("entity_id"),
		EntityType: v.Get("entity_type"),
		Tier:       ir.Tier(v.Get("tier")),
		Newest:     v.Get("order") == "desc",
	}
	for _, raw := range v["outcome_type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.OutcomeTypes = append(q.OutcomeTypes, t)
			}
		}
	}

	var err error
	if q.Since, err = timeParam(r, "since"); err != nil {
		return ledger.Query{}, err
	}
	if q.Until, err = timeParam(r, "until"); err != nil {
		return ledger.Query{}, err
	}
	if q.Limit, err = intParam(r, "limit", 0); err != nil {
		return ledger.Query{}, err
	}
	if q.Offset, err = intParam(r, "offset", 0); err != nil {
		return ledger.Query{}, err
	}
	return q, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, badRequest("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
