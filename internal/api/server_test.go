package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/engine"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/lifecycle"
	"github.com/roach88/ledgerline/internal/policy"
	"github.com/roach88/ledgerline/internal/store"
	"github.com/roach88/ledgerline/internal/testutil"
	"github.com/roach88/ledgerline/internal/vv"
)

var epoch = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	srv    *httptest.Server
	mem    *store.Memory
	ledger *ledger.Ledger
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	rules := classify.Default()
	mem := store.NewMemory()
	l := ledger.New(mem, ledger.Options{
		Clock:  testutil.NewDeterministicClock(epoch, time.Second),
		Logger: quiet(),
	})
	pe, err := policy.New(l, policy.Options{Rules: rules, Logger: quiet()})
	require.NoError(t, err)
	m := lifecycle.New(contract.NewIndex(), l, lifecycle.Options{Rules: rules, Logger: quiet()})
	agg := vv.New(l, rules, vv.Options{Clock: fixedClock{epoch.Add(24 * time.Hour)}, MinSamples: 1, Logger: quiet()})

	opts.Logger = quiet()
	s := New(Deps{
		Engine:   engine.New(rules, l, pe, m, quiet()),
		Ledger:   l,
		VV:       agg,
		Policies: pe,
		Machine:  m,
	}, opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, mem: mem, ledger: l}
}

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Kind    string          `json:"kind"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, response) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func (f *fixture) intake(t *testing.T, id string, state contract.State) {
	t.Helper()
	code, _ := f.do(t, http.MethodPost, "/v1/contracts", contract.Contract{
		ID: id, State: state, SlotID: "slot-1", ProducerID: "prod-1", CustomerID: "cust-" + id, MonthlyValue: 100,
	})
	require.Equal(t, http.StatusCreated, code)
}

func paymentFailed(id, key string) engine.Event {
	return engine.Event{
		OutcomeType:    "PAYMENT_FAILED",
		EntityID:       id,
		EntityType:     contract.EntityType,
		OccurredAt:     epoch.Add(time.Hour),
		IdempotencyKey: key,
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{})
	code, resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
}

func TestAppendFact(t *testing.T) {
	f := newFixture(t, Options{})
	f.intake(t, "A", contract.Eligible)

	code, resp := f.do(t, http.MethodPost, "/v1/facts", paymentFailed("A", "evt-1"))
	require.Equal(t, http.StatusCreated, code)
	rep := decode[engine.Report](t, resp)
	assert.Equal(t, ir.TierS, rep.Fact.Tier)
	assert.True(t, rep.Processed)
	require.NotNil(t, rep.Transition)
	assert.Equal(t, contract.Intervention, rep.Transition.Contract.State)

	code, resp = f.do(t, http.MethodPost, "/v1/facts", paymentFailed("A", "evt-1"))
	assert.Equal(t, http.StatusOK, code, "duplicate key is acknowledged")
	dup := decode[engine.Report](t, resp)
	assert.True(t, dup.Skipped)
	assert.Equal(t, rep.Fact.ID, dup.Fact.ID)

	code, resp = f.do(t, http.MethodGet, "/v1/contracts/A", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, contract.Intervention, decode[contract.Contract](t, resp).State)
}

func TestAppendFact_IdempotencyHeader(t *testing.T) {
	f := newFixture(t, Options{})
	ev := engine.Event{OutcomeType: "SESSION_COMPLETED", EntityID: "c1", EntityType: "customer", OccurredAt: epoch}

	post := func() int {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/facts", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Idempotency-Key", "hdr-1")
		resp, err := f.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusCreated, post())
	assert.Equal(t, http.StatusOK, post())
}

func TestAppendFact_Errors(t *testing.T) {
	f := newFixture(t, Options{})

	code, resp := f.do(t, http.MethodPost, "/v1/facts", engine.Event{OutcomeType: "NOT_A_TYPE", EntityID: "x", EntityType: "customer"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "VALIDATION", resp.Error.Kind)

	code, resp = f.do(t, http.MethodPost, "/v1/facts", map[string]any{"outcome_type": "NO_SHOW", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", resp.Error.Kind)
}

func TestQueryFacts(t *testing.T) {
	f := newFixture(t, Options{})
	for i, typ := range []string{"SESSION_COMPLETED", "REVIEW_POSITIVE", "SESSION_COMPLETED"} {
		code, _ := f.do(t, http.MethodPost, "/v1/facts", engine.Event{
			OutcomeType: typ, EntityID: "c1", EntityType: "customer", OccurredAt: epoch.Add(time.Duration(i) * time.Hour),
		})
		require.Equal(t, http.StatusCreated, code)
	}

	code, resp := f.do(t, http.MethodGet, "/v1/facts?entity_id=c1&outcome_type=SESSION_COMPLETED", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]ir.Fact](t, resp), 2)

	code, resp = f.do(t, http.MethodGet, "/v1/facts?entity_id=nobody", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", string(resp.Data))

	code, resp = f.do(t, http.MethodGet, "/v1/facts/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	recent := decode[[]ir.Fact](t, resp)
	require.Len(t, recent, 1)
	assert.Equal(t, "SESSION_COMPLETED", recent[0].OutcomeType)

	code, _ = f.do(t, http.MethodGet, "/v1/facts?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = f.do(t, http.MethodGet, "/v1/facts/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Kind)
}

func TestReplayAndStats(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < 4; i++ {
		code, _ := f.do(t, http.MethodPost, "/v1/facts", engine.Event{
			OutcomeType: "SESSION_COMPLETED", EntityID: "c1", EntityType: "customer", OccurredAt: epoch.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusCreated, code)
	}

	code, resp := f.do(t, http.MethodGet, "/v1/replay?from=2&limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[[]ir.Entry](t, resp)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Sequence)

	code, resp = f.do(t, http.MethodGet, "/v1/replay", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]ir.Entry](t, resp), 4)

	code, _ = f.do(t, http.MethodGet, "/v1/replay?from=0", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(4), decode[ledger.Stats](t, resp).Total)
}

func TestVerify(t *testing.T) {
	f := newFixture(t, Options{})
	code, resp := f.do(t, http.MethodPost, "/v1/facts", engine.Event{OutcomeType: "NO_SHOW", EntityID: "c1", EntityType: "customer", OccurredAt: epoch})
	require.Equal(t, http.StatusCreated, code)
	id := decode[engine.Report](t, resp).Fact.ID

	code, resp = f.do(t, http.MethodGet, "/v1/verify", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[ledger.Verification](t, resp).Valid)

	require.True(t, f.mem.Tamper(id, func(r *ir.Record) { r.Weight = 5 }))
	code, resp = f.do(t, http.MethodGet, "/v1/verify", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "INTEGRITY", resp.Error.Kind)

	var v ledger.Verification
	require.NoError(t, json.Unmarshal(resp.Error.Details, &v))
	assert.Equal(t, id, v.BrokenAtID)
}

func TestTriggers(t *testing.T) {
	f := newFixture(t, Options{})
	code, resp := f.do(t, http.MethodPost, "/v1/facts", engine.Event{
		OutcomeType: "SLOT_CONFLICT", EntityID: "slot-1", EntityType: "slot", OccurredAt: epoch,
	})
	require.Equal(t, http.StatusCreated, code)
	id := decode[engine.Report](t, resp).Fact.ID

	code, resp = f.do(t, http.MethodGet, "/v1/triggers/unprocessed", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, decode[[]ir.Fact](t, resp), 1)

	code, _ = f.do(t, http.MethodPost, "/v1/facts/"+id+"/processed", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "process name is required")

	code, _ = f.do(t, http.MethodPost, "/v1/facts/"+id+"/processed", map[string]string{"process": "ops"})
	assert.Equal(t, http.StatusCreated, code)

	code, resp = f.do(t, http.MethodGet, "/v1/triggers/unprocessed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]ir.Fact](t, resp))

	code, resp = f.do(t, http.MethodPost, "/v1/triggers/process", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]int{"processed": 0}, decode[map[string]int](t, resp))
}

func TestVV(t *testing.T) {
	f := newFixture(t, Options{})
	code, _ := f.do(t, http.MethodPost, "/v1/facts", engine.Event{
		OutcomeType: "REVIEW_POSITIVE", EntityID: "c1", EntityType: "customer", OccurredAt: epoch,
	})
	require.Equal(t, http.StatusCreated, code)

	code, resp := f.do(t, http.MethodGet, "/v1/vv/c1?window=7", nil)
	require.Equal(t, http.StatusOK, code)
	res := decode[vv.Result](t, resp)
	assert.Equal(t, 1, res.Samples)
	require.NotNil(t, res.Value)
	assert.Equal(t, vv.StatusGreen, res.Status)
	assert.Equal(t, 7, res.WindowDays)

	code, _ = f.do(t, http.MethodGet, "/v1/vv/c1?window=week", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPolicies(t *testing.T) {
	f := newFixture(t, Options{})

	code, resp := f.do(t, http.MethodPost, "/v1/policies", policy.Spec{ID: "remind", Trigger: "PAYMENT_FAILED", Action: "send_reminder"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, policy.ModeShadow, decode[policy.Policy](t, resp).Mode)

	code, _ = f.do(t, http.MethodPost, "/v1/policies", policy.Spec{ID: "remind", Trigger: "PAYMENT_FAILED", Action: "send_reminder"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = f.do(t, http.MethodPost, "/v1/facts", engine.Event{
		OutcomeType: "PAYMENT_FAILED", EntityID: "cust-1", EntityType: "customer", OccurredAt: epoch,
	})
	require.Equal(t, http.StatusCreated, code)
	factID := decode[engine.Report](t, resp).Fact.ID

	code, resp = f.do(t, http.MethodGet, "/v1/policies/remind/observations", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, decode[[]policy.Observation](t, resp), 1)

	code, resp = f.do(t, http.MethodPost, "/v1/policies/remind/actuals", map[string]string{"fact_id": factID, "actual": "send_reminder"})
	require.Equal(t, http.StatusOK, code)
	p := decode[policy.Policy](t, resp)
	assert.Equal(t, 1, p.EvaluatedCount)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)

	code, _ = f.do(t, http.MethodPost, "/v1/policies/missing/actuals", map[string]string{"fact_id": factID, "actual": "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = f.do(t, http.MethodPost, "/v1/policies/remind/kill", map[string]string{"reason": "noisy"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, policy.ModeKilled, decode[policy.Policy](t, resp).Mode)

	code, resp = f.do(t, http.MethodGet, "/v1/policies", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]policy.Policy](t, resp), 1)
}

func TestContracts(t *testing.T) {
	f := newFixture(t, Options{})
	f.intake(t, "A", contract.Monitor)
	f.intake(t, "B", contract.Monitor)

	code, resp := f.do(t, http.MethodGet, "/v1/contracts/A/blast-radius?to=S6", nil)
	require.Equal(t, http.StatusOK, code)
	br := decode[contract.BlastRadius](t, resp)
	assert.Equal(t, []string{"B"}, br.AffectedContractIDs)

	code, _ = f.do(t, http.MethodGet, "/v1/contracts/A/blast-radius", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = f.do(t, http.MethodPost, "/v1/contracts/A/transitions", map[string]string{"to": "S6", "actor": "ops"})
	require.Equal(t, http.StatusOK, code)
	res := decode[lifecycle.Result](t, resp)
	assert.Equal(t, contract.Stable, res.Contract.State)
	assert.NotEmpty(t, res.FactID)

	code, _ = f.do(t, http.MethodPost, "/v1/contracts/A/transitions", map[string]string{"to": "S1", "actor": "ops"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "S6 cannot return to intake")

	code, _ = f.do(t, http.MethodGet, "/v1/contracts/zzz", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = f.do(t, http.MethodGet, "/v1/contracts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]contract.Contract](t, resp), 2)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		code, _ := f.do(t, http.MethodGet, "/healthz", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", resp.Error.Kind)
}

func TestLimiter_EvictsIdleVisitors(t *testing.T) {
	l := newLimiter(1, 1)
	now := epoch
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))

	now = now.Add(visitorTTL + sweepInterval + time.Second)
	assert.True(t, l.allow("10.0.0.2"))
	l.mu.Lock()
	_, kept := l.visitors["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientIP(r))
	r.RemoteAddr = "[2001:db8::1]"
	assert.Equal(t, "2001:db8::1", clientIP(r))
}
