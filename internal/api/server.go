// Package api serves the ledger, policies and contracts over HTTP.
//
// Every response is a JSON envelope: {"status":"ok","data":...} or
// {"status":"error","error":{"kind":...,"message":...}}.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/ledgerline/internal/engine"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/lifecycle"
	"github.com/roach88/ledgerline/internal/policy"
	"github.com/roach88/ledgerline/internal/vv"
)

// Deps are the components the handlers call.
type Deps struct {
	Engine   *engine.Engine
	Ledger   *ledger.Ledger
	VV       *vv.Aggregator
	Policies *policy.Engine
	Machine  *lifecycle.Machine
}

// Options tunes the HTTP layer.
type Options struct {
	// RateLimit is requests per second per client; <= 0 disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Server holds the handlers.
type Server struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &Server{deps: deps, opts: opts, log: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.opts.RateLimit > 0 {
		r.Use(newLimiter(s.opts.RateLimit, s.opts.RateBurst).middleware)
	}

	r.Get("/healthz", s.health)

	r.Route("/v1", func(api chi.Router) {
		api.Route("/facts", func(fr chi.Router) {
			fr.Post("/", s.appendFact)
			fr.Get("/", s.queryFacts)
			fr.Get("/recent", s.recentFacts)
			fr.Get("/{id}", s.getFact)
			fr.Post("/{id}/processed", s.markProcessed)
		})
		api.Get("/triggers/unprocessed", s.unprocessed)
		api.Post("/triggers/process", s.processPending)
		api.Get("/replay", s.replay)
		api.Get("/stats", s.stats)
		api.Get("/verify", s.verify)
		api.Get("/vv/{subject}", s.computeVV)

		api.Route("/policies", func(pr chi.Router) {
			pr.Post("/", s.registerPolicy)
			pr.Get("/", s.listPolicies)
			pr.Get("/{id}", s.getPolicy)
			pr.Get("/{id}/observations", s.policyObservations)
			pr.Post("/{id}/actuals", s.recordActual)
			pr.Post("/{id}/kill", s.killPolicy)
		})

		api.Route("/contracts", func(cr chi.Router) {
			cr.Post("/", s.intakeContract)
			cr.Get("/", s.listContracts)
			cr.Get("/{id}", s.getContract)
			cr.Get("/{id}/blast-radius", s.blastRadius)
			cr.Post("/{id}/transitions", s.transitionContract)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.deps.Ledger.Head(r.Context()); err != nil {
		writeError(w, err, nil)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "healthy"})
}
