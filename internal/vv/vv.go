// Package vv computes velocity of value: the rolling-window mean of the
// classified fact weights recorded about a subject.
package vv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
)

// Status buckets a VV value.
type Status string

const (
	StatusGray   Status = "gray"
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

const (
	DefaultWindowDays = 7
	DefaultMinSamples = 10

	greenThreshold  = 0.5
	yellowThreshold = -0.2
)

// Result is a computed VV.
// Value is nil when fewer than the minimum number of samples are in the window.
type Result struct {
	SubjectID   string    `json:"subject_id"`
	Value       *float64  `json:"value"`
	Status      Status    `json:"status"`
	Samples     int       `json:"samples"`
	WindowDays  int       `json:"window_days"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// FactSource reads facts in a window. Implemented by *ledger.Ledger.
type FactSource interface {
	Query(ctx context.Context, q ledger.Query) ([]ir.Fact, error)
}

// SystemFilter identifies system facts. Implemented by *classify.Table.
type SystemFilter interface {
	IsSystem(outcomeType string) bool
}

// Clock supplies the window end.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configures an Aggregator. Zero values select defaults.
type Options struct {
	MinSamples int
	Clock      Clock
	Cache      Cache
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// Aggregator computes VV results.
type Aggregator struct {
	src        FactSource
	system     SystemFilter
	minSamples int
	clock      Clock
	cache      Cache
	ttl        time.Duration
	log        *slog.Logger
}

// New creates an Aggregator.
func New(src FactSource, system SystemFilter, opts Options) *Aggregator {
	a := &Aggregator{
		src:        src,
		system:     system,
		minSamples: opts.MinSamples,
		clock:      opts.Clock,
		cache:      opts.Cache,
		ttl:        opts.CacheTTL,
		log:        opts.Logger,
	}
	if a.minSamples <= 0 {
		a.minSamples = DefaultMinSamples
	}
	if a.clock == nil {
		a.clock = systemClock{}
	}
	if a.cache == nil {
		a.cache = NopCache{}
	}
	if a.ttl <= 0 {
		a.ttl = time.Minute
	}
	if a.log == nil {
		a.log = slog.Default().With("component", "vv")
	}
	return a
}

// Compute returns the VV of subjectID over the last windowDays days.
// windowDays <= 0 uses DefaultWindowDays.
func (a *Aggregator) Compute(ctx context.Context, subjectID string, windowDays int) (Result, error) {
	if subjectID == "" {
		return Result{}, failure.Validation("vv.Compute", "subject id is required")
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	key := cacheKey(subjectID, windowDays)
	if cached, ok, err := a.cache.Get(ctx, key); err != nil {
		a.log.Warn("vv cache read failed", "subject_id", subjectID, "error", err)
	} else if ok {
		return cached, nil
	}

	end := ir.NormalizeTime(a.clock.Now())
	start := end.Add(-time.Duration(windowDays) * 24 * time.Hour)

	facts, err := a.src.Query(ctx, ledger.Query{EntityID: subjectID, Since: start, Until: end.Add(time.Microsecond)})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		SubjectID:   subjectID,
		WindowDays:  windowDays,
		WindowStart: start,
		WindowEnd:   end,
	}
	weights := make([]float64, 0, len(facts))
	for _, f := range facts {
		if a.system != nil && a.system.IsSystem(f.OutcomeType) {
			continue
		}
		weights = append(weights, f.Weight)
	}
	res.Samples = len(weights)
	res.Value, res.Status = Score(weights, a.minSamples)

	if err := a.cache.Set(ctx, key, res, a.ttl); err != nil {
		a.log.Warn("vv cache write failed", "subject_id", subjectID, "error", err)
	}
	return res, nil
}

// Score returns the mean of weights and its status, or (nil, gray) when
// there are fewer than minSamples weights.
func Score(weights []float64, minSamples int) (*float64, Status) {
	if len(weights) < minSamples || len(weights) == 0 {
		return nil, StatusGray
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	mean := sum / float64(len(weights))

	switch {
	case mean >= greenThreshold:
		return &mean, StatusGreen
	case mean >= yellowThreshold:
		return &mean, StatusYellow
	default:
		return &mean, StatusRed
	}
}

func cacheKey(subjectID string, windowDays int) string {
	return fmt.Sprintf("ledgerline:vv:%s:%d", subjectID, windowDays)
}
