// Package reporting builds read-only aggregate reports over claims,
// reconciliations, billing records and HMO providers.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/claimrecon/claimrecon/internal/platform/db"
)

type Kind string

const (
	KindFinancialSummary    Kind = "financial_summary"
	KindHMOPerformance      Kind = "hmo_performance"
	KindClaimAging          Kind = "claim_aging"
	KindDenialAnalysis      Kind = "denial_analysis"
	KindReconciliationAudit Kind = "reconciliation_audit"
)

// Kinds lists every report the engine can build.
var Kinds = []Kind{
	KindFinancialSummary,
	KindHMOPerformance,
	KindClaimAging,
	KindDenialAnalysis,
	KindReconciliationAudit,
}

// ParseKind accepts both snake_case and the kebab-case URL form.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s || kebab(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown report kind %q", billing.ErrValidation, s)
}

func kebab(k Kind) string {
	b := []byte(k)
	for i := range b {
		if b[i] == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// Default look-back windows, in days before the end date.
const (
	defaultSpanDays = 30
	denialSpanDays  = 90
)

// Window is an inclusive date range. Nil bounds take the report's default.
type Window struct {
	Start *billing.Date
	End   *billing.Date
}

type DateRange struct {
	StartDate billing.Date `json:"start_date"`
	EndDate   billing.Date `json:"end_date"`
}

func (r DateRange) filter() billing.DateRange {
	return billing.DateRange{From: r.StartDate, To: r.EndDate}
}

func (w Window) resolve(today billing.Date, span int) (DateRange, error) {
	end := today
	if w.End != nil && !w.End.IsZero() {
		end = *w.End
	}
	start := end.AddDays(-span)
	if w.Start != nil && !w.Start.IsZero() {
		start = *w.Start
	}
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: start_date %s is after end_date %s", billing.ErrValidation, start, end)
	}
	return DateRange{StartDate: start, EndDate: end}, nil
}

type Engine struct {
	store   billing.Store
	logger  zerolog.Logger
	group   singleflight.Group
	latency *prometheus.HistogramVec
	now     func() time.Time
}

// NewEngine returns an engine reading through store. Build latency is
// registered with reg when it is non-nil.
func NewEngine(store billing.Store, logger zerolog.Logger, reg prometheus.Registerer) *Engine {
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimrecon_report_build_duration_seconds",
			Help:    "Report build duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
	if reg != nil {
		reg.MustRegister(latency)
	}
	return &Engine{
		store:   store,
		logger:  logger.With().Str("component", "reporting").Logger(),
		latency: latency,
		now:     time.Now,
	}
}

func (e *Engine) today() billing.Date {
	return billing.DateOf(e.now())
}

// Build computes the report of the given kind over w. Identical concurrent
// requests for the same tenant share one computation.
func (e *Engine) Build(ctx context.Context, kind Kind, w Window) (interface{}, error) {
	today := e.today()
	span := defaultSpanDays
	if kind == KindDenialAnalysis {
		span = denialSpanDays
	}

	var build func(ctx context.Context, dr DateRange) (interface{}, error)
	switch kind {
	case KindFinancialSummary:
		build = func(ctx context.Context, dr DateRange) (interface{}, error) { return e.financialSummary(ctx, dr) }
	case KindHMOPerformance:
		build = func(ctx context.Context, dr DateRange) (interface{}, error) { return e.hmoPerformance(ctx, dr) }
	case KindClaimAging:
		build = func(ctx context.Context, _ DateRange) (interface{}, error) { return e.claimAging(ctx, today) }
	case KindDenialAnalysis:
		build = func(ctx context.Context, dr DateRange) (interface{}, error) { return e.denialAnalysis(ctx, dr) }
	case KindReconciliationAudit:
		build = func(ctx context.Context, dr DateRange) (interface{}, error) { return e.reconciliationAudit(ctx, dr) }
	default:
		return nil, fmt.Errorf("%w: unknown report kind %q", billing.ErrValidation, kind)
	}

	var dr DateRange
	if kind != KindClaimAging {
		var err error
		if dr, err = w.resolve(today, span); err != nil {
			return nil, err
		}
	}

	key := fmt.Sprintf("%s|%s|%s|%s|%s", db.TenantFromContext(ctx), kind, dr.StartDate, dr.EndDate, today)
	run := func(ctx context.Context) (interface{}, error) {
		start := time.Now()
		var out interface{}
		err := e.store.Snapshot(ctx, func(ctx context.Context) error {
			var err error
			out, err = build(ctx, dr)
			return err
		})
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.latency.WithLabelValues(string(kind), outcome).Observe(time.Since(start).Seconds())
		return out, err
	}

	for {
		res, led := e.join(ctx, key, run)
		if res.Err != nil && !led && ctx.Err() == nil && abandoned(res.Err) {
			// Another caller's request ended under us; run again for ours.
			e.logger.Debug().Str("kind", string(kind)).Msg("shared report build abandoned, retrying")
			continue
		}
		if res.Err != nil {
			e.logger.Error().Err(res.Err).Str("kind", string(kind)).Msg("report build failed")
			return nil, fmt.Errorf("build %s: %w", kind, res.Err)
		}
		e.logger.Debug().Str("kind", string(kind)).Bool("shared", res.Shared).Msg("report built")
		return res.Val, nil
	}
}

var errAbandoned = errors.New("report build abandoned before it started")

func abandoned(err error) bool {
	return errors.Is(err, errAbandoned) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// flight tracks whether this caller's closure was the one singleflight ran.
type flight struct {
	mu        sync.Mutex
	started   bool
	abandoned bool
}

// join runs run under key or waits for an identical build already in
// progress. The build reads through the caller's tenant connection, so the
// caller that runs it always waits for it to finish. Callers that only joined
// stop waiting as soon as their own ctx ends. led reports whether run was
// this caller's.
func (e *Engine) join(ctx context.Context, key string, run func(context.Context) (interface{}, error)) (res singleflight.Result, led bool) {
	f := &flight{}
	ch := e.group.DoChan(key, func() (interface{}, error) {
		f.mu.Lock()
		if f.abandoned {
			f.mu.Unlock()
			return nil, errAbandoned
		}
		f.started = true
		f.mu.Unlock()
		return run(ctx)
	})

	select {
	case res = <-ch:
		f.mu.Lock()
		defer f.mu.Unlock()
		return res, f.started
	case <-ctx.Done():
	}

	f.mu.Lock()
	if !f.started {
		f.abandoned = true
		f.mu.Unlock()
		return singleflight.Result{Err: ctx.Err()}, false
	}
	f.mu.Unlock()
	return <-ch, true
}

// Typed entry points for callers that know the kind up front.

func (e *Engine) FinancialSummary(ctx context.Context, w Window) (*FinancialSummary, error) {
	v, err := e.Build(ctx, KindFinancialSummary, w)
	if err != nil {
		return nil, err
	}
	return v.(*FinancialSummary), nil
}

func (e *Engine) HMOPerformance(ctx context.Context, w Window) (*HMOPerformance, error) {
	v, err := e.Build(ctx, KindHMOPerformance, w)
	if err != nil {
		return nil, err
	}
	return v.(*HMOPerformance), nil
}

func (e *Engine) ClaimAging(ctx context.Context) (*ClaimAging, error) {
	v, err := e.Build(ctx, KindClaimAging, Window{})
	if err != nil {
		return nil, err
	}
	return v.(*ClaimAging), nil
}

func (e *Engine) DenialAnalysis(ctx context.Context, w Window) (*DenialAnalysis, error) {
	v, err := e.Build(ctx, KindDenialAnalysis, w)
	if err != nil {
		return nil, err
	}
	return v.(*DenialAnalysis), nil
}

func (e *Engine) ReconciliationAudit(ctx context.Context, w Window) (*ReconciliationAudit, error) {
	v, err := e.Build(ctx, KindReconciliationAudit, w)
	if err != nil {
		return nil, err
	}
	return v.(*ReconciliationAudit), nil
}
