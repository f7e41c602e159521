package kpi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/db"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// CacheInvalidator is the synchronous handler that drops stale cached
// results before the committing caller returns, so a read issued right after
// a write never sees a pre-write value.
type CacheInvalidator struct {
	engine *Engine
}

// NewCacheInvalidator builds the handler.
func NewCacheInvalidator(engine *Engine) *CacheInvalidator {
	return &CacheInvalidator{engine: engine}
}

func (h *CacheInvalidator) Name() string { return "kpi-cache-invalidator" }

// Matches accepts every event type with an invalidation mapping.
func (h *CacheInvalidator) Matches(eventType string) bool {
	_, ok := invalidations[eventType]
	return ok
}

func (h *CacheInvalidator) Handle(ctx context.Context, ev domain.Event) error {
	if ev.ClientID == nil {
		return nil
	}
	h.engine.Invalidate(ctx, *ev.ClientID, ev.Type)
	return nil
}

// SeriesWriter appends daily KPI samples; the pgx series store satisfies it.
type SeriesWriter interface {
	Append(ctx context.Context, p db.SeriesPoint) error
}

// AnalyticsFanout is the asynchronous handler that materializes daily KPI
// samples into the trend series whenever underlying rows change. Each
// affected indicator is recomputed over the event's day and upserted, so
// repeated events for the same day converge instead of duplicating.
type AnalyticsFanout struct {
	engine *Engine
	series SeriesWriter
}

// NewAnalyticsFanout builds the handler.
func NewAnalyticsFanout(engine *Engine, series SeriesWriter) *AnalyticsFanout {
	return &AnalyticsFanout{engine: engine, series: series}
}

func (h *AnalyticsFanout) Name() string { return "analytics-fanout" }

func (h *AnalyticsFanout) Matches(eventType string) bool {
	_, ok := invalidations[eventType]
	return ok
}

func (h *AnalyticsFanout) Handle(ctx context.Context, ev domain.Event) error {
	if ev.ClientID == nil || h.series == nil {
		return nil
	}
	clientID := *ev.ClientID
	day := ev.OccurredAt.UTC().Truncate(24 * time.Hour)
	window := repository.Range{From: day, To: day.AddDate(0, 0, 1)}

	tc := tenant.System(clientID)
	for _, kpi := range invalidations[ev.Type] {
		result, err := h.engine.compute(ctx, tc, Query{KPI: kpi, Window: window})
		if err != nil {
			return err
		}
		if result.Value == nil {
			continue
		}
		err = h.series.Append(ctx, db.SeriesPoint{
			ClientID:   clientID,
			KPI:        string(kpi),
			SampleDate: day,
			Value:      *result.Value,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ThresholdEvaluator is the asynchronous handler that re-checks a tenant's
// configured KPI bounds after data changes. A crossing emits
// KPIThresholdViolated, which is critical: the bus never drops it.
type ThresholdEvaluator struct {
	engine *Engine
	store  repository.Store
	// evaluation window in days, trailing from now
	windowDays int
}

// NewThresholdEvaluator builds the handler with a trailing window.
func NewThresholdEvaluator(engine *Engine, store repository.Store, windowDays int) *ThresholdEvaluator {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &ThresholdEvaluator{engine: engine, store: store, windowDays: windowDays}
}

func (h *ThresholdEvaluator) Name() string { return "threshold-evaluator" }

// Matches accepts data-changing events; violation events themselves are
// excluded so one crossing cannot cascade.
func (h *ThresholdEvaluator) Matches(eventType string) bool {
	if eventType == domain.EventKPIThresholdViolated {
		return false
	}
	_, ok := invalidations[eventType]
	return ok
}

func (h *ThresholdEvaluator) Handle(ctx context.Context, ev domain.Event) error {
	if ev.ClientID == nil {
		return nil
	}
	clientID := *ev.ClientID
	tc := tenant.System(clientID)

	uow, err := h.store.Begin(ctx, tc)
	if err != nil {
		return err
	}
	thresholds, err := uow.Thresholds().List(ctx)
	if err != nil {
		uow.Rollback()
		return err
	}
	uow.Rollback()

	affected := map[domain.KPIID]bool{}
	for _, kpi := range invalidations[ev.Type] {
		affected[kpi] = true
	}

	now := time.Now().UTC()
	window := repository.Range{From: now.AddDate(0, 0, -h.windowDays), To: now}
	tag := windowTag(window.From, window.To)

	for _, threshold := range thresholds {
		if !affected[threshold.KPI] {
			continue
		}
		result, err := h.engine.Compute(ctx, tc, Query{KPI: threshold.KPI, Window: window})
		if err != nil {
			return err
		}
		if result.Value == nil {
			continue
		}
		bound, violated := crossed(threshold, *result.Value)
		if !violated {
			continue
		}
		common.Logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"kpi":       threshold.KPI,
			"value":     *result.Value,
			"threshold": bound,
		}).Warn("kpi threshold violated")

		violation := domain.NewKPIThresholdViolated(clientID, threshold.KPI, *result.Value, bound, tag)
		if err := h.emit(ctx, tc, violation); err != nil {
			return err
		}
	}
	return nil
}

// emit persists the violation through its own unit of work so it reaches the
// event store and the critical dispatch path.
func (h *ThresholdEvaluator) emit(ctx context.Context, tc tenant.Context, ev domain.Event) error {
	uow, err := h.store.Begin(ctx, tc)
	if err != nil {
		return err
	}
	uow.Collect(ev)
	if _, err := uow.Commit(ctx); err != nil {
		uow.Rollback()
		return err
	}
	return nil
}

// crossed reports the violated bound, min first when both are set.
func crossed(t *domain.KPIThreshold, value float64) (float64, bool) {
	if t.Min != nil && value < *t.Min {
		return *t.Min, true
	}
	if t.Max != nil && value > *t.Max {
		return *t.Max, true
	}
	return 0, false
}
