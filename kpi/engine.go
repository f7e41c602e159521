// Package kpi computes the platform's indicators as pure functions over
// committed rows, behind a read-through cache. The engine exposes no
// mutation; event handlers in this package keep the cache, the analytics
// series and the threshold alerts in step with committed changes.
package kpi

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/db"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// Query selects one indicator over a window with optional filters.
type Query struct {
	KPI         domain.KPIID           `json:"kpi"`
	Window      repository.Range       `json:"window"`
	ShiftID     string                 `json:"shift_id,omitempty"`
	ProductID   string                 `json:"product_id,omitempty"`
	WorkOrderID string                 `json:"work_order_id,omitempty"`
	EquipmentID string                 `json:"equipment_id,omitempty"`
	Stage       domain.InspectionStage `json:"stage,omitempty"`
}

// Result is one computed indicator value. Value is nil with Reason NO_DATA
// when the denominator was empty; NaN and Inf never appear.
type Result struct {
	KPI        domain.KPIID   `json:"kpi"`
	Value      *float64       `json:"value"`
	Reason     string         `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Window     string         `json:"window"`
	ComputedAt time.Time      `json:"computed_at"`
	Cached     bool           `json:"cached"`
}

// TrendPoint is one daily sample of an indicator.
type TrendPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Engine is the KPI computation service.
type Engine struct {
	store    repository.Store
	cache    Backend
	resolver *CycleTimeResolver
	series   db.SeriesReader
	metrics  *metrics.Metrics
	group    singleflight.Group
	now      func() time.Time
}

// NewEngine builds the engine. cache and series may be nil: a nil cache
// computes every query, a nil series disables trends.
func NewEngine(store repository.Store, cache Backend, resolver *CycleTimeResolver, series db.SeriesReader, m *metrics.Metrics) *Engine {
	if resolver == nil {
		resolver = NewCycleTimeResolver(5 * time.Minute)
	}
	return &Engine{
		store:    store,
		cache:    cache,
		resolver: resolver,
		series:   series,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolver exposes the cycle-time resolver for the invalidation handler.
func (e *Engine) Resolver() *CycleTimeResolver { return e.resolver }

// Compute evaluates one query. Results are cached per tenant; concurrent
// misses on the same key collapse into one computation.
func (e *Engine) Compute(ctx context.Context, tc tenant.Context, q Query) (Result, error) {
	if !q.KPI.Valid() {
		return Result{}, domain.Validation("kpi", "unknown indicator")
	}

	clientID := tc.RequestedClientID
	if e.cache == nil || clientID == "" {
		return e.compute(ctx, tc, q)
	}

	key, err := cacheKey(clientID, q)
	if err != nil {
		return e.compute(ctx, tc, q)
	}

	if raw, ok := e.cache.Get(ctx, key); ok {
		if r, err := decodeResult(raw); err == nil {
			if e.metrics != nil {
				e.metrics.CacheHits.Inc()
			}
			r.Cached = true
			return r, nil
		}
	}
	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		r, err := e.compute(ctx, tc, q)
		if err != nil {
			return Result{}, err
		}
		if raw, err := encodeResult(r); err == nil {
			e.cache.Set(ctx, key, raw)
		}
		return r, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Invalidate drops a tenant's cached values for every indicator the event
// type can change.
func (e *Engine) Invalidate(ctx context.Context, clientID, eventType string) {
	if e.cache == nil || clientID == "" {
		return
	}
	for _, kpi := range invalidations[eventType] {
		e.cache.DeletePrefix(ctx, clientID+":"+string(kpi)+":")
	}
	if eventType == domain.EventProductionEntryCreated {
		e.resolver.InvalidateClient(clientID)
	}
}

// Trend returns the stored daily samples of one indicator.
func (e *Engine) Trend(ctx context.Context, tc tenant.Context, kpi domain.KPIID, days int) ([]TrendPoint, error) {
	if e.series == nil {
		return nil, domain.Infra(nil, "trend series store not configured")
	}
	if !kpi.Valid() {
		return nil, domain.Validation("kpi", "unknown indicator")
	}
	clientID, err := tc.WriteClient()
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}

	now := e.now()
	points, err := e.series.Window(ctx, clientID, string(kpi), now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, domain.Infra(err, "trend query failed")
	}
	out := make([]TrendPoint, 0, len(points))
	for _, p := range points {
		out = append(out, TrendPoint{Date: p.SampleDate, Value: p.Value})
	}
	return out, nil
}

// compute runs the uncached path inside a read-only unit of work.
func (e *Engine) compute(ctx context.Context, tc tenant.Context, q Query) (Result, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.KPIComputeSeconds.WithLabelValues(string(q.KPI)).Observe(time.Since(start).Seconds())
		}
	}()

	uow, err := e.store.Begin(ctx, tc)
	if err != nil {
		return Result{}, err
	}
	defer uow.Rollback()

	window := e.clampWindow(q.Window)
	var o outcome
	switch q.KPI {
	case domain.KPIWIPAging:
		o, err = e.wipAging(ctx, uow, q)
	case domain.KPIOTD:
		o, err = e.otd(ctx, uow, window, q)
	case domain.KPIEfficiency:
		o, err = e.efficiency(ctx, uow, window, q)
	case domain.KPIPerformance:
		o, err = e.performance(ctx, uow, window, q)
	case domain.KPIPPM:
		o, err = e.ppm(ctx, uow, window, q)
	case domain.KPIDPMO:
		o, err = e.dpmo(ctx, uow, window, q)
	case domain.KPIFPY:
		o, err = e.fpy(ctx, uow, window, q)
	case domain.KPIRTY:
		o, err = e.rty(ctx, uow, window, q)
	case domain.KPIAvailability:
		o, err = e.availability(ctx, uow, window, q)
	case domain.KPIAbsenteeism:
		o, err = e.absenteeism(ctx, uow, window, q)
	case domain.KPIOEE:
		o, err = e.oee(ctx, uow, window, q)
	default:
		return Result{}, domain.Validation("kpi", "unknown indicator")
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		KPI:        q.KPI,
		Value:      o.value,
		Reason:     o.reason,
		Details:    o.details,
		Window:     windowTag(q.Window.From, q.Window.To),
		ComputedAt: e.now(),
	}, nil
}

// clampWindow excludes future-dated rows from current-window aggregates by
// capping the upper bound at now.
func (e *Engine) clampWindow(r repository.Range) repository.Range {
	now := e.now()
	if r.To.IsZero() || r.To.After(now) {
		r.To = now
	}
	return r
}

func (e *Engine) wipAging(ctx context.Context, uow repository.UnitOfWork, q Query) (outcome, error) {
	orders, err := uow.WorkOrders().List(ctx, repository.WorkOrderFilter{OpenOnly: true})
	if err != nil {
		return outcome{}, err
	}
	return calcWIPAging(orders, e.now()), nil
}

func (e *Engine) otd(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	delivered, err := uow.WorkOrders().List(ctx, repository.WorkOrderFilter{Delivered: true, Range: window})
	if err != nil {
		return outcome{}, err
	}
	return calcOTD(delivered), nil
}

// productionInputs loads the window's production entries with resolved cycle
// times. Products and work orders are fetched once each.
func (e *Engine) productionInputs(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) ([]productionInput, error) {
	entries, err := uow.Production().List(ctx, repository.ProductionFilter{
		ProductID:   q.ProductID,
		WorkOrderID: q.WorkOrderID,
		ShiftID:     q.ShiftID,
		Range:       window,
	})
	if err != nil {
		return nil, err
	}

	products := map[string]*domain.Product{}
	orders := map[string]*domain.WorkOrder{}
	inputs := make([]productionInput, 0, len(entries))
	for _, entry := range entries {
		product, ok := products[entry.ProductID]
		if !ok {
			product, err = uow.Products().Get(ctx, entry.ProductID)
			if err != nil && !domain.IsKind(err, domain.KindNotFound) {
				return nil, err
			}
			products[entry.ProductID] = product
		}
		var wo *domain.WorkOrder
		if entry.WorkOrderID != nil {
			wo, ok = orders[*entry.WorkOrderID]
			if !ok {
				wo, err = uow.WorkOrders().Get(ctx, *entry.WorkOrderID)
				if err != nil && !domain.IsKind(err, domain.KindNotFound) {
					return nil, err
				}
				orders[*entry.WorkOrderID] = wo
			}
		}
		ct, err := e.resolver.Resolve(ctx, uow, product, wo)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, productionInput{Entry: entry, CycleTime: ct})
	}
	return inputs, nil
}

func (e *Engine) downtimeHours(ctx context.Context, uow repository.UnitOfWork, window repository.Range, equipmentID string) (float64, error) {
	entries, err := uow.Downtime().List(ctx, repository.DowntimeFilter{EquipmentID: equipmentID, Range: window})
	if err != nil {
		return 0, err
	}
	var hours float64
	for _, d := range entries {
		hours += d.DurationMinutes / 60
	}
	return hours, nil
}

func (e *Engine) efficiency(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	inputs, err := e.productionInputs(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	downtime, err := e.downtimeHours(ctx, uow, window, q.EquipmentID)
	if err != nil {
		return outcome{}, err
	}
	return calcEfficiency(inputs, downtime), nil
}

func (e *Engine) performance(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	inputs, err := e.productionInputs(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	allowOver, err := e.allowOverPerformance(ctx, uow)
	if err != nil {
		return outcome{}, err
	}
	return calcPerformance(inputs, allowOver), nil
}

func (e *Engine) allowOverPerformance(ctx context.Context, uow repository.UnitOfWork) (bool, error) {
	clientID := uow.Tenant().RequestedClientID
	if clientID == "" {
		return false, nil
	}
	client, err := uow.Clients().Get(ctx, clientID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return client.AllowOverPerformance, nil
}

func (e *Engine) quality(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) ([]*domain.QualityEntry, error) {
	return uow.Quality().List(ctx, repository.QualityFilter{
		WorkOrderID: q.WorkOrderID,
		ProductID:   q.ProductID,
		Range:       window,
	})
}

func (e *Engine) ppm(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	entries, err := e.quality(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	return calcPPM(entries), nil
}

func (e *Engine) dpmo(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	entries, err := e.quality(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	opportunities := map[string]float64{}
	for _, entry := range entries {
		if _, ok := opportunities[entry.ProductID]; ok {
			continue
		}
		po, err := uow.Opportunities().Get(ctx, entry.ProductID)
		if err != nil {
			if domain.IsKind(err, domain.KindNotFound) {
				continue
			}
			return outcome{}, err
		}
		opportunities[entry.ProductID] = po.OpportunitiesPerUnit
	}
	return calcDPMO(entries, opportunities), nil
}

func (e *Engine) fpy(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	entries, err := e.quality(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	return calcFPY(entries, q.Stage), nil
}

func (e *Engine) rty(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	entries, err := e.quality(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	return calcRTY(entries), nil
}

func (e *Engine) availability(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	entries, err := uow.Production().List(ctx, repository.ProductionFilter{ShiftID: q.ShiftID, Range: window})
	if err != nil {
		return outcome{}, err
	}
	downtime, err := e.downtimeHours(ctx, uow, window, q.EquipmentID)
	if err != nil {
		return outcome{}, err
	}
	return calcAvailability(entries, downtime), nil
}

func (e *Engine) absenteeism(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	entries, err := uow.Attendance().List(ctx, repository.AttendanceFilter{ShiftID: q.ShiftID, Range: window})
	if err != nil {
		return outcome{}, err
	}
	return calcAbsenteeism(entries), nil
}

func (e *Engine) oee(ctx context.Context, uow repository.UnitOfWork, window repository.Range, q Query) (outcome, error) {
	availability, err := e.availability(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	performance, err := e.performance(ctx, uow, window, q)
	if err != nil {
		return outcome{}, err
	}
	fq := q
	fq.Stage = domain.StageFinal
	quality, err := e.fpy(ctx, uow, window, fq)
	if err != nil {
		return outcome{}, err
	}
	oee := calcOEE(availability, performance, quality)
	if oee.value == nil {
		common.Logger.WithField("client_id", uow.Tenant().RequestedClientID).
			Debug("oee missing a component")
	}
	return oee, nil
}
