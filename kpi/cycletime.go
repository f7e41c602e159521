package kpi

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// DefaultCycleTimeMinutes is the last link of the inference chain.
const DefaultCycleTimeMinutes = 0.25

const historyDays = 90

// CycleTime is a resolved ideal cycle time with its provenance. Source
// travels with every derived KPI value so callers can see inferred inputs.
type CycleTime struct {
	Minutes float64                `json:"minutes"`
	Source  domain.CycleTimeSource `json:"source"`
}

// CycleTimeResolver applies the inference chain for entries without an ideal
// cycle time: product master, work-order override, 90-day historical median
// (≥5 samples), 90-day historical mean (≥3 samples), global default.
// Historical sample sets are cached with a TTL; ProductionEntryCreated
// invalidates the tenant's entries.
type CycleTimeResolver struct {
	hist *gocache.Cache
	now  func() time.Time
}

// NewCycleTimeResolver builds a resolver with the given TTL for historical
// sample sets.
func NewCycleTimeResolver(ttl time.Duration) *CycleTimeResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CycleTimeResolver{
		hist: gocache.New(ttl, 2*ttl),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the ideal cycle time for one production entry. product and
// wo may be nil when the entry has no such association.
func (r *CycleTimeResolver) Resolve(ctx context.Context, uow repository.UnitOfWork, product *domain.Product, wo *domain.WorkOrder) (CycleTime, error) {
	if product != nil && product.IdealCycleTimeMinutes != nil {
		return CycleTime{Minutes: *product.IdealCycleTimeMinutes, Source: domain.SourceMaster}, nil
	}
	if wo != nil && wo.IdealCycleTimeMinutes != nil {
		return CycleTime{Minutes: *wo.IdealCycleTimeMinutes, Source: domain.SourceWorkOrder}, nil
	}

	if product != nil {
		samples, err := r.samples(ctx, uow, product.ProductID)
		if err != nil {
			return CycleTime{}, err
		}
		if len(samples) >= 5 {
			return CycleTime{Minutes: median(samples), Source: domain.SourceMedianHist}, nil
		}
		if len(samples) >= 3 {
			return CycleTime{Minutes: mean(samples), Source: domain.SourceMeanHist}, nil
		}
	}

	return CycleTime{Minutes: DefaultCycleTimeMinutes, Source: domain.SourceDefault}, nil
}

// samples returns the observed cycle times of the product's entries within
// the history window, most recent first.
func (r *CycleTimeResolver) samples(ctx context.Context, uow repository.UnitOfWork, productID string) ([]float64, error) {
	key := fmt.Sprintf("%s:%s", uow.Tenant().RequestedClientID, productID)
	if cached, ok := r.hist.Get(key); ok {
		return cached.([]float64), nil
	}

	now := r.now()
	entries, err := uow.Production().List(ctx, repository.ProductionFilter{
		ProductID: productID,
		Range:     repository.Range{From: now.AddDate(0, 0, -historyDays), To: now},
	})
	if err != nil {
		return nil, err
	}

	var samples []float64
	for _, e := range entries {
		if e.ActualCycleTimeMinutes > 0 {
			samples = append(samples, e.ActualCycleTimeMinutes)
		}
	}
	r.hist.Set(key, samples, gocache.DefaultExpiration)
	return samples, nil
}

// InvalidateClient drops the cached sample sets of one tenant. Called by the
// cache-invalidation handler on ProductionEntryCreated.
func (r *CycleTimeResolver) InvalidateClient(clientID string) {
	prefix := clientID + ":"
	for key := range r.hist.Items() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			r.hist.Delete(key)
		}
	}
}

func median(in []float64) float64 {
	s := append([]float64(nil), in...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func mean(in []float64) float64 {
	var sum float64
	for _, v := range in {
		sum += v
	}
	return sum / float64(len(in))
}
