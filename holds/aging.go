// Package holds reports on hold aging and staleness. The hold lifecycle
// itself (create, resume, dispositions) lives in the workflow engine; this
// package reads the resulting entries.
package holds

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// Bucket is an aging band measured in days since a hold was initiated.
type Bucket string

const (
	BucketWeek    Bucket = "0-7"
	BucketTwoWeek Bucket = "8-14"
	BucketMonth   Bucket = "15-30"
	BucketStale   Bucket = ">30"
)

// Buckets lists the bands in ascending age order.
func Buckets() []Bucket {
	return []Bucket{BucketWeek, BucketTwoWeek, BucketMonth, BucketStale}
}

// BucketFor assigns an initiation time to its aging band as of now.
func BucketFor(initiatedAt, now time.Time) Bucket {
	days := int(now.Sub(initiatedAt).Hours() / 24)
	switch {
	case days <= 7:
		return BucketWeek
	case days <= 14:
		return BucketTwoWeek
	case days <= 30:
		return BucketMonth
	default:
		return BucketStale
	}
}

// Duration is how long a hold has been (or was) open: initiated_at to
// resumed_at for closed holds, initiated_at to now for active ones.
func Duration(h *domain.HoldEntry, now time.Time) time.Duration {
	if h.ResumedAt != nil {
		return h.ResumedAt.Sub(h.InitiatedAt)
	}
	return now.Sub(h.InitiatedAt)
}

// AgedHold is one active hold annotated with its band and open duration.
type AgedHold struct {
	Hold     *domain.HoldEntry `json:"hold"`
	Bucket   Bucket            `json:"bucket"`
	OpenDays int               `json:"open_days"`
}

// AgingReport groups a tenant's active holds by band.
type AgingReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Counts      map[Bucket]int        `json:"counts"`
	Entries     map[Bucket][]AgedHold `json:"entries"`
	Total       int                   `json:"total"`
}

// Reporter builds aging reports and feeds the staleness gauge.
type Reporter struct {
	store   repository.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReporter builds the reporter.
func NewReporter(store repository.Store, m *metrics.Metrics) *Reporter {
	return &Reporter{store: store, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// Report lists the tenant's active holds bucketed by age.
func (r *Reporter) Report(ctx context.Context, tc tenant.Context) (*AgingReport, error) {
	uow, err := r.store.Begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	active, err := uow.Holds().List(ctx, repository.HoldFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	now := r.now()
	report := &AgingReport{
		GeneratedAt: now,
		Counts:      map[Bucket]int{},
		Entries:     map[Bucket][]AgedHold{},
	}
	for _, b := range Buckets() {
		report.Counts[b] = 0
	}
	for _, h := range active {
		b := BucketFor(h.InitiatedAt, now)
		report.Counts[b]++
		report.Entries[b] = append(report.Entries[b], AgedHold{
			Hold:     h,
			Bucket:   b,
			OpenDays: int(now.Sub(h.InitiatedAt).Hours() / 24),
		})
		report.Total++
	}
	return report, nil
}

// Sweep runs on the scheduler: it counts active holds in the stale band per
// client, updates the gauge, and logs each stale hold so they surface in
// the operational log without anyone asking for a report.
func (r *Reporter) Sweep(ctx context.Context) error {
	uow, err := r.store.Begin(ctx, tenant.System(""))
	if err != nil {
		return err
	}
	defer uow.Rollback()

	active, err := uow.Holds().List(ctx, repository.HoldFilter{ActiveOnly: true})
	if err != nil {
		return err
	}

	now := r.now()
	staleByClient := map[string]int{}
	activeClients := map[string]bool{}
	for _, h := range active {
		activeClients[h.ClientID] = true
		if BucketFor(h.InitiatedAt, now) != BucketStale {
			continue
		}
		staleByClient[h.ClientID]++
		common.Logger.WithFields(logrus.Fields{
			"hold_id":       h.HoldID,
			"client_id":     h.ClientID,
			"work_order_id": h.WorkOrderID,
			"reason":        h.Reason,
			"severity":      h.Severity,
			"open_days":     int(now.Sub(h.InitiatedAt).Hours() / 24),
		}).Warn("hold exceeded 30 days")
	}

	if r.metrics != nil {
		for client := range activeClients {
			r.metrics.StaleHolds.WithLabelValues(client).Set(float64(staleByClient[client]))
		}
	}
	return nil
}
