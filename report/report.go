// Package report assembles per-tenant KPI reports and drives their periodic
// generation. Rendering to PDF or XLSX is delegated to an external
// collaborator behind the Renderer interfaces.
package report

import (
	"context"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/forecast"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// Kind selects the reporting window.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// Days returns the window length of the kind.
func (k Kind) Days() int {
	switch k {
	case KindDaily:
		return 1
	case KindWeekly:
		return 7
	case KindMonthly:
		return 30
	}
	return 0
}

func (k Kind) Valid() bool { return k.Days() > 0 }

// trendDays is the history pulled per indicator for the trend strip and the
// forecast input.
const trendDays = 30

// Entry is one indicator in the payload.
type Entry struct {
	KPI      domain.KPIID       `json:"kpi"`
	Value    *float64           `json:"value"`
	Reason   string             `json:"reason,omitempty"`
	Details  map[string]any     `json:"details,omitempty"`
	Trend    []kpi.TrendPoint   `json:"trend,omitempty"`
	Forecast *forecast.Forecast `json:"forecast,omitempty"`
}

// Payload is the assembled report handed to the renderer.
type Payload struct {
	Tenant      string           `json:"tenant"`
	Kind        Kind             `json:"kind"`
	Window      repository.Range `json:"window"`
	GeneratedAt time.Time        `json:"generated_at"`
	KPIs        []Entry          `json:"kpis"`
}

// Assembler pulls the indicators for a report.
type Assembler struct {
	engine *kpi.Engine
	now    func() time.Time
}

// NewAssembler wires the report assembler onto the KPI engine.
func NewAssembler(engine *kpi.Engine) *Assembler {
	return &Assembler{engine: engine, now: func() time.Time { return time.Now().UTC() }}
}

// Assemble computes every indicator over the kind's trailing window, with
// its trend strip and, where enough history exists, a forecast. Indicators
// keep their NO_DATA reason instead of failing the report.
func (a *Assembler) Assemble(ctx context.Context, tc tenant.Context, kind Kind) (*Payload, error) {
	if !kind.Valid() {
		return nil, domain.Validation("kind", "report kind must be daily, weekly or monthly")
	}
	clientID, err := tc.WriteClient()
	if err != nil {
		return nil, err
	}

	now := a.now()
	window := repository.Range{From: now.AddDate(0, 0, -kind.Days()), To: now}
	p := &Payload{Tenant: clientID, Kind: kind, Window: window, GeneratedAt: now}

	for _, id := range domain.KPIIDs() {
		res, err := a.engine.Compute(ctx, tc, kpi.Query{KPI: id, Window: window})
		if err != nil {
			return nil, err
		}
		entry := Entry{KPI: id, Value: res.Value, Reason: res.Reason, Details: res.Details}

		trend, err := a.engine.Trend(ctx, tc, id, trendDays)
		if err == nil && len(trend) > 0 {
			entry.Trend = trend
			entry.Forecast = forecastFor(trend, kind)
		}
		p.KPIs = append(p.KPIs, entry)
	}
	return p, nil
}

// forecastFor projects the trend forward by the report window. Too little
// history simply drops the forecast from the entry.
func forecastFor(trend []kpi.TrendPoint, kind Kind) *forecast.Forecast {
	series := make([]forecast.Observation, len(trend))
	for i, pt := range trend {
		series[i] = forecast.Observation{Date: pt.Date, Value: pt.Value}
	}
	f, err := forecast.Run(series, kind.Days(), forecast.MethodAuto)
	if err != nil || len(f.Points) == 0 {
		return nil
	}
	return &f
}
