package capacity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

func date(day int) time.Time {
	return time.Date(2026, 9, day, 0, 0, 0, 0, time.UTC)
}

// planFixture is a small plant: two lines, one overloaded; two products
// sharing a scarce component.
func planFixture() *Workbook {
	return &Workbook{
		Orders: []OrderRow{
			{OrderID: "ORD-2", ProductCode: "SHIRT", Qty: 300, DueDate: date(3), Priority: 2},
			{OrderID: "ORD-1", ProductCode: "SHIRT", Qty: 200, DueDate: date(2), Priority: 1},
			{OrderID: "ORD-3", ProductCode: "JACKET", Qty: 100, DueDate: date(3), Priority: 1, LineID: "L2"},
		},
		Calendar: []CalendarRow{
			{Date: date(1), IsWorking: true, HoursAvailable: 8},
			{Date: date(2), IsWorking: true, HoursAvailable: 8},
			{Date: date(3), IsWorking: false},
			{Date: date(4), IsWorking: true, HoursAvailable: 8},
		},
		Lines: []LineRow{
			{LineID: "L1", Name: "Sewing 1", CapacityUnitsPerHour: 60, Active: true},
			{LineID: "L2", Name: "Sewing 2", CapacityUnitsPerHour: 40, Active: true},
			{LineID: "L3", Name: "Mothballed", CapacityUnitsPerHour: 80, Active: false},
		},
		Standards: []StandardRow{
			{LineID: "L1", ProductCode: "SHIRT", CycleTimeMinutes: 2, SetupMinutes: 30},
			{LineID: "L2", ProductCode: "SHIRT", CycleTimeMinutes: 3, SetupMinutes: 30},
			{LineID: "L2", ProductCode: "JACKET", CycleTimeMinutes: 6, SetupMinutes: 60},
		},
		BOM: []BOMRow{
			{ProductCode: "SHIRT", ComponentCode: "FABRIC", QtyPerUnit: 1.5},
			{ProductCode: "SHIRT", ComponentCode: "BUTTONS", QtyPerUnit: 8},
			{ProductCode: "JACKET", ComponentCode: "FABRIC", QtyPerUnit: 3},
		},
		Stock: []StockRow{
			{ComponentCode: "FABRIC", OnHand: 600, AsOfDate: date(1)},
			{ComponentCode: "BUTTONS", OnHand: 10000, AsOfDate: date(1)},
		},
		Versions: map[string]int{},
	}
}

func TestCloneIsIndependent(t *testing.T) {
	w := planFixture()
	w.Scenarios = []ScenarioRow{{ID: "S1", Type: domain.ScenarioOvertime, Params: map[string]any{"extra_hours_per_day": 2.0}}}

	c := w.Clone()
	c.Orders[0].Qty = 1
	c.Scenarios[0].Params["extra_hours_per_day"] = 9.0
	c.Versions["Orders"] = 7

	assert.Equal(t, 300, w.Orders[0].Qty)
	assert.Equal(t, 2.0, w.Scenarios[0].Params["extra_hours_per_day"])
	assert.NotContains(t, w.Versions, "Orders")
}

func TestComponentCheckGreedyAllocation(t *testing.T) {
	w := planFixture()
	res := RunComponentCheck(w)

	// Due-date order: ORD-1 (day 2), then ORD-3 before ORD-2 on day 3 by
	// priority. Fabric pool 600: ORD-1 takes 300, ORD-3 takes 300, ORD-2
	// gets nothing of its 450.
	assert.Equal(t, 2, res.FeasibleOrders)
	assert.Equal(t, 1, res.InfeasibleOrders)

	byOrder := map[string]ComponentCheckRow{}
	for _, r := range res.Rows {
		if r.ComponentCode == "FABRIC" {
			byOrder[r.OrderID] = r
		}
	}
	assert.True(t, byOrder["ORD-1"].Feasible)
	assert.Equal(t, 300.0, byOrder["ORD-1"].Available)
	assert.True(t, byOrder["ORD-3"].Feasible)
	short := byOrder["ORD-2"]
	assert.False(t, short.Feasible)
	assert.Equal(t, 450.0, short.Required)
	assert.Equal(t, 0.0, short.Available)
	assert.Equal(t, 450.0, short.Shortfall)

	// Derived sheet replaced on the workbook.
	assert.Equal(t, res.Rows, w.ComponentCheck)
}

func TestComponentCheckTieBreaksByPriorityThenID(t *testing.T) {
	w := &Workbook{
		Orders: []OrderRow{
			{OrderID: "ORD-B", ProductCode: "P", Qty: 10, DueDate: date(1), Priority: 1},
			{OrderID: "ORD-A", ProductCode: "P", Qty: 10, DueDate: date(1), Priority: 1},
			{OrderID: "ORD-C", ProductCode: "P", Qty: 10, DueDate: date(1), Priority: 0},
		},
		BOM:   []BOMRow{{ProductCode: "P", ComponentCode: "X", QtyPerUnit: 1}},
		Stock: []StockRow{{ComponentCode: "X", OnHand: 20}},
	}
	res := RunComponentCheck(w)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, "ORD-C", res.Rows[0].OrderID)
	assert.Equal(t, "ORD-A", res.Rows[1].OrderID)
	assert.Equal(t, "ORD-B", res.Rows[2].OrderID)
	assert.True(t, res.Rows[0].Feasible)
	assert.True(t, res.Rows[1].Feasible)
	assert.False(t, res.Rows[2].Feasible)
}

func TestAnalysisDemandAndBottlenecks(t *testing.T) {
	w := planFixture()
	res := RunAnalysis(w, time.Time{}, time.Time{})

	rows := map[string]map[string]CapacityRow{}
	for _, r := range res.Rows {
		d := r.Date.Format("01-02")
		if rows[r.LineID] == nil {
			rows[r.LineID] = map[string]CapacityRow{}
		}
		rows[r.LineID][d] = r
	}

	// SHIRT orders auto-assign to L1 (lower cycle time). ORD-1 lands on its
	// due day 2; ORD-2 is due on the non-working day 3 and pulls back to
	// day 2. Demand = (200+300)*2/60 + 2*0.5h setup = 17.67h on 8h.
	l1 := rows["L1"]["09-02"]
	require.NotZero(t, l1.DemandHours)
	assert.InDelta(t, 500.0*2/60+1.0, l1.DemandHours, 1e-9)
	assert.True(t, l1.Bottleneck)
	assert.InDelta(t, l1.DemandHours/8*100, l1.UtilizationPct, 1e-9)

	// JACKET pinned to L2: 100*6/60 + 1h setup = 11h on 8h.
	l2 := rows["L2"]["09-02"]
	assert.InDelta(t, 11.0, l2.DemandHours, 1e-9)
	assert.True(t, l2.Bottleneck)

	assert.Equal(t, 2, res.Bottlenecks)
	assert.Equal(t, res.Rows, w.Analysis)
}

func TestAnalysisHonorsRangeAndInactiveLines(t *testing.T) {
	w := planFixture()
	// Restrict to day 4: the only working day in range carries all demand.
	res := RunAnalysis(w, date(4), date(4))
	require.NotEmpty(t, res.Rows)
	for _, r := range res.Rows {
		assert.Equal(t, date(4), r.Date)
	}

	// An order pinned to the mothballed line drops out entirely.
	w = planFixture()
	w.Orders = []OrderRow{{OrderID: "ORD-X", ProductCode: "SHIRT", Qty: 100, DueDate: date(2), LineID: "L3"}}
	w.Standards = append(w.Standards, StandardRow{LineID: "L3", ProductCode: "SHIRT", CycleTimeMinutes: 1})
	res = RunAnalysis(w, time.Time{}, time.Time{})
	assert.Empty(t, res.Rows)
}

func scenarioFixture(rows ...ScenarioRow) *Workbook {
	w := planFixture()
	w.Scenarios = rows
	return w
}

func TestScenarioOvertimeRelievesBottlenecks(t *testing.T) {
	w := scenarioFixture(ScenarioRow{
		ID: "S1", Name: "Saturday overtime", Type: domain.ScenarioOvertime,
		Params: map[string]any{"extra_hours_per_day": 16.0},
	})
	res, err := RunScenario(w, "S1", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, domain.ScenarioOvertime, res.Type)
	assert.Equal(t, -2, res.Deltas.BottleneckChange)
	assert.Less(t, res.Deltas.UtilizationChange, 0.0)
	assert.Zero(t, res.Deltas.FeasibilityChange)

	// The base workbook keeps its calendar; only the result summary lands.
	assert.Equal(t, 8.0, w.Calendar[0].HoursAvailable)
	assert.Equal(t, res.Summary, w.Scenarios[0].ResultSummary)
}

func TestScenarioSubcontractRestoresFeasibility(t *testing.T) {
	w := scenarioFixture(ScenarioRow{
		ID: "S2", Type: domain.ScenarioSubcontract,
		Params: map[string]any{"order_ids": []any{"ORD-2"}},
	})
	res, err := RunScenario(w, "S2", time.Time{}, time.Time{})
	require.NoError(t, err)

	// Subcontracting the fabric-short order clears every shortfall.
	assert.Equal(t, 2, res.Check.FeasibleOrders)
	assert.Equal(t, 0, res.Check.InfeasibleOrders)
	assert.Len(t, w.Orders, 3)
}

func TestScenarioLeadTimeDelayMovesDemand(t *testing.T) {
	w := scenarioFixture(ScenarioRow{
		ID: "S3", Type: domain.ScenarioLeadTimeDelay,
		Params: map[string]any{"delay_days": 2.0},
	})
	res, err := RunScenario(w, "S3", time.Time{}, time.Time{})
	require.NoError(t, err)

	// Due dates shift to days 4 and 5; demand spreads onto day 4.
	for _, r := range res.Analysis.Rows {
		assert.Equal(t, date(4), r.Date)
	}
}

func TestScenarioMultiConstraintComposes(t *testing.T) {
	w := scenarioFixture(ScenarioRow{
		ID: "S4", Type: domain.ScenarioMultiConstraint,
		Params: map[string]any{
			"scenarios": []any{
				map[string]any{"type": "THREE_SHIFT"},
				map[string]any{"type": "SUBCONTRACT", "params": map[string]any{"order_ids": []any{"ORD-2"}}},
			},
		},
	})
	res, err := RunScenario(w, "S4", time.Time{}, time.Time{})
	require.NoError(t, err)

	// 24h days and one order subcontracted: no bottlenecks, all feasible.
	assert.Equal(t, 0, res.Analysis.Bottlenecks)
	assert.Equal(t, 0, res.Check.InfeasibleOrders)
	assert.Equal(t, -2, res.Deltas.BottleneckChange)
}

func TestScenarioUnknownID(t *testing.T) {
	w := scenarioFixture()
	_, err := RunScenario(w, "missing", time.Time{}, time.Time{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScenarioDeterministic(t *testing.T) {
	mk := func() *Workbook {
		return scenarioFixture(ScenarioRow{
			ID: "S1", Type: domain.ScenarioOvertime,
			Params: map[string]any{"extra_hours_per_day": 4.0},
		})
	}
	a, err := RunScenario(mk(), "S1", time.Time{}, time.Time{})
	require.NoError(t, err)
	b, err := RunScenario(mk(), "S1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
