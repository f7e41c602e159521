package kpi

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

func TestCalcOTDFallbackChain(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	planned := now.AddDate(0, 0, -5)
	required := now.AddDate(0, 0, -3)
	delivered := now.AddDate(0, 0, -4)

	onTimeByPlanned := &domain.WorkOrder{PlannedShipDate: &required, ActualDeliveryDate: &delivered}
	lateByPlanned := &domain.WorkOrder{PlannedShipDate: &planned, ActualDeliveryDate: &delivered}
	onTimeByRequired := &domain.WorkOrder{RequiredDate: &required, ActualDeliveryDate: &delivered}
	// No dates at all: due = created + default lead time.
	onTimeByComputed := &domain.WorkOrder{CreatedAt: now.AddDate(0, 0, -20), ActualDeliveryDate: &delivered}

	o := calcOTD([]*domain.WorkOrder{onTimeByPlanned, lateByPlanned, onTimeByRequired, onTimeByComputed})
	require.NotNil(t, o.value)
	assert.InDelta(t, 75.0, *o.value, 1e-9)
	assert.Equal(t, 3, o.details["on_time"])
}

func TestCalcOTDNoDeliveries(t *testing.T) {
	o := calcOTD(nil)
	assert.Nil(t, o.value)
	assert.Equal(t, ReasonNoData, o.reason)
}

func TestCalcEfficiencyCap(t *testing.T) {
	inputs := []productionInput{{
		Entry:     &domain.ProductionEntry{UnitsProduced: 10000, RunTimeHours: 8},
		CycleTime: CycleTime{Minutes: 1.0, Source: domain.SourceMaster},
	}}
	o := calcEfficiency(inputs, 0)
	require.NotNil(t, o.value)
	assert.Equal(t, 150.0, *o.value)
	assert.Equal(t, true, o.details["capped"])
}

func TestCalcEfficiencyZeroDenominator(t *testing.T) {
	inputs := []productionInput{{
		Entry:     &domain.ProductionEntry{UnitsProduced: 100, RunTimeHours: 2},
		CycleTime: CycleTime{Minutes: 0.5, Source: domain.SourceMaster},
	}}
	// Downtime swallows all run time.
	o := calcEfficiency(inputs, 2)
	assert.Nil(t, o.value)
	assert.Equal(t, ReasonNoData, o.reason)
}

func TestCalcPerformanceCapRespectsTenantFlag(t *testing.T) {
	inputs := []productionInput{{
		Entry:     &domain.ProductionEntry{UnitsProduced: 600, RunTimeHours: 4},
		CycleTime: CycleTime{Minutes: 0.5, Source: domain.SourceMaster},
	}}
	// 300 ideal minutes over 240 run minutes: 125%.
	capped := calcPerformance(inputs, false)
	require.NotNil(t, capped.value)
	assert.Equal(t, 100.0, *capped.value)

	uncapped := calcPerformance(inputs, true)
	require.NotNil(t, uncapped.value)
	assert.InDelta(t, 125.0, *uncapped.value, 1e-9)
}

func TestCalcPPMAndDPMO(t *testing.T) {
	entries := []*domain.QualityEntry{
		{ProductID: "P1", InspectedQty: 500, DefectQty: 3},
		{ProductID: "P1", InspectedQty: 500, DefectQty: 2},
	}

	ppm := calcPPM(entries)
	require.NotNil(t, ppm.value)
	assert.InDelta(t, 5000.0, *ppm.value, 1e-9)

	dpmo := calcDPMO(entries, map[string]float64{"P1": 4})
	require.NotNil(t, dpmo.value)
	assert.InDelta(t, 1250.0, *dpmo.value, 1e-9)
	sigma, ok := dpmo.details["sigma_level"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 3.0233, sigma, 1e-3)
}

func TestCalcDPMOMissingOpportunitiesDefaultsToOne(t *testing.T) {
	entries := []*domain.QualityEntry{{ProductID: "P1", InspectedQty: 1000, DefectQty: 1}}
	o := calcDPMO(entries, nil)
	require.NotNil(t, o.value)
	assert.InDelta(t, 1000.0, *o.value, 1e-9)
}

func TestCalcFPYAndRTY(t *testing.T) {
	entries := []*domain.QualityEntry{
		{InspectionStage: domain.StageIncoming, InspectedQty: 100, DefectQty: 2},
		{InspectionStage: domain.StageInProcess, InspectedQty: 100, DefectQty: 5},
		{InspectionStage: domain.StageFinal, InspectedQty: 100, DefectQty: 1},
	}

	fpy := calcFPY(entries, domain.StageFinal)
	require.NotNil(t, fpy.value)
	assert.InDelta(t, 99.0, *fpy.value, 1e-9)

	rty := calcRTY(entries)
	require.NotNil(t, rty.value)
	assert.InDelta(t, 0.98*0.95*0.99*100, *rty.value, 1e-9)
}

func TestCalcRTYSkipsEmptyStages(t *testing.T) {
	entries := []*domain.QualityEntry{
		{InspectionStage: domain.StageFinal, InspectedQty: 200, DefectQty: 4},
	}
	o := calcRTY(entries)
	require.NotNil(t, o.value)
	assert.InDelta(t, 98.0, *o.value, 1e-9)
}

func TestCalcAvailability(t *testing.T) {
	entries := []*domain.ProductionEntry{{RunTimeHours: 18}}
	o := calcAvailability(entries, 2)
	require.NotNil(t, o.value)
	assert.InDelta(t, 90.0, *o.value, 1e-9)

	empty := calcAvailability(nil, 0)
	assert.Nil(t, empty.value)
	assert.Equal(t, ReasonNoData, empty.reason)
}

func TestCalcAbsenteeismAndBradford(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC) }
	excuse := "medical"
	entries := []*domain.AttendanceEntry{
		{EmployeeID: "E1", AttendanceDate: day(4), Status: domain.AttendanceAbsent, ScheduledHours: 8},
		{EmployeeID: "E1", AttendanceDate: day(5), Status: domain.AttendanceAbsent, ScheduledHours: 8},
		{EmployeeID: "E1", AttendanceDate: day(11), Status: domain.AttendanceAbsent, ScheduledHours: 8},
		{EmployeeID: "E1", AttendanceDate: day(12), Status: domain.AttendancePresent, ScheduledHours: 8, ActualHours: 8},
		{EmployeeID: "E2", AttendanceDate: day(4), Status: domain.AttendanceAbsent, IsExcused: true, AbsenceReason: &excuse, ScheduledHours: 8},
		{EmployeeID: "E2", AttendanceDate: day(5), Status: domain.AttendancePresent, ScheduledHours: 8, ActualHours: 8},
	}

	o := calcAbsenteeism(entries)
	require.NotNil(t, o.value)
	// 24 unscheduled absence hours over 48 scheduled.
	assert.InDelta(t, 50.0, *o.value, 1e-9)

	factors, ok := o.details["bradford_factor"].(map[string]int)
	require.True(t, ok)
	// E1: two spells (4-5, 11), three days: 2²×3 = 12. E2's excused absence
	// contributes nothing.
	assert.Equal(t, 12, factors["E1"])
	_, hasE2 := factors["E2"]
	assert.False(t, hasE2)
}

func TestCalcOEEIdentity(t *testing.T) {
	o := calcOEE(value(90), value(95), value(98))
	require.NotNil(t, o.value)
	assert.InDelta(t, 0.90*0.95*0.98*100, *o.value, 1e-6)
	assert.InDelta(t, 83.79, *o.value, 1e-6)
}

func TestCalcOEEMissingComponent(t *testing.T) {
	o := calcOEE(value(90), noData(), value(98))
	assert.Nil(t, o.value)
	assert.Equal(t, ReasonNoData, o.reason)
}

func TestCalcWIPAgingBuckets(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	at := func(daysAgo int) *time.Time {
		ts := now.AddDate(0, 0, -daysAgo)
		return &ts
	}
	orders := []*domain.WorkOrder{
		{WorkOrderID: "WO-1", Status: domain.StatusInWIP, EnteredWIPAt: at(2)},
		{WorkOrderID: "WO-2", Status: domain.StatusInWIP, EnteredWIPAt: at(10)},
		{WorkOrderID: "WO-3", Status: domain.StatusOnHold, EnteredWIPAt: at(40)},
		{WorkOrderID: "WO-4", Status: domain.StatusReceived}, // never entered WIP
	}

	o := calcWIPAging(orders, now)
	require.NotNil(t, o.value)
	buckets, ok := o.details["buckets"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 1, buckets["0-7"])
	assert.Equal(t, 1, buckets["8-14"])
	assert.Equal(t, 0, buckets["15-30"])
	assert.Equal(t, 1, buckets[">30"])
	assert.Equal(t, 3, o.details["count"])
	assert.InDelta(t, (2.0+10+40)/3, *o.value, 1e-9)
}

func TestSigmaLevelDegenerate(t *testing.T) {
	_, ok := sigmaLevel(0)
	assert.False(t, ok)
	_, ok = sigmaLevel(1e6)
	assert.False(t, ok)

	sigma, ok := sigmaLevel(500000)
	require.True(t, ok)
	assert.InDelta(t, 0.0, sigma, 1e-9)
	assert.False(t, math.IsNaN(sigma))
}
