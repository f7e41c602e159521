package kpi

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// ReasonNoData marks a result whose denominator was empty. Value is nil and
// never NaN or Inf.
const ReasonNoData = "NO_DATA"

const (
	efficiencyCap  = 150.0
	performanceCap = 100.0
)

// computedLeadTimeDays backs the last link of the TRUE-OTD due-date fallback
// chain when an order carries neither a planned ship nor a required date.
const computedLeadTimeDays = 30

func value(v float64) outcome {
	return outcome{value: &v, details: map[string]any{}}
}

func noData() outcome {
	return outcome{reason: ReasonNoData, details: map[string]any{}}
}

// outcome is a calculator's raw product before the engine wraps it with the
// query, window and cache metadata.
type outcome struct {
	value   *float64
	reason  string
	details map[string]any
}

func (o outcome) with(key string, v any) outcome {
	o.details[key] = v
	return o
}

// calcWIPAging buckets open work orders by days since they entered WIP.
func calcWIPAging(orders []*domain.WorkOrder, now time.Time) outcome {
	type band struct {
		label string
		max   int
	}
	bands := []band{{"0-7", 7}, {"8-14", 14}, {"15-30", 30}, {">30", math.MaxInt}}

	counts := map[string]int{}
	for _, b := range bands {
		counts[b.label] = 0
	}
	var ages []float64
	for _, wo := range orders {
		if wo.EnteredWIPAt == nil {
			continue
		}
		age := now.Sub(*wo.EnteredWIPAt).Hours() / 24
		if age < 0 {
			continue
		}
		ages = append(ages, age)
		for _, b := range bands {
			if int(age) <= b.max {
				counts[b.label]++
				break
			}
		}
	}
	if len(ages) == 0 {
		return noData()
	}

	var sum, max float64
	for _, a := range ages {
		sum += a
		if a > max {
			max = a
		}
	}
	avg := sum / float64(len(ages))
	return value(avg).
		with("buckets", counts).
		with("count", len(ages)).
		with("max_age_days", max)
}

// dueDate resolves the TRUE-OTD fallback chain: planned ship date, required
// date, then created_at plus the default lead time.
func dueDate(wo *domain.WorkOrder) time.Time {
	if wo.PlannedShipDate != nil {
		return *wo.PlannedShipDate
	}
	if wo.RequiredDate != nil {
		return *wo.RequiredDate
	}
	return wo.CreatedAt.AddDate(0, 0, computedLeadTimeDays)
}

// calcOTD is on-time delivery over orders delivered in the window.
func calcOTD(delivered []*domain.WorkOrder) outcome {
	if len(delivered) == 0 {
		return noData()
	}
	onTime := 0
	for _, wo := range delivered {
		if !wo.ActualDeliveryDate.After(dueDate(wo)) {
			onTime++
		}
	}
	pct := float64(onTime) / float64(len(delivered)) * 100
	return value(pct).
		with("delivered", len(delivered)).
		with("on_time", onTime)
}

// productionInput is one production entry with its resolved cycle time.
type productionInput struct {
	Entry     *domain.ProductionEntry
	CycleTime CycleTime
}

// cycleTimeSources is the sorted distinct provenance set of the window's
// resolved cycle times; deterministic so equal states give equal results.
func cycleTimeSources(inputs []productionInput) []string {
	seen := map[string]bool{}
	var out []string
	for _, in := range inputs {
		s := string(in.CycleTime.Source)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// calcEfficiency is standard hours produced over hours available.
func calcEfficiency(inputs []productionInput, downtimeHours float64) outcome {
	var standardHours, runHours float64
	inferred := false
	for _, in := range inputs {
		standardHours += float64(in.Entry.UnitsProduced) * in.CycleTime.Minutes / 60
		runHours += in.Entry.RunTimeHours
		if in.CycleTime.Source == domain.SourceDefault {
			inferred = true
		}
	}
	available := runHours - downtimeHours
	if available <= 0 {
		return noData()
	}
	pct := standardHours / available * 100
	capped := false
	if pct > efficiencyCap {
		pct = efficiencyCap
		capped = true
	}
	return value(pct).
		with("standard_hours", standardHours).
		with("hours_available", available).
		with("capped", capped).
		with("inferred_cycle_time", inferred).
		with("cycle_time_sources", cycleTimeSources(inputs))
}

// calcPerformance is ideal production time over actual run time. Capped at
// 100 unless the tenant allows over-performance reporting.
func calcPerformance(inputs []productionInput, allowOver bool) outcome {
	var idealMinutes, runMinutes float64
	for _, in := range inputs {
		idealMinutes += in.CycleTime.Minutes * float64(in.Entry.UnitsProduced)
		runMinutes += in.Entry.RunTimeHours * 60
	}
	if runMinutes <= 0 {
		return noData()
	}
	pct := idealMinutes / runMinutes * 100
	capped := false
	if !allowOver && pct > performanceCap {
		pct = performanceCap
		capped = true
	}
	return value(pct).
		with("ideal_minutes", idealMinutes).
		with("run_minutes", runMinutes).
		with("capped", capped).
		with("cycle_time_sources", cycleTimeSources(inputs))
}

// calcPPM is defects per million units inspected.
func calcPPM(entries []*domain.QualityEntry) outcome {
	var defects, inspected int
	for _, e := range entries {
		defects += e.DefectQty
		inspected += e.InspectedQty
	}
	if inspected == 0 {
		return noData()
	}
	ppm := float64(defects) / float64(inspected) * 1e6
	return value(ppm).
		with("defects", defects).
		with("inspected", inspected)
}

// calcDPMO is defects per million opportunities; opportunities per unit come
// from the part-opportunities table, defaulting to one. Sigma level is the
// inverse normal of the yield.
func calcDPMO(entries []*domain.QualityEntry, opportunities map[string]float64) outcome {
	var defects float64
	var totalOpportunities float64
	for _, e := range entries {
		perUnit, ok := opportunities[e.ProductID]
		if !ok || perUnit <= 0 {
			perUnit = 1
		}
		defects += float64(e.DefectQty)
		totalOpportunities += float64(e.InspectedQty) * perUnit
	}
	if totalOpportunities == 0 {
		return noData()
	}
	dpmo := defects / totalOpportunities * 1e6
	out := value(dpmo).
		with("defects", defects).
		with("opportunities", totalOpportunities)
	if sigma, ok := sigmaLevel(dpmo); ok {
		out = out.with("sigma_level", sigma)
	}
	return out
}

// sigmaLevel converts DPMO to a sigma level through the inverse normal CDF.
// Degenerate yields (0 or 1) have no finite sigma.
func sigmaLevel(dpmo float64) (float64, bool) {
	p := 1 - dpmo/1e6
	if p <= 0 || p >= 1 {
		return 0, false
	}
	return math.Sqrt2 * math.Erfinv(2*p-1), true
}

// calcFPY is first-pass yield for one stage, or across all stages when none
// is given.
func calcFPY(entries []*domain.QualityEntry, stage domain.InspectionStage) outcome {
	var passed, total int
	for _, e := range entries {
		if stage != "" && e.InspectionStage != stage {
			continue
		}
		total += e.InspectedQty
		passed += e.InspectedQty - e.DefectQty
	}
	if total == 0 {
		return noData()
	}
	pct := float64(passed) / float64(total) * 100
	out := value(pct).
		with("passed_first_time", passed).
		with("inspected", total)
	if stage != "" {
		out = out.with("stage", string(stage))
	}
	return out
}

// calcRTY multiplies the per-stage first-pass yields. Stages without data do
// not contribute; all stages empty means no data.
func calcRTY(entries []*domain.QualityEntry) outcome {
	rty := 1.0
	perStage := map[string]float64{}
	observed := false
	for _, stage := range domain.Stages() {
		o := calcFPY(entries, stage)
		if o.value == nil {
			continue
		}
		observed = true
		perStage[string(stage)] = *o.value
		rty *= *o.value / 100
	}
	if !observed {
		return noData()
	}
	return value(rty * 100).with("stage_fpy", perStage)
}

// calcAvailability is uptime over uptime plus downtime.
func calcAvailability(entries []*domain.ProductionEntry, downtimeHours float64) outcome {
	var uptime float64
	for _, e := range entries {
		uptime += e.RunTimeHours
	}
	total := uptime + downtimeHours
	if total <= 0 {
		return noData()
	}
	pct := uptime / total * 100
	return value(pct).
		with("uptime_hours", uptime).
		with("downtime_hours", downtimeHours)
}

// calcAbsenteeism is unscheduled absence hours over scheduled hours, with
// the per-employee Bradford Factor in the details.
func calcAbsenteeism(entries []*domain.AttendanceEntry) outcome {
	var scheduled, absent float64
	for _, e := range entries {
		scheduled += e.ScheduledHours
		if unscheduledAbsence(e) {
			absent += e.ScheduledHours
		}
	}
	if scheduled == 0 {
		return noData()
	}
	pct := absent / scheduled * 100
	return value(pct).
		with("scheduled_hours", scheduled).
		with("absence_hours", absent).
		with("bradford_factor", bradfordFactors(entries))
}

// unscheduledAbsence reports whether the entry counts against absenteeism:
// an unexcused absence. Approved leave is scheduled, not unscheduled.
func unscheduledAbsence(e *domain.AttendanceEntry) bool {
	return e.Status == domain.AttendanceAbsent && !e.IsExcused
}

// bradfordFactors computes S²×D per employee, where S is the number of
// unscheduled absence spells (consecutive-day runs) and D the total absent
// days in the window.
func bradfordFactors(entries []*domain.AttendanceEntry) map[string]int {
	days := map[string][]time.Time{}
	for _, e := range entries {
		if !unscheduledAbsence(e) {
			continue
		}
		day := e.AttendanceDate.Truncate(24 * time.Hour)
		days[e.EmployeeID] = append(days[e.EmployeeID], day)
	}

	factors := map[string]int{}
	for emp, list := range days {
		sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
		// Dedup shifts on the same day; one absent day is one D.
		uniq := list[:0]
		for i, d := range list {
			if i == 0 || !d.Equal(uniq[len(uniq)-1]) {
				uniq = append(uniq, d)
			}
		}
		spells := 0
		for i, d := range uniq {
			if i == 0 || d.Sub(uniq[i-1]) > 24*time.Hour {
				spells++
			}
		}
		factors[emp] = spells * spells * len(uniq)
	}
	return factors
}

// calcOEE composes availability, performance and quality (final-stage FPY).
// Any missing component makes the composite NO_DATA.
func calcOEE(availability, performance, quality outcome) outcome {
	if availability.value == nil || performance.value == nil || quality.value == nil {
		return noData()
	}
	oee := (*availability.value / 100) * (*performance.value / 100) * (*quality.value / 100) * 100
	return value(oee).
		with("availability", *availability.value).
		with("performance", *performance.value).
		with("quality", *quality.value)
}

func windowTag(from, to time.Time) string {
	layout := "20060102"
	f, t := "open", "open"
	if !from.IsZero() {
		f = from.Format(layout)
	}
	if !to.IsZero() {
		t = to.Format(layout)
	}
	return fmt.Sprintf("%s-%s", f, t)
}
