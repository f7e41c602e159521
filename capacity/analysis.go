package capacity

import (
	"fmt"
	"sort"
	"time"
)

// AnalysisResult is the outcome of one capacity analysis run.
type AnalysisResult struct {
	Rows        []CapacityRow `json:"rows"`
	Bottlenecks int           `json:"bottlenecks"`
	// AvgUtilizationPct averages utilization over the emitted rows.
	AvgUtilizationPct float64 `json:"avg_utilization_pct"`
}

type standardKey struct {
	lineID  string
	product string
}

// RunAnalysis derives per line and working day demand against available
// hours. An order's demand lands on its due date, pulled back to the nearest
// earlier working day when the due date itself is non-working. Orders without
// an assigned line run on the line whose standard gives the lowest cycle
// time. from/to bound the calendar when nonzero. The derived rows replace
// the CapacityAnalysis worksheet on the workbook.
func RunAnalysis(w *Workbook, from, to time.Time) AnalysisResult {
	standards := map[standardKey]StandardRow{}
	for _, s := range w.Standards {
		standards[standardKey{s.LineID, s.ProductCode}] = s
	}
	active := map[string]bool{}
	for _, l := range w.Lines {
		if l.Active {
			active[l.LineID] = true
		}
	}

	var days []CalendarRow
	for _, c := range w.Calendar {
		if !c.IsWorking || c.HoursAvailable <= 0 {
			continue
		}
		d := day(c.Date)
		if !from.IsZero() && d.Before(day(from)) {
			continue
		}
		if !to.IsZero() && d.After(day(to)) {
			continue
		}
		c.Date = d
		days = append(days, c)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	if len(days) == 0 {
		w.Analysis = nil
		return AnalysisResult{}
	}

	type cell struct {
		lineID string
		date   time.Time
	}
	demand := map[cell]float64{}
	for _, o := range w.Orders {
		lineID, std, ok := assignLine(o, standards, active)
		if !ok {
			continue
		}
		d := demandDay(day(o.DueDate), days)
		demand[cell{lineID, d}] += float64(o.Qty)*std.CycleTimeMinutes/60 + std.SetupMinutes/60
	}

	res := AnalysisResult{}
	var utilSum float64
	for _, c := range days {
		lines := make([]string, 0, len(active))
		for id := range active {
			lines = append(lines, id)
		}
		sort.Strings(lines)
		for _, lineID := range lines {
			dh := demand[cell{lineID, c.Date}]
			if dh == 0 {
				continue
			}
			util := dh / c.HoursAvailable * 100
			row := CapacityRow{
				LineID:         lineID,
				Date:           c.Date,
				DemandHours:    dh,
				AvailableHours: c.HoursAvailable,
				UtilizationPct: util,
				Bottleneck:     util > 100,
			}
			if row.Bottleneck {
				res.Bottlenecks++
			}
			utilSum += util
			res.Rows = append(res.Rows, row)
		}
	}
	if len(res.Rows) > 0 {
		res.AvgUtilizationPct = utilSum / float64(len(res.Rows))
	}

	w.Analysis = res.Rows
	return res
}

// assignLine resolves the line an order runs on: its assigned line when a
// standard exists there, else the active line with the lowest cycle time.
func assignLine(o OrderRow, standards map[standardKey]StandardRow, active map[string]bool) (string, StandardRow, bool) {
	if o.LineID != "" {
		std, ok := standards[standardKey{o.LineID, o.ProductCode}]
		return o.LineID, std, ok && active[o.LineID]
	}
	var bestID string
	var best StandardRow
	found := false
	for k, std := range standards {
		if k.product != o.ProductCode || !active[k.lineID] {
			continue
		}
		if !found || std.CycleTimeMinutes < best.CycleTimeMinutes ||
			(std.CycleTimeMinutes == best.CycleTimeMinutes && k.lineID < bestID) {
			bestID, best, found = k.lineID, std, true
		}
	}
	return bestID, best, found
}

// demandDay picks the working day an order's demand lands on.
func demandDay(due time.Time, days []CalendarRow) time.Time {
	chosen := days[0].Date
	for _, c := range days {
		if c.Date.After(due) {
			break
		}
		chosen = c.Date
	}
	return chosen
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Summary renders the result for the WhatIfScenarios result column.
func (r AnalysisResult) Summary() string {
	return fmt.Sprintf("%.1f%% avg utilization, %d bottleneck days", r.AvgUtilizationPct, r.Bottlenecks)
}
