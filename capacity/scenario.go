package capacity

import (
	"fmt"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Deltas compares a scenario run against the baseline workbook.
type Deltas struct {
	// FeasibilityChange is the change in the number of feasible orders.
	FeasibilityChange int `json:"feasibility_change"`
	// UtilizationChange is the change in average utilization, in points.
	UtilizationChange float64 `json:"utilization_change"`
	// BottleneckChange is the change in the number of bottleneck cells.
	BottleneckChange int `json:"bottleneck_change"`
}

// ScenarioResult is one what-if evaluation: the shadow workbook's derived
// sheets plus deltas against the baseline.
type ScenarioResult struct {
	ScenarioID string              `json:"scenario_id"`
	Type       domain.ScenarioType `json:"type"`
	Check      CheckResult         `json:"check"`
	Analysis   AnalysisResult      `json:"analysis"`
	Deltas     Deltas              `json:"deltas"`
	Summary    string              `json:"summary"`
}

// RunScenario applies the scenario's transformation to a deep copy of the
// workbook, re-runs the component check and capacity analysis on the copy,
// and reports deltas against a baseline run of the untouched workbook. The
// base workbook only changes in the scenario row's result summary.
func RunScenario(w *Workbook, scenarioID string, from, to time.Time) (ScenarioResult, error) {
	idx := -1
	for i, s := range w.Scenarios {
		if s.ID == scenarioID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ScenarioResult{}, domain.NotFound("scenario", scenarioID)
	}
	sc := w.Scenarios[idx]

	base := w.Clone()
	baseCheck := RunComponentCheck(base)
	baseAnalysis := RunAnalysis(base, from, to)

	shadow := w.Clone()
	if err := applyScenario(shadow, sc.Type, sc.Params); err != nil {
		return ScenarioResult{}, err
	}
	check := RunComponentCheck(shadow)
	analysis := RunAnalysis(shadow, from, to)

	res := ScenarioResult{
		ScenarioID: sc.ID,
		Type:       sc.Type,
		Check:      check,
		Analysis:   analysis,
		Deltas: Deltas{
			FeasibilityChange: check.FeasibleOrders - baseCheck.FeasibleOrders,
			UtilizationChange: analysis.AvgUtilizationPct - baseAnalysis.AvgUtilizationPct,
			BottleneckChange:  analysis.Bottlenecks - baseAnalysis.Bottlenecks,
		},
	}
	res.Summary = fmt.Sprintf("%s: %s; %s (feasibility %+d, utilization %+.1f pts, bottlenecks %+d)",
		sc.Type, check.Summary(), analysis.Summary(),
		res.Deltas.FeasibilityChange, res.Deltas.UtilizationChange, res.Deltas.BottleneckChange)
	w.Scenarios[idx].ResultSummary = res.Summary
	return res, nil
}

// applyScenario mutates the shadow workbook per the scenario type. Unknown
// parameter keys are ignored; missing ones take the documented defaults.
func applyScenario(w *Workbook, t domain.ScenarioType, params map[string]any) error {
	switch t {
	case domain.ScenarioOvertime:
		extra := floatParam(params, "extra_hours_per_day", 2)
		for i := range w.Calendar {
			if w.Calendar[i].IsWorking {
				w.Calendar[i].HoursAvailable += extra
			}
		}
	case domain.ScenarioSetupReduction:
		pct := floatParam(params, "reduction_pct", 50)
		factor := 1 - pct/100
		if factor < 0 {
			factor = 0
		}
		for i := range w.Standards {
			w.Standards[i].SetupMinutes *= factor
		}
	case domain.ScenarioSubcontract:
		drop := map[string]bool{}
		for _, id := range stringsParam(params, "order_ids") {
			drop[id] = true
		}
		kept := w.Orders[:0]
		for _, o := range w.Orders {
			if !drop[o.OrderID] {
				kept = append(kept, o)
			}
		}
		w.Orders = kept
	case domain.ScenarioNewLine:
		lineID := stringParam(params, "line_id", "NEW")
		w.Lines = append(w.Lines, LineRow{
			LineID:               lineID,
			Name:                 stringParam(params, "name", lineID),
			CapacityUnitsPerHour: floatParam(params, "capacity_units_per_hour", 0),
			Active:               true,
		})
		if src := stringParam(params, "copy_standards_from", ""); src != "" {
			for _, s := range w.Standards {
				if s.LineID == src {
					s.LineID = lineID
					w.Standards = append(w.Standards, s)
				}
			}
		}
	case domain.ScenarioThreeShift:
		hours := floatParam(params, "hours_per_day", 24)
		for i := range w.Calendar {
			if w.Calendar[i].IsWorking {
				w.Calendar[i].HoursAvailable = hours
			}
		}
	case domain.ScenarioLeadTimeDelay:
		days := int(floatParam(params, "delay_days", 7))
		for i := range w.Orders {
			w.Orders[i].DueDate = w.Orders[i].DueDate.AddDate(0, 0, days)
		}
	case domain.ScenarioAbsenteeismSpike:
		pct := floatParam(params, "absence_pct", 10)
		factor := 1 - pct/100
		if factor < 0 {
			factor = 0
		}
		for i := range w.Calendar {
			if w.Calendar[i].IsWorking {
				w.Calendar[i].HoursAvailable *= factor
			}
		}
	case domain.ScenarioMultiConstraint:
		for _, step := range stepsParam(params) {
			if err := applyScenario(w, step.typ, step.params); err != nil {
				return err
			}
		}
	default:
		return domain.Validation("type", "unknown scenario type")
	}
	return nil
}

type scenarioStep struct {
	typ    domain.ScenarioType
	params map[string]any
}

// stepsParam decodes the MULTI_CONSTRAINT composition list from params:
// {"scenarios": [{"type": ..., "params": {...}}, ...]}.
func stepsParam(params map[string]any) []scenarioStep {
	raw, ok := params["scenarios"].([]any)
	if !ok {
		return nil
	}
	var out []scenarioStep
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := m["type"].(string)
		sub, _ := m["params"].(map[string]any)
		out = append(out, scenarioStep{typ: domain.ScenarioType(typ), params: sub})
	}
	return out
}

// Params come in from JSON, so numbers arrive as float64 and lists as []any.

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func stringsParam(params map[string]any, key string) []string {
	var out []string
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
