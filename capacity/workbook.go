// Package capacity implements the per-tenant planning workbook: thirteen
// typed worksheets, the MRP component check, capacity analysis, the what-if
// scenario engine and draft sessions with undo/redo.
package capacity

import (
	"encoding/json"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Worksheet names are contractual; the persistence layer keys rows by them.
const (
	SheetOrders              = "Orders"
	SheetMasterCalendar      = "MasterCalendar"
	SheetProductionLines     = "ProductionLines"
	SheetProductionStandards = "ProductionStandards"
	SheetBOM                 = "BOM"
	SheetStockSnapshot       = "StockSnapshot"
	SheetComponentCheck      = "ComponentCheck"
	SheetCapacityAnalysis    = "CapacityAnalysis"
	SheetProductionSchedule  = "ProductionSchedule"
	SheetWhatIfScenarios     = "WhatIfScenarios"
	SheetKPITracking         = "KPITracking"
	SheetDashboardInputs     = "DashboardInputs"
	SheetInstructions        = "Instructions"
)

// SheetNames lists the worksheets in workbook order.
func SheetNames() []string {
	return []string{
		SheetOrders, SheetMasterCalendar, SheetProductionLines,
		SheetProductionStandards, SheetBOM, SheetStockSnapshot,
		SheetComponentCheck, SheetCapacityAnalysis, SheetProductionSchedule,
		SheetWhatIfScenarios, SheetKPITracking, SheetDashboardInputs,
		SheetInstructions,
	}
}

// OrderRow is one demand line.
type OrderRow struct {
	OrderID     string    `json:"order_id"`
	ProductCode string    `json:"product_code"`
	Qty         int       `json:"qty"`
	DueDate     time.Time `json:"due_date"`
	Priority    int       `json:"priority"`
	LineID      string    `json:"line_id,omitempty"`
}

// CalendarRow declares one date's working capacity.
type CalendarRow struct {
	Date           time.Time `json:"date"`
	IsWorking      bool      `json:"is_working"`
	HoursAvailable float64   `json:"hours_available"`
	Notes          string    `json:"notes,omitempty"`
}

// LineRow is one production line.
type LineRow struct {
	LineID               string  `json:"line_id"`
	Name                 string  `json:"name"`
	CapacityUnitsPerHour float64 `json:"capacity_units_per_hour"`
	Active               bool    `json:"active"`
}

// StandardRow is the cycle and setup time of a product on a line.
type StandardRow struct {
	LineID           string  `json:"line_id"`
	ProductCode      string  `json:"product_code"`
	CycleTimeMinutes float64 `json:"cycle_time_minutes"`
	SetupMinutes     float64 `json:"setup_minutes"`
}

// BOMRow is one component requirement of a product.
type BOMRow struct {
	ProductCode   string  `json:"product_code"`
	ComponentCode string  `json:"component_code"`
	QtyPerUnit    float64 `json:"qty_per_unit"`
}

// StockRow is the on-hand quantity of one component.
type StockRow struct {
	ComponentCode string    `json:"component_code"`
	OnHand        float64   `json:"on_hand"`
	AsOfDate      time.Time `json:"as_of_date"`
}

// ComponentCheckRow is one derived order/component availability line.
type ComponentCheckRow struct {
	OrderID       string  `json:"order_id"`
	ComponentCode string  `json:"component_code"`
	Required      float64 `json:"required"`
	Available     float64 `json:"available"`
	Shortfall     float64 `json:"shortfall"`
	Feasible      bool    `json:"feasible"`
}

// CapacityRow is one derived line/date utilization line.
type CapacityRow struct {
	LineID         string    `json:"line_id"`
	Date           time.Time `json:"date"`
	DemandHours    float64   `json:"demand_hours"`
	AvailableHours float64   `json:"available_hours"`
	UtilizationPct float64   `json:"utilization_pct"`
	Bottleneck     bool      `json:"bottleneck_flag"`
}

// ScheduleRow commits an order to a line and date range.
type ScheduleRow struct {
	OrderID      string    `json:"order_id"`
	LineID       string    `json:"line_id"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	CommittedQty int       `json:"committed_qty"`
}

// ScenarioRow is one stored what-if definition with its last result.
type ScenarioRow struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Type          domain.ScenarioType `json:"type"`
	Params        map[string]any      `json:"params,omitempty"`
	ResultSummary string              `json:"result_summary,omitempty"`
}

// KPITrackingRow compares scheduled against achieved output.
type KPITrackingRow struct {
	Date         time.Time `json:"date"`
	Metric       string    `json:"metric"`
	ScheduledQty float64   `json:"scheduled_qty"`
	AchievedQty  float64   `json:"achieved_qty"`
}

// DashboardRow is one analysis parameter.
type DashboardRow struct {
	PlanningHorizonDays  int     `json:"planning_horizon_days"`
	BufferPct            float64 `json:"buffer_pct"`
	TargetUtilizationPct float64 `json:"target_utilization_pct"`
}

// InstructionRow is free-form text; no invariants apply.
type InstructionRow struct {
	Text string `json:"text"`
}

// Workbook is the full planning state of one tenant: thirteen ordered
// worksheets. Versions mirror the persisted per-sheet versions at load time
// and drive the optimistic save.
type Workbook struct {
	Orders          []OrderRow          `json:"orders"`
	Calendar        []CalendarRow       `json:"master_calendar"`
	Lines           []LineRow           `json:"production_lines"`
	Standards       []StandardRow       `json:"production_standards"`
	BOM             []BOMRow            `json:"bom"`
	Stock           []StockRow          `json:"stock_snapshot"`
	ComponentCheck  []ComponentCheckRow `json:"component_check"`
	Analysis        []CapacityRow       `json:"capacity_analysis"`
	Schedule        []ScheduleRow       `json:"production_schedule"`
	Scenarios       []ScenarioRow       `json:"what_if_scenarios"`
	KPITracking     []KPITrackingRow    `json:"kpi_tracking"`
	DashboardInputs []DashboardRow      `json:"dashboard_inputs"`
	Instructions    []InstructionRow    `json:"instructions"`

	// Versions holds the persisted version per sheet name at load time.
	Versions map[string]int `json:"versions,omitempty"`
}

// Clone deep-copies the workbook; the scenario engine runs on the copy.
func (w *Workbook) Clone() *Workbook {
	out := &Workbook{
		Orders:          append([]OrderRow(nil), w.Orders...),
		Calendar:        append([]CalendarRow(nil), w.Calendar...),
		Lines:           append([]LineRow(nil), w.Lines...),
		Standards:       append([]StandardRow(nil), w.Standards...),
		BOM:             append([]BOMRow(nil), w.BOM...),
		Stock:           append([]StockRow(nil), w.Stock...),
		ComponentCheck:  append([]ComponentCheckRow(nil), w.ComponentCheck...),
		Analysis:        append([]CapacityRow(nil), w.Analysis...),
		Schedule:        append([]ScheduleRow(nil), w.Schedule...),
		KPITracking:     append([]KPITrackingRow(nil), w.KPITracking...),
		DashboardInputs: append([]DashboardRow(nil), w.DashboardInputs...),
		Instructions:    append([]InstructionRow(nil), w.Instructions...),
		Versions:        map[string]int{},
	}
	for _, s := range w.Scenarios {
		c := s
		if s.Params != nil {
			c.Params = map[string]any{}
			for k, v := range s.Params {
				c.Params[k] = v
			}
		}
		out.Scenarios = append(out.Scenarios, c)
	}
	for k, v := range w.Versions {
		out.Versions[k] = v
	}
	return out
}

// marshalSheet renders one worksheet's rows for persistence.
func (w *Workbook) marshalSheet(name string) ([]byte, error) {
	var rows any
	switch name {
	case SheetOrders:
		rows = w.Orders
	case SheetMasterCalendar:
		rows = w.Calendar
	case SheetProductionLines:
		rows = w.Lines
	case SheetProductionStandards:
		rows = w.Standards
	case SheetBOM:
		rows = w.BOM
	case SheetStockSnapshot:
		rows = w.Stock
	case SheetComponentCheck:
		rows = w.ComponentCheck
	case SheetCapacityAnalysis:
		rows = w.Analysis
	case SheetProductionSchedule:
		rows = w.Schedule
	case SheetWhatIfScenarios:
		rows = w.Scenarios
	case SheetKPITracking:
		rows = w.KPITracking
	case SheetDashboardInputs:
		rows = w.DashboardInputs
	case SheetInstructions:
		rows = w.Instructions
	default:
		return nil, domain.Validation("sheet", "unknown worksheet")
	}
	return json.Marshal(rows)
}

// unmarshalSheet loads one worksheet's persisted rows.
func (w *Workbook) unmarshalSheet(name string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var err error
	switch name {
	case SheetOrders:
		err = json.Unmarshal(data, &w.Orders)
	case SheetMasterCalendar:
		err = json.Unmarshal(data, &w.Calendar)
	case SheetProductionLines:
		err = json.Unmarshal(data, &w.Lines)
	case SheetProductionStandards:
		err = json.Unmarshal(data, &w.Standards)
	case SheetBOM:
		err = json.Unmarshal(data, &w.BOM)
	case SheetStockSnapshot:
		err = json.Unmarshal(data, &w.Stock)
	case SheetComponentCheck:
		err = json.Unmarshal(data, &w.ComponentCheck)
	case SheetCapacityAnalysis:
		err = json.Unmarshal(data, &w.Analysis)
	case SheetProductionSchedule:
		err = json.Unmarshal(data, &w.Schedule)
	case SheetWhatIfScenarios:
		err = json.Unmarshal(data, &w.Scenarios)
	case SheetKPITracking:
		err = json.Unmarshal(data, &w.KPITracking)
	case SheetDashboardInputs:
		err = json.Unmarshal(data, &w.DashboardInputs)
	case SheetInstructions:
		err = json.Unmarshal(data, &w.Instructions)
	default:
		return domain.Validation("sheet", "unknown worksheet")
	}
	if err != nil {
		return domain.Internal(err, "worksheet rows not deserializable")
	}
	return nil
}
