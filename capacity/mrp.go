package capacity

import (
	"fmt"
	"sort"
)

// CheckResult is the outcome of one MRP component check run.
type CheckResult struct {
	Rows             []ComponentCheckRow `json:"rows"`
	FeasibleOrders   int                 `json:"feasible_orders"`
	InfeasibleOrders int                 `json:"infeasible_orders"`
}

// RunComponentCheck explodes every order through the BOM and allocates stock
// greedily in due-date order, ties broken by priority then order id. The
// derived rows replace the ComponentCheck worksheet on the workbook.
func RunComponentCheck(w *Workbook) CheckResult {
	pool := map[string]float64{}
	for _, s := range w.Stock {
		pool[s.ComponentCode] += s.OnHand
	}

	bom := map[string][]BOMRow{}
	for _, b := range w.BOM {
		bom[b.ProductCode] = append(bom[b.ProductCode], b)
	}
	for _, rows := range bom {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ComponentCode < rows[j].ComponentCode })
	}

	orders := append([]OrderRow(nil), w.Orders...)
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.OrderID < b.OrderID
	})

	res := CheckResult{}
	for _, o := range orders {
		feasible := true
		for _, b := range bom[o.ProductCode] {
			required := b.QtyPerUnit * float64(o.Qty)
			allocated := pool[b.ComponentCode]
			if allocated > required {
				allocated = required
			}
			pool[b.ComponentCode] -= allocated
			shortfall := required - allocated
			if shortfall > 0 {
				feasible = false
			}
			res.Rows = append(res.Rows, ComponentCheckRow{
				OrderID:       o.OrderID,
				ComponentCode: b.ComponentCode,
				Required:      required,
				Available:     allocated,
				Shortfall:     shortfall,
				Feasible:      shortfall == 0,
			})
		}
		if feasible {
			res.FeasibleOrders++
		} else {
			res.InfeasibleOrders++
		}
	}

	w.ComponentCheck = res.Rows
	return res
}

// Summary renders the result for the WhatIfScenarios result column.
func (r CheckResult) Summary() string {
	return fmt.Sprintf("%d feasible, %d short", r.FeasibleOrders, r.InfeasibleOrders)
}
