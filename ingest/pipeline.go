package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// errorCap bounds the errors carried in a summary; counting continues past it.
const errorCap = 100

// previewSize is the number of valid rows echoed back for confirmation.
const previewSize = 5

// RowError describes one rejected row.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
	Raw      string `json:"raw_row"`
}

// Summary is the dry-run read-back: what the batch would do if committed.
type Summary struct {
	Kind          Kind       `json:"kind"`
	Total         int        `json:"total"`
	Valid         int        `json:"valid"`
	Invalid       int        `json:"invalid"`
	SamplePreview []string   `json:"sample_preview,omitempty"`
	Errors        []RowError `json:"errors,omitempty"`
	Warnings      []string   `json:"warnings,omitempty"`
}

// Receipt confirms a committed batch.
type Receipt struct {
	BatchID  string `json:"batch_id"`
	Kind     Kind   `json:"kind"`
	Inserted int    `json:"inserted"`
	Events   int    `json:"events"`
}

// Pipeline validates and commits CSV uploads for one store.
type Pipeline struct {
	store repository.Store
	// crossTenant gates ADMIN/POWER_USER uploads into clients outside their
	// assignment. Off by default.
	crossTenant bool
	log         *logrus.Entry
}

// NewPipeline wires the ingestion pipeline. crossTenantAllowed mirrors the
// CROSS_TENANT_UPLOADS_ALLOWED deployment switch.
func NewPipeline(store repository.Store, crossTenantAllowed bool) *Pipeline {
	return &Pipeline{
		store:       store,
		crossTenant: crossTenantAllowed,
		log:         logrus.WithField("component", "ingest"),
	}
}

// staging is a fully validated batch ready for commit.
type staging struct {
	summary Summary
	rows    []stagedRow
	indexes []int // data row index per staged row, for commit errors
}

// DryRun parses and validates the upload and returns the read-back summary.
// Nothing is written.
func (p *Pipeline) DryRun(ctx context.Context, tc tenant.Context, kind Kind, r io.Reader) (*Summary, error) {
	st, err := p.stage(ctx, tc, kind, r)
	if err != nil {
		return nil, err
	}
	return &st.summary, nil
}

// Commit validates the upload and inserts every valid row in one unit of
// work, one created event per row. Any insert failure rolls the whole batch
// back and names the offending row.
func (p *Pipeline) Commit(ctx context.Context, tc tenant.Context, kind Kind, r io.Reader) (*Receipt, *Summary, error) {
	st, err := p.stage(ctx, tc, kind, r)
	if err != nil {
		return nil, nil, err
	}
	if len(st.rows) == 0 {
		return &Receipt{BatchID: uuid.NewString(), Kind: kind}, &st.summary, nil
	}

	uow, err := p.store.Begin(ctx, tc)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Rollback()

	events := 0
	for i, row := range st.rows {
		evs, err := row.insert(ctx, uow, tc.Actor.UserID)
		if err != nil {
			return nil, &st.summary, fmt.Errorf("row %d: %w", st.indexes[i], err)
		}
		for _, ev := range evs {
			uow.Collect(ev)
		}
		events += len(evs)
	}
	if _, err := uow.Commit(ctx); err != nil {
		return nil, &st.summary, err
	}

	receipt := &Receipt{
		BatchID:  uuid.NewString(),
		Kind:     kind,
		Inserted: len(st.rows),
		Events:   events,
	}
	p.log.WithFields(logrus.Fields{
		"batch_id": receipt.BatchID,
		"kind":     kind,
		"inserted": receipt.Inserted,
		"invalid":  st.summary.Invalid,
	}).Info("batch committed")
	return receipt, &st.summary, nil
}

// stage parses, binds and validates the whole upload against a read-only
// unit of work.
func (p *Pipeline) stage(ctx context.Context, tc tenant.Context, kind Kind, r io.Reader) (*staging, error) {
	if !kind.Valid() {
		return nil, domain.Validation("kind", fmt.Sprintf("unknown ingest kind %q", kind))
	}
	if tc.Bypass && !p.crossTenant {
		return nil, domain.Forbidden("cross-tenant uploads are disabled")
	}
	target, err := tc.WriteClient()
	if err != nil {
		return nil, err
	}

	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	required, known := columnSpecs(kind)
	if err := t.checkHeader(required, known); err != nil {
		return nil, err
	}

	uow, err := p.store.Begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	rf := newRefs(ctx, uow)

	st := &staging{summary: Summary{Kind: kind, Total: len(t.rows), Warnings: t.warnings}}
	seen := map[string]int{}
	for i := range t.rows {
		rec := t.record(i)
		row, err := parseRow(kind, rec, rf, target)
		if err != nil {
			// Infrastructure failures abort the batch; everything else is a
			// per-row rejection.
			var de *domain.Error
			if errors.As(err, &de) && (de.Kind == domain.KindInfra || de.Kind == domain.KindInternal) {
				return nil, err
			}
			st.reject(rec, err.Error())
			continue
		}
		if k := row.key(); k != "" {
			if prev, dup := seen[k]; dup {
				st.reject(rec, fmt.Sprintf("duplicate of row %d (natural key %s)", prev, k))
				continue
			}
			seen[k] = rec.index
		}
		st.accept(rec, row)
	}
	return st, nil
}

func (st *staging) accept(rec record, row stagedRow) {
	st.summary.Valid++
	st.rows = append(st.rows, row)
	st.indexes = append(st.indexes, rec.index)
	if len(st.summary.SamplePreview) < previewSize {
		st.summary.SamplePreview = append(st.summary.SamplePreview, rec.raw())
	}
}

func (st *staging) reject(rec record, reason string) {
	st.summary.Invalid++
	if len(st.summary.Errors) < errorCap {
		st.summary.Errors = append(st.summary.Errors, RowError{
			RowIndex: rec.index,
			Reason:   reason,
			Raw:      rec.raw(),
		})
	}
}

// Export writes the tenant's rows of one kind as canonical CSV. Ingesting an
// export reproduces the row set, audit stamps aside.
func (p *Pipeline) Export(ctx context.Context, tc tenant.Context, kind Kind) ([]byte, error) {
	if !kind.Valid() {
		return nil, domain.Validation("kind", fmt.Sprintf("unknown ingest kind %q", kind))
	}
	uow, err := p.store.Begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := exportKind(ctx, uow, kind, w); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, domain.Internal(err, "failed to render export")
	}
	return buf.Bytes(), nil
}

func exportKind(ctx context.Context, uow repository.UnitOfWork, kind Kind, w *csv.Writer) error {
	switch kind {
	case KindProduction:
		rows, err := uow.Production().List(ctx, repository.ProductionFilter{})
		if err != nil {
			return err
		}
		w.Write([]string{"product_id", "production_date", "units_produced", "run_time_hours",
			"work_order_id", "shift_id", "employees_assigned", "defect_count", "scrap_count"})
		for _, e := range rows {
			wo := ""
			if e.WorkOrderID != nil {
				wo = *e.WorkOrderID
			}
			w.Write([]string{
				e.ProductID, e.ProductionDate.Format("2006-01-02"),
				strconv.Itoa(e.UnitsProduced), formatFloat(e.RunTimeHours),
				wo, e.ShiftID, strconv.Itoa(e.EmployeesAssigned),
				strconv.Itoa(e.DefectCount), strconv.Itoa(e.ScrapCount),
			})
		}
	case KindDowntime:
		rows, err := uow.Downtime().List(ctx, repository.DowntimeFilter{})
		if err != nil {
			return err
		}
		w.Write([]string{"equipment_id", "category", "start_at", "end_at", "reason_code"})
		for _, e := range rows {
			end := ""
			if e.EndAt != nil {
				end = e.EndAt.Format(time.RFC3339)
			}
			w.Write([]string{
				e.EquipmentID, string(e.Category),
				e.StartAt.Format(time.RFC3339), end, e.ReasonCode,
			})
		}
	case KindAttendance:
		rows, err := uow.Attendance().List(ctx, repository.AttendanceFilter{})
		if err != nil {
			return err
		}
		w.Write([]string{"employee_id", "attendance_date", "shift_id", "status",
			"scheduled_hours", "actual_hours", "absence_reason", "is_excused"})
		for _, e := range rows {
			reason := ""
			if e.AbsenceReason != nil {
				reason = *e.AbsenceReason
			}
			w.Write([]string{
				e.EmployeeID, e.AttendanceDate.Format("2006-01-02"), e.ShiftID,
				string(e.Status), formatFloat(e.ScheduledHours),
				formatFloat(e.ActualHours), reason, strconv.FormatBool(e.IsExcused),
			})
		}
	case KindQuality:
		rows, err := uow.Quality().List(ctx, repository.QualityFilter{})
		if err != nil {
			return err
		}
		w.Write([]string{"product_id", "inspected_qty", "defect_qty", "rejected_qty",
			"inspection_stage", "inspected_at", "work_order_id", "severity", "disposition", "inspector_id"})
		for _, e := range rows {
			w.Write([]string{
				e.ProductID, strconv.Itoa(e.InspectedQty), strconv.Itoa(e.DefectQty),
				strconv.Itoa(e.RejectedQty), string(e.InspectionStage),
				e.InspectedAt.Format(time.RFC3339), e.WorkOrderID,
				e.Severity, e.Disposition, e.InspectorID,
			})
		}
	case KindWorkOrders:
		rows, err := uow.WorkOrders().List(ctx, repository.WorkOrderFilter{})
		if err != nil {
			return err
		}
		w.Write([]string{"work_order_id", "style_code", "planned_qty",
			"planned_ship_date", "required_date", "priority", "ideal_cycle_time_minutes"})
		for _, wo := range rows {
			w.Write([]string{
				wo.WorkOrderID, wo.StyleCode, strconv.Itoa(wo.PlannedQty),
				formatDatePtr(wo.PlannedShipDate), formatDatePtr(wo.RequiredDate),
				strconv.Itoa(wo.Priority), formatFloatPtr(wo.IdealCycleTimeMinutes),
			})
		}
	case KindPartOpportunities:
		// Opportunities have no list endpoint; exports go product by product
		// through the catalog.
		products, err := uow.Products().List(ctx)
		if err != nil {
			return err
		}
		w.Write([]string{"product_id", "opportunities_per_unit"})
		for _, prod := range products {
			po, err := uow.Opportunities().Get(ctx, prod.ProductID)
			if err != nil {
				if domain.IsKind(err, domain.KindNotFound) {
					continue
				}
				return err
			}
			w.Write([]string{po.ProductID, formatFloat(po.OpportunitiesPerUnit)})
		}
	}
	return nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func formatFloatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
