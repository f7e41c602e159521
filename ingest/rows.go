package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Kind selects the target entity of an upload.
type Kind string

const (
	KindProduction        Kind = "production"
	KindDowntime          Kind = "downtime"
	KindAttendance        Kind = "attendance"
	KindQuality           Kind = "quality"
	KindWorkOrders        Kind = "work_orders"
	KindPartOpportunities Kind = "part_opportunities"
)

// Kinds lists the ingestable kinds.
func Kinds() []Kind {
	return []Kind{
		KindProduction, KindDowntime, KindAttendance,
		KindQuality, KindWorkOrders, KindPartOpportunities,
	}
}

func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// stagedRow is one validated row awaiting commit. key is the natural key
// for in-batch duplicate rejection, empty when the kind has none.
type stagedRow interface {
	key() string
	insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error)
}

// refs memoizes foreign-key existence checks against the batch's tenant.
type refs struct {
	ctx       context.Context
	uow       repository.UnitOfWork
	products  map[string]bool
	employees map[string]bool
}

func newRefs(ctx context.Context, uow repository.UnitOfWork) *refs {
	return &refs{
		ctx:       ctx,
		uow:       uow,
		products:  map[string]bool{},
		employees: map[string]bool{},
	}
}

func (rf *refs) exists(cache map[string]bool, id string, get func() error) (bool, error) {
	if ok, seen := cache[id]; seen {
		return ok, nil
	}
	err := get()
	switch {
	case err == nil:
		cache[id] = true
		return true, nil
	case domain.IsKind(err, domain.KindNotFound):
		cache[id] = false
		return false, nil
	default:
		return false, err
	}
}

func (rf *refs) product(id string) (bool, error) {
	return rf.exists(rf.products, id, func() error {
		_, err := rf.uow.Products().Get(rf.ctx, id)
		return err
	})
}

func (rf *refs) employee(id string) (bool, error) {
	return rf.exists(rf.employees, id, func() error {
		_, err := rf.uow.Employees().Get(rf.ctx, id)
		return err
	})
}

// columnSpecs names the required and known columns per kind. Known columns
// include the optional ones; anything else warns.
func columnSpecs(kind Kind) (required, known []string) {
	switch kind {
	case KindProduction:
		required = []string{"product_id", "production_date", "units_produced", "run_time_hours"}
		known = append(required, "client_id", "work_order_id", "shift_id",
			"employees_assigned", "defect_count", "scrap_count")
	case KindDowntime:
		required = []string{"equipment_id", "category", "start_at"}
		known = append(required, "client_id", "reason_code", "end_at")
	case KindAttendance:
		required = []string{"employee_id", "attendance_date", "shift_id", "status", "scheduled_hours"}
		known = append(required, "client_id", "actual_hours", "absence_reason", "is_excused")
	case KindQuality:
		required = []string{"product_id", "inspected_qty", "defect_qty", "inspection_stage", "inspected_at"}
		known = append(required, "client_id", "work_order_id", "rejected_qty",
			"severity", "disposition", "inspector_id")
	case KindWorkOrders:
		required = []string{"work_order_id", "style_code", "planned_qty"}
		known = append(required, "client_id", "planned_ship_date", "required_date",
			"priority", "ideal_cycle_time_minutes")
	case KindPartOpportunities:
		required = []string{"product_id", "opportunities_per_unit"}
		known = append(required, "client_id")
	}
	return required, known
}

// checkRowClient rejects rows addressed to a different tenant than the
// batch target. Cross-tenant uploads change the batch target, never mix
// tenants within one file.
func checkRowClient(rec record, target string) error {
	if c := rec.str("client_id"); c != "" && c != target {
		return fmt.Errorf("client_id %q does not match upload target %q", c, target)
	}
	return nil
}

// parseRow validates one record into a staged row. Errors describe the row
// for the read-back report; infrastructure failures pass through as
// domain.Error and abort the batch.
func parseRow(kind Kind, rec record, rf *refs, target string) (stagedRow, error) {
	if err := checkRowClient(rec, target); err != nil {
		return nil, err
	}
	switch kind {
	case KindProduction:
		return parseProduction(rec, rf)
	case KindDowntime:
		return parseDowntime(rec)
	case KindAttendance:
		return parseAttendance(rec, rf)
	case KindQuality:
		return parseQuality(rec, rf)
	case KindWorkOrders:
		return parseWorkOrder(rec)
	case KindPartOpportunities:
		return parseOpportunities(rec, rf)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

type productionRow struct{ entry domain.ProductionEntry }

func (r productionRow) key() string { return "" }

func (r productionRow) insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error) {
	e := r.entry
	e.CreatedBy = by
	if err := uow.Production().Create(ctx, &e); err != nil {
		return nil, err
	}
	return []domain.Event{domain.NewProductionEntryCreated(&e)}, nil
}

func parseProduction(rec record, rf *refs) (stagedRow, error) {
	productID, err := rec.need("product_id")
	if err != nil {
		return nil, err
	}
	if ok, err := rf.product(productID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("product %q not found in client", productID)
	}
	date, ok, err := rec.date("production_date")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("production_date is required")
	}
	units, ok, err := rec.int("units_produced")
	if err != nil {
		return nil, err
	}
	if !ok || units < 0 {
		return nil, fmt.Errorf("units_produced must be a non-negative integer")
	}
	hours, ok, err := rec.float("run_time_hours")
	if err != nil {
		return nil, err
	}
	if !ok || hours <= 0 || hours > 24 {
		return nil, fmt.Errorf("run_time_hours must be in (0, 24]")
	}
	employees, _, err := rec.int("employees_assigned")
	if err != nil {
		return nil, err
	}
	defects, _, err := rec.int("defect_count")
	if err != nil {
		return nil, err
	}
	scrap, _, err := rec.int("scrap_count")
	if err != nil {
		return nil, err
	}
	if employees < 0 || defects < 0 || scrap < 0 {
		return nil, fmt.Errorf("counts must be non-negative")
	}

	e := domain.ProductionEntry{
		EntryID:           uuid.NewString(),
		ProductID:         productID,
		ShiftID:           rec.str("shift_id"),
		ProductionDate:    date,
		UnitsProduced:     units,
		RunTimeHours:      hours,
		EmployeesAssigned: employees,
		DefectCount:       defects,
		ScrapCount:        scrap,
	}
	if wo := rec.str("work_order_id"); wo != "" {
		e.WorkOrderID = &wo
	}
	if units > 0 {
		e.ActualCycleTimeMinutes = hours * 60 / float64(units)
	}
	return productionRow{entry: e}, nil
}

type downtimeRow struct{ entry domain.DowntimeEntry }

func (r downtimeRow) key() string {
	// At most one open stoppage per equipment; closed intervals may repeat.
	if r.entry.EndAt == nil {
		return "downtime-open:" + r.entry.EquipmentID
	}
	return ""
}

func (r downtimeRow) insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error) {
	e := r.entry
	if e.EndAt == nil {
		open, err := uow.Downtime().Open(ctx, e.EquipmentID)
		if err != nil {
			return nil, err
		}
		if open != nil {
			return nil, domain.Conflict("equipment_id",
				fmt.Sprintf("equipment %s already has an open downtime entry", e.EquipmentID))
		}
	}
	if err := uow.Downtime().Create(ctx, &e); err != nil {
		return nil, err
	}
	// Only a closed stoppage is an observable event; open entries wait for
	// their close.
	if e.EndAt != nil {
		return []domain.Event{domain.NewDowntimeClosed(&e, by)}, nil
	}
	return nil, nil
}

func parseDowntime(rec record) (stagedRow, error) {
	equipment, err := rec.need("equipment_id")
	if err != nil {
		return nil, err
	}
	category := domain.DowntimeCategory(rec.str("category"))
	if !category.Valid() {
		return nil, fmt.Errorf("category %q is not a downtime category", rec.str("category"))
	}
	start, ok, err := rec.timestamp("start_at")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("start_at is required")
	}
	e := domain.DowntimeEntry{
		EntryID:     uuid.NewString(),
		EquipmentID: equipment,
		ReasonCode:  rec.str("reason_code"),
		Category:    category,
		StartAt:     start,
	}
	if end, ok, err := rec.timestamp("end_at"); err != nil {
		return nil, err
	} else if ok {
		if end.Before(start) {
			return nil, fmt.Errorf("end_at must not be before start_at")
		}
		e.EndAt = &end
		e.DurationMinutes = end.Sub(start).Minutes()
	}
	return downtimeRow{entry: e}, nil
}

type attendanceRow struct{ entry domain.AttendanceEntry }

func (r attendanceRow) key() string {
	return r.entry.EmployeeID + "|" + r.entry.AttendanceDate.Format("2006-01-02") + "|" + r.entry.ShiftID
}

func (r attendanceRow) insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error) {
	e := r.entry
	if err := uow.Attendance().Create(ctx, &e); err != nil {
		return nil, err
	}
	return []domain.Event{domain.NewAttendanceEntryCreated(&e, by)}, nil
}

func parseAttendance(rec record, rf *refs) (stagedRow, error) {
	employee, err := rec.need("employee_id")
	if err != nil {
		return nil, err
	}
	if ok, err := rf.employee(employee); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("employee %q not found in client", employee)
	}
	date, ok, err := rec.date("attendance_date")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("attendance_date is required")
	}
	shift, err := rec.need("shift_id")
	if err != nil {
		return nil, err
	}
	status := domain.AttendanceStatus(rec.str("status"))
	if !status.Valid() {
		return nil, fmt.Errorf("status %q is not an attendance status", rec.str("status"))
	}
	scheduled, ok, err := rec.float("scheduled_hours")
	if err != nil {
		return nil, err
	}
	if !ok || scheduled < 0 || scheduled > 24 {
		return nil, fmt.Errorf("scheduled_hours must be in [0, 24]")
	}
	actual, _, err := rec.float("actual_hours")
	if err != nil {
		return nil, err
	}
	if actual < 0 || actual > 24 {
		return nil, fmt.Errorf("actual_hours must be in [0, 24]")
	}
	excused, _, err := rec.bool("is_excused")
	if err != nil {
		return nil, err
	}
	e := domain.AttendanceEntry{
		EntryID:        uuid.NewString(),
		EmployeeID:     employee,
		AttendanceDate: date,
		ShiftID:        shift,
		Status:         status,
		IsExcused:      excused,
		ScheduledHours: scheduled,
		ActualHours:    actual,
	}
	if reason := rec.str("absence_reason"); reason != "" {
		e.AbsenceReason = &reason
	}
	return attendanceRow{entry: e}, nil
}

type qualityRow struct{ entry domain.QualityEntry }

func (r qualityRow) key() string { return "" }

func (r qualityRow) insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error) {
	e := r.entry
	if err := uow.Quality().Create(ctx, &e); err != nil {
		return nil, err
	}
	return []domain.Event{domain.NewQualityRecorded(&e, by)}, nil
}

func parseQuality(rec record, rf *refs) (stagedRow, error) {
	productID, err := rec.need("product_id")
	if err != nil {
		return nil, err
	}
	if ok, err := rf.product(productID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("product %q not found in client", productID)
	}
	inspected, ok, err := rec.int("inspected_qty")
	if err != nil {
		return nil, err
	}
	if !ok || inspected < 0 {
		return nil, fmt.Errorf("inspected_qty must be a non-negative integer")
	}
	defects, ok, err := rec.int("defect_qty")
	if err != nil {
		return nil, err
	}
	if !ok || defects < 0 {
		return nil, fmt.Errorf("defect_qty must be a non-negative integer")
	}
	if defects > inspected {
		return nil, fmt.Errorf("defect_qty exceeds inspected_qty")
	}
	rejected, _, err := rec.int("rejected_qty")
	if err != nil {
		return nil, err
	}
	if rejected < 0 || rejected > inspected {
		return nil, fmt.Errorf("rejected_qty must be in [0, inspected_qty]")
	}
	stage := domain.InspectionStage(rec.str("inspection_stage"))
	if !stage.Valid() {
		return nil, fmt.Errorf("inspection_stage %q is not a stage", rec.str("inspection_stage"))
	}
	at, ok, err := rec.timestamp("inspected_at")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("inspected_at is required")
	}
	e := domain.QualityEntry{
		EntryID:         uuid.NewString(),
		WorkOrderID:     rec.str("work_order_id"),
		ProductID:       productID,
		InspectedQty:    inspected,
		DefectQty:       defects,
		RejectedQty:     rejected,
		InspectionStage: stage,
		Severity:        rec.str("severity"),
		Disposition:     rec.str("disposition"),
		InspectorID:     rec.str("inspector_id"),
		InspectedAt:     at,
	}
	return qualityRow{entry: e}, nil
}

type workOrderRow struct{ wo domain.WorkOrder }

func (r workOrderRow) key() string { return r.wo.WorkOrderID }

func (r workOrderRow) insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error) {
	wo := r.wo
	if err := uow.WorkOrders().Create(ctx, &wo); err != nil {
		return nil, err
	}
	return []domain.Event{domain.NewWorkOrderCreated(&wo, by)}, nil
}

func parseWorkOrder(rec record) (stagedRow, error) {
	id, err := rec.need("work_order_id")
	if err != nil {
		return nil, err
	}
	style, err := rec.need("style_code")
	if err != nil {
		return nil, err
	}
	qty, ok, err := rec.int("planned_qty")
	if err != nil {
		return nil, err
	}
	if !ok || qty <= 0 {
		return nil, fmt.Errorf("planned_qty must be a positive integer")
	}
	priority, _, err := rec.int("priority")
	if err != nil {
		return nil, err
	}
	wo := domain.WorkOrder{
		WorkOrderID: id,
		StyleCode:   style,
		PlannedQty:  qty,
		Priority:    priority,
		Status:      domain.StatusReceived,
	}
	if d, ok, err := rec.date("planned_ship_date"); err != nil {
		return nil, err
	} else if ok {
		wo.PlannedShipDate = &d
	}
	if d, ok, err := rec.date("required_date"); err != nil {
		return nil, err
	} else if ok {
		wo.RequiredDate = &d
	}
	if ct, ok, err := rec.float("ideal_cycle_time_minutes"); err != nil {
		return nil, err
	} else if ok {
		if ct <= 0 {
			return nil, fmt.Errorf("ideal_cycle_time_minutes must be positive")
		}
		wo.IdealCycleTimeMinutes = &ct
	}
	return workOrderRow{wo: wo}, nil
}

type opportunitiesRow struct{ po domain.PartOpportunities }

func (r opportunitiesRow) key() string { return r.po.ProductID }

func (r opportunitiesRow) insert(ctx context.Context, uow repository.UnitOfWork, by string) ([]domain.Event, error) {
	po := r.po
	if err := uow.Opportunities().Upsert(ctx, &po); err != nil {
		return nil, err
	}
	return []domain.Event{domain.NewPartOpportunitiesCreated(&po, by)}, nil
}

func parseOpportunities(rec record, rf *refs) (stagedRow, error) {
	productID, err := rec.need("product_id")
	if err != nil {
		return nil, err
	}
	if ok, err := rf.product(productID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("product %q not found in client", productID)
	}
	per, ok, err := rec.float("opportunities_per_unit")
	if err != nil {
		return nil, err
	}
	if !ok || per <= 0 {
		return nil, fmt.Errorf("opportunities_per_unit must be positive")
	}
	return opportunitiesRow{po: domain.PartOpportunities{ProductID: productID, OpportunitiesPerUnit: per}}, nil
}
