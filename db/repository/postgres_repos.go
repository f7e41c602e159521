package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
	"gorm.io/gorm"
)

type gormClients struct{ u *gormUoW }

func (r *gormClients) Get(ctx context.Context, clientID string) (*domain.Client, error) {
	if !r.u.tc.CanRead(clientID) {
		return nil, domain.NotFound("client", clientID)
	}
	var c domain.Client
	if err := r.u.tx.WithContext(ctx).Where("client_id = ?", clientID).First(&c).Error; err != nil {
		return nil, notFoundAs(translate(err), "client", clientID)
	}
	return &c, nil
}

func (r *gormClients) List(ctx context.Context) ([]*domain.Client, error) {
	var out []*domain.Client
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Order("client_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormClients) Create(ctx context.Context, c *domain.Client) error {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(c).Error)
}

func (r *gormClients) Update(ctx context.Context, c *domain.Client) error {
	if err := r.u.tc.CheckWrite(c.ClientID); err != nil {
		return err
	}
	res := r.u.tx.WithContext(ctx).Model(&domain.Client{}).
		Where("client_id = ?", c.ClientID).
		Select("display_name", "timezone", "active", "allow_over_performance").
		Updates(c)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("client", c.ClientID)
	}
	return nil
}

// Delete deactivates. Tenants are never hard-deleted: their rows anchor
// every scoped table.
func (r *gormClients) Delete(ctx context.Context, clientID string) error {
	res := r.u.tx.WithContext(ctx).Model(&domain.Client{}).
		Where("client_id = ?", clientID).
		Update("active", false)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("client", clientID)
	}
	return nil
}

type gormUsers struct{ u *gormUoW }

func (r *gormUsers) Get(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	if err := r.u.tx.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, notFoundAs(translate(err), "user", userID)
	}
	var memberships []domain.UserClient
	if err := r.u.tx.WithContext(ctx).Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, translate(err)
	}
	for _, m := range memberships {
		u.AssignedClientIDs = append(u.AssignedClientIDs, m.ClientID)
	}
	return &u, nil
}

func (r *gormUsers) Create(ctx context.Context, u *domain.User) error {
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	if err := r.u.tx.WithContext(ctx).Create(u).Error; err != nil {
		return translate(err)
	}
	return r.replaceMemberships(ctx, u)
}

func (r *gormUsers) Update(ctx context.Context, u *domain.User) error {
	res := r.u.tx.WithContext(ctx).Model(&domain.User{}).
		Where("user_id = ?", u.UserID).
		Select("display_name", "password_hash", "role", "active").
		Updates(u)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("user", u.UserID)
	}
	return r.replaceMemberships(ctx, u)
}

func (r *gormUsers) replaceMemberships(ctx context.Context, u *domain.User) error {
	tx := r.u.tx.WithContext(ctx)
	if err := tx.Where("user_id = ?", u.UserID).Delete(&domain.UserClient{}).Error; err != nil {
		return translate(err)
	}
	for _, clientID := range u.AssignedClientIDs {
		row := domain.UserClient{UserID: u.UserID, ClientID: clientID}
		if err := tx.Create(&row).Error; err != nil {
			return translate(err)
		}
	}
	return nil
}

type gormProducts struct{ u *gormUoW }

func (r *gormProducts) Get(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("product_id = ?", productID).First(&p).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "product", productID)
	}
	return &p, nil
}

func (r *gormProducts) GetByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("code = ?", code).Order("client_id ASC").First(&p).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "product", code)
	}
	return &p, nil
}

func (r *gormProducts) List(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Order("code ASC, product_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormProducts) Create(ctx context.Context, p *domain.Product) error {
	if err := stampClient(r.u.tc, &p.ClientID); err != nil {
		return err
	}
	if p.ProductID == "" {
		p.ProductID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(p).Error)
}

func (r *gormProducts) Update(ctx context.Context, p *domain.Product) error {
	if err := r.u.tc.CheckWrite(p.ClientID); err != nil {
		return err
	}
	res := r.u.tx.WithContext(ctx).Model(&domain.Product{}).
		Where("product_id = ? AND client_id = ?", p.ProductID, p.ClientID).
		Select("description", "ideal_cycle_time_minutes", "active").
		Updates(p)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("product", p.ProductID)
	}
	return nil
}

type gormShifts struct{ u *gormUoW }

func (r *gormShifts) Get(ctx context.Context, shiftID string) (*domain.Shift, error) {
	var s domain.Shift
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("shift_id = ?", shiftID).First(&s).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "shift", shiftID)
	}
	return &s, nil
}

func (r *gormShifts) List(ctx context.Context) ([]*domain.Shift, error) {
	var out []*domain.Shift
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Order("shift_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormShifts) Create(ctx context.Context, s *domain.Shift) error {
	if err := stampClient(r.u.tc, &s.ClientID); err != nil {
		return err
	}
	if s.ShiftID == "" {
		s.ShiftID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(s).Error)
}

type gormEmployees struct{ u *gormUoW }

// employeeScope widens the isolation predicate for the floating pool: a
// floating employee is visible to any tenant holding an assignment for them.
func employeeScope(tc tenant.Context) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		ids, all := tc.Scope()
		if all {
			return db
		}
		assigned := db.Session(&gorm.Session{NewDB: true}).
			Model(&domain.EmployeeAssignment{}).
			Select("employee_id").
			Where("client_id IN ?", ids)
		return db.Where("client_id IN ? OR (is_floating_pool = ? AND employee_id IN (?))",
			ids, true, assigned)
	}
}

func (r *gormEmployees) Get(ctx context.Context, employeeID string) (*domain.Employee, error) {
	var e domain.Employee
	err := r.u.tx.WithContext(ctx).Scopes(employeeScope(r.u.tc)).
		Where("employee_id = ?", employeeID).First(&e).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "employee", employeeID)
	}
	return &e, nil
}

func (r *gormEmployees) GetByCode(ctx context.Context, code string) (*domain.Employee, error) {
	var e domain.Employee
	err := r.u.tx.WithContext(ctx).Scopes(employeeScope(r.u.tc)).
		Where("code = ?", code).Order("employee_id ASC").First(&e).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "employee", code)
	}
	return &e, nil
}

func (r *gormEmployees) List(ctx context.Context) ([]*domain.Employee, error) {
	var out []*domain.Employee
	err := r.u.tx.WithContext(ctx).Scopes(employeeScope(r.u.tc)).
		Order("code ASC, employee_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormEmployees) Create(ctx context.Context, e *domain.Employee) error {
	if e.IsFloatingPool {
		e.ClientID = nil
	} else {
		var id string
		if e.ClientID != nil {
			id = *e.ClientID
		}
		if err := stampClient(r.u.tc, &id); err != nil {
			return err
		}
		e.ClientID = &id
	}
	if e.EmployeeID == "" {
		e.EmployeeID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(e).Error)
}

func (r *gormEmployees) Assign(ctx context.Context, a *domain.EmployeeAssignment) error {
	if err := stampClient(r.u.tc, &a.ClientID); err != nil {
		return err
	}
	if a.AssignmentID == "" {
		a.AssignmentID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(a).Error)
}

func (r *gormEmployees) AssignmentsFor(ctx context.Context, employeeID string) ([]*domain.EmployeeAssignment, error) {
	var out []*domain.EmployeeAssignment
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("employee_id = ?", employeeID).
		Order("from_date ASC, assignment_id ASC").Find(&out).Error
	return out, translate(err)
}

type gormWorkOrders struct{ u *gormUoW }

func (r *gormWorkOrders) Get(ctx context.Context, workOrderID string) (*domain.WorkOrder, error) {
	var wo domain.WorkOrder
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("work_order_id = ?", workOrderID).First(&wo).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "work_order", workOrderID)
	}
	return &wo, nil
}

func (r *gormWorkOrders) List(ctx context.Context, f WorkOrderFilter) ([]*domain.WorkOrder, error) {
	q := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc))
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.StyleCode != "" {
		q = q.Where("style_code = ?", f.StyleCode)
	}
	if f.OpenOnly {
		q = q.Where("status NOT IN ?", terminalStatuses)
	}
	if f.Delivered {
		// the window narrows on delivery date for delivered listings,
		// creation date otherwise
		q = q.Where("actual_delivery_date IS NOT NULL").
			Scopes(ranged("actual_delivery_date", f.Range))
	} else {
		q = q.Scopes(ranged("created_at", f.Range))
	}
	var out []*domain.WorkOrder
	err := q.Order("created_at DESC, work_order_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormWorkOrders) Create(ctx context.Context, wo *domain.WorkOrder) error {
	if err := stampClient(r.u.tc, &wo.ClientID); err != nil {
		return err
	}
	if wo.WorkOrderID == "" {
		wo.WorkOrderID = uuid.NewString()
	}
	if wo.Status == "" {
		wo.Status = domain.StatusReceived
	}
	if wo.Version == 0 {
		wo.Version = 1
	}
	return translate(r.u.tx.WithContext(ctx).Create(wo).Error)
}

func (r *gormWorkOrders) Update(ctx context.Context, wo *domain.WorkOrder) error {
	if err := r.u.tc.CheckWrite(wo.ClientID); err != nil {
		return err
	}
	prev := wo.Version
	wo.Version = prev + 1
	res := r.u.tx.WithContext(ctx).Model(&domain.WorkOrder{}).
		Where("work_order_id = ? AND client_id = ? AND version = ?",
			wo.WorkOrderID, wo.ClientID, prev).
		Select("style_code", "planned_qty", "planned_ship_date", "required_date",
			"actual_delivery_date", "status", "active_before_hold", "priority",
			"ideal_cycle_time_minutes", "entered_wip_at", "version").
		Updates(wo)
	if res.Error != nil {
		wo.Version = prev
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		wo.Version = prev
		var n int64
		err := r.u.tx.WithContext(ctx).Model(&domain.WorkOrder{}).
			Scopes(scoped(r.u.tc)).
			Where("work_order_id = ?", wo.WorkOrderID).Count(&n).Error
		if err != nil {
			return translate(err)
		}
		if n == 0 {
			return domain.NotFound("work_order", wo.WorkOrderID)
		}
		return domain.Stale("work order was modified concurrently")
	}
	return nil
}

func (r *gormWorkOrders) Delete(ctx context.Context, workOrderID string) error {
	wo, err := r.Get(ctx, workOrderID)
	if err != nil {
		return err
	}
	if err := r.u.tc.CheckWrite(wo.ClientID); err != nil {
		return err
	}
	for _, dep := range []any{
		&domain.ProductionEntry{}, &domain.QualityEntry{}, &domain.HoldEntry{},
	} {
		var n int64
		err := r.u.tx.WithContext(ctx).Model(dep).
			Where("work_order_id = ?", workOrderID).Count(&n).Error
		if err != nil {
			return translate(err)
		}
		if n > 0 {
			return domain.DependentRows("work order has production, quality or hold rows")
		}
	}
	return translate(r.u.tx.WithContext(ctx).
		Where("work_order_id = ?", workOrderID).
		Delete(&domain.WorkOrder{}).Error)
}

type gormProduction struct{ u *gormUoW }

func (r *gormProduction) Get(ctx context.Context, entryID string) (*domain.ProductionEntry, error) {
	var e domain.ProductionEntry
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("entry_id = ?", entryID).First(&e).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "production_entry", entryID)
	}
	return &e, nil
}

func (r *gormProduction) List(ctx context.Context, f ProductionFilter) ([]*domain.ProductionEntry, error) {
	q := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc), ranged("production_date", f.Range))
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.WorkOrderID != "" {
		q = q.Where("work_order_id = ?", f.WorkOrderID)
	}
	if f.ShiftID != "" {
		q = q.Where("shift_id = ?", f.ShiftID)
	}
	var out []*domain.ProductionEntry
	err := q.Order("production_date DESC, entry_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormProduction) Create(ctx context.Context, e *domain.ProductionEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(e).Error)
}

type gormDowntime struct{ u *gormUoW }

func (r *gormDowntime) Get(ctx context.Context, entryID string) (*domain.DowntimeEntry, error) {
	var e domain.DowntimeEntry
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("entry_id = ?", entryID).First(&e).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "downtime_entry", entryID)
	}
	return &e, nil
}

func (r *gormDowntime) List(ctx context.Context, f DowntimeFilter) ([]*domain.DowntimeEntry, error) {
	q := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc), ranged("start_at", f.Range))
	if f.EquipmentID != "" {
		q = q.Where("equipment_id = ?", f.EquipmentID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.OpenOnly {
		q = q.Where("end_at IS NULL")
	}
	var out []*domain.DowntimeEntry
	err := q.Order("start_at DESC, entry_id ASC").Find(&out).Error
	return out, translate(err)
}

// Open returns nil when the equipment has no open entry.
func (r *gormDowntime) Open(ctx context.Context, equipmentID string) (*domain.DowntimeEntry, error) {
	var e domain.DowntimeEntry
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("equipment_id = ? AND end_at IS NULL", equipmentID).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translate(err)
	}
	return &e, nil
}

func (r *gormDowntime) Create(ctx context.Context, e *domain.DowntimeEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(e).Error)
}

func (r *gormDowntime) Update(ctx context.Context, e *domain.DowntimeEntry) error {
	if err := r.u.tc.CheckWrite(e.ClientID); err != nil {
		return err
	}
	res := r.u.tx.WithContext(ctx).Model(&domain.DowntimeEntry{}).
		Where("entry_id = ? AND client_id = ?", e.EntryID, e.ClientID).
		Select("reason_code", "category", "end_at", "duration_minutes").
		Updates(e)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("downtime_entry", e.EntryID)
	}
	return nil
}

type gormHolds struct{ u *gormUoW }

func (r *gormHolds) Get(ctx context.Context, holdID string) (*domain.HoldEntry, error) {
	var h domain.HoldEntry
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("hold_id = ?", holdID).First(&h).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "hold", holdID)
	}
	return &h, nil
}

func (r *gormHolds) List(ctx context.Context, f HoldFilter) ([]*domain.HoldEntry, error) {
	q := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc), ranged("initiated_at", f.Range))
	if f.WorkOrderID != "" {
		q = q.Where("work_order_id = ?", f.WorkOrderID)
	}
	if f.ActiveOnly {
		q = q.Where("resumed_at IS NULL")
	}
	var out []*domain.HoldEntry
	err := q.Order("initiated_at DESC, hold_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormHolds) ActiveForWorkOrder(ctx context.Context, workOrderID string) ([]*domain.HoldEntry, error) {
	return r.List(ctx, HoldFilter{WorkOrderID: workOrderID, ActiveOnly: true})
}

func (r *gormHolds) Create(ctx context.Context, h *domain.HoldEntry) error {
	if err := stampClient(r.u.tc, &h.ClientID); err != nil {
		return err
	}
	if h.HoldID == "" {
		h.HoldID = uuid.NewString()
	}
	if h.Version == 0 {
		h.Version = 1
	}
	return translate(r.u.tx.WithContext(ctx).Create(h).Error)
}

// Update writes resume fields. Resumed holds are immutable, so the match
// also requires resumed_at IS NULL.
func (r *gormHolds) Update(ctx context.Context, h *domain.HoldEntry) error {
	if err := r.u.tc.CheckWrite(h.ClientID); err != nil {
		return err
	}
	prev := h.Version
	h.Version = prev + 1
	res := r.u.tx.WithContext(ctx).Model(&domain.HoldEntry{}).
		Where("hold_id = ? AND client_id = ? AND version = ? AND resumed_at IS NULL",
			h.HoldID, h.ClientID, prev).
		Updates(map[string]any{
			"resumed_at":        h.ResumedAt,
			"disposition":       h.Disposition,
			"released_quantity": h.ReleasedQuantity,
			"approved_by":       h.ApprovedBy,
			"notes":             h.Notes,
			"version":           h.Version,
		})
	if res.Error != nil {
		h.Version = prev
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		h.Version = prev
		existing, err := r.Get(ctx, h.HoldID)
		if err != nil {
			return err
		}
		if existing.ResumedAt != nil {
			return domain.Conflict("hold_resumed", "hold was already resumed")
		}
		return domain.Stale("hold was modified concurrently")
	}
	return nil
}

type gormAttendance struct{ u *gormUoW }

func (r *gormAttendance) List(ctx context.Context, f AttendanceFilter) ([]*domain.AttendanceEntry, error) {
	q := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc), ranged("attendance_date", f.Range))
	if f.EmployeeID != "" {
		q = q.Where("employee_id = ?", f.EmployeeID)
	}
	if f.ShiftID != "" {
		q = q.Where("shift_id = ?", f.ShiftID)
	}
	var out []*domain.AttendanceEntry
	err := q.Order("attendance_date DESC, entry_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormAttendance) Create(ctx context.Context, e *domain.AttendanceEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(e).Error)
}

type gormQuality struct{ u *gormUoW }

func (r *gormQuality) List(ctx context.Context, f QualityFilter) ([]*domain.QualityEntry, error) {
	q := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc), ranged("inspected_at", f.Range))
	if f.WorkOrderID != "" {
		q = q.Where("work_order_id = ?", f.WorkOrderID)
	}
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.Stage != "" {
		q = q.Where("inspection_stage = ?", f.Stage)
	}
	var out []*domain.QualityEntry
	err := q.Order("inspected_at DESC, entry_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormQuality) Create(ctx context.Context, e *domain.QualityEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	return translate(r.u.tx.WithContext(ctx).Create(e).Error)
}

type gormOpportunities struct{ u *gormUoW }

func (r *gormOpportunities) Get(ctx context.Context, productID string) (*domain.PartOpportunities, error) {
	var po domain.PartOpportunities
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("product_id = ?", productID).First(&po).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "part_opportunities", productID)
	}
	return &po, nil
}

func (r *gormOpportunities) Upsert(ctx context.Context, po *domain.PartOpportunities) error {
	if err := stampClient(r.u.tc, &po.ClientID); err != nil {
		return err
	}
	err := r.u.tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"opportunities_per_unit"}),
	}).Create(po).Error
	return translate(err)
}

type gormThresholds struct{ u *gormUoW }

func (r *gormThresholds) List(ctx context.Context) ([]*domain.KPIThreshold, error) {
	var out []*domain.KPIThreshold
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Order("client_id ASC, kpi ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormThresholds) Upsert(ctx context.Context, t *domain.KPIThreshold) error {
	if err := stampClient(r.u.tc, &t.ClientID); err != nil {
		return err
	}
	err := r.u.tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}, {Name: "kpi"}},
		DoUpdates: clause.AssignmentColumns([]string{"min", "max"}),
	}).Create(t).Error
	return translate(err)
}

type gormWorkflowConfigs struct{ u *gormUoW }

func (r *gormWorkflowConfigs) Get(ctx context.Context) (*domain.WorkflowConfig, error) {
	client, err := r.u.tc.WriteClient()
	if err != nil {
		return nil, err
	}
	var cfg domain.WorkflowConfig
	err = r.u.tx.WithContext(ctx).Where("client_id = ?", client).First(&cfg).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "workflow_config", client)
	}
	return &cfg, nil
}

func (r *gormWorkflowConfigs) Save(ctx context.Context, cfg *domain.WorkflowConfig) error {
	if err := stampClient(r.u.tc, &cfg.ClientID); err != nil {
		return err
	}
	err := r.u.tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"definition", "version", "activated_by", "activated_at",
		}),
	}).Create(cfg).Error
	return translate(err)
}

type gormSchedules struct{ u *gormUoW }

func (r *gormSchedules) Get(ctx context.Context, scheduleID string) (*domain.ReportSchedule, error) {
	var s domain.ReportSchedule
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("schedule_id = ?", scheduleID).First(&s).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "report_schedule", scheduleID)
	}
	return &s, nil
}

func (r *gormSchedules) ListActive(ctx context.Context) ([]*domain.ReportSchedule, error) {
	var out []*domain.ReportSchedule
	err := r.u.tx.WithContext(ctx).Scopes(scoped(r.u.tc)).
		Where("active = ?", true).
		Order("schedule_id ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormSchedules) Save(ctx context.Context, s *domain.ReportSchedule) error {
	if err := stampClient(r.u.tc, &s.ClientID); err != nil {
		return err
	}
	if s.ScheduleID == "" {
		s.ScheduleID = uuid.NewString()
	}
	err := r.u.tx.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(s).Error
	return translate(err)
}

func (r *gormSchedules) Touch(ctx context.Context, scheduleID string, ranAt time.Time) error {
	res := r.u.tx.WithContext(ctx).Model(&domain.ReportSchedule{}).
		Scopes(scoped(r.u.tc)).
		Where("schedule_id = ?", scheduleID).
		Update("last_run_at", ranAt)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("report_schedule", scheduleID)
	}
	return nil
}

type gormWorkbooks struct{ u *gormUoW }

func (r *gormWorkbooks) GetSheet(ctx context.Context, sheet string) (*domain.WorkbookSheet, error) {
	client, err := r.u.tc.WriteClient()
	if err != nil {
		return nil, err
	}
	var s domain.WorkbookSheet
	err = r.u.tx.WithContext(ctx).
		Where("client_id = ? AND sheet = ?", client, sheet).First(&s).Error
	if err != nil {
		return nil, notFoundAs(translate(err), "worksheet", sheet)
	}
	return &s, nil
}

func (r *gormWorkbooks) ListSheets(ctx context.Context) ([]*domain.WorkbookSheet, error) {
	client, err := r.u.tc.WriteClient()
	if err != nil {
		return nil, err
	}
	var out []*domain.WorkbookSheet
	err = r.u.tx.WithContext(ctx).Where("client_id = ?", client).
		Order("sheet ASC").Find(&out).Error
	return out, translate(err)
}

func (r *gormWorkbooks) SaveSheet(ctx context.Context, s *domain.WorkbookSheet, expectedVersion int) error {
	if err := stampClient(r.u.tc, &s.ClientID); err != nil {
		return err
	}
	if expectedVersion == 0 {
		s.Version = 1
		s.UpdatedAt = nowUTC()
		return translate(r.u.tx.WithContext(ctx).Create(s).Error)
	}
	s.Version = expectedVersion + 1
	res := r.u.tx.WithContext(ctx).Model(&domain.WorkbookSheet{}).
		Where("client_id = ? AND sheet = ? AND version = ?",
			s.ClientID, s.Sheet, expectedVersion).
		Updates(map[string]any{
			"rows":       s.Rows,
			"version":    s.Version,
			"updated_at": nowUTC(),
		})
	if res.Error != nil {
		s.Version = expectedVersion
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		s.Version = expectedVersion
		return domain.Stale("worksheet was modified since the snapshot was loaded")
	}
	return nil
}
