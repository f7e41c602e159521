// Package repository provides tenant-scoped persistence for the domain
// model. Every method takes the tenant context resolved for the operation
// and applies the isolation predicate as an additional filter; a repository
// method that skips the predicate is a bug, not a feature.
//
// Two implementations exist:
//
//   - GormStore: PostgreSQL through gorm, the production store
//   - MemoryStore: in-process maps with identical semantics, used by tests
//
// A UnitOfWork owns one transactional scope plus the staged-event buffer.
// Commit persists rows and events atomically, drains synchronous handlers
// through the bound EventFlusher, and returns the events for async dispatch.
// Rollback discards both rows and staged events.
package repository

import (
	"context"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// EventFlusher drains synchronous handlers after a successful commit. The
// events are already persisted; handler failures are logged by the flusher
// and never fail the commit.
type EventFlusher interface {
	FlushSync(ctx context.Context, events []domain.Event)
}

// Store opens units of work and answers the lookups that run outside any
// transaction (authentication, tenant resolution, event replay).
type Store interface {
	Begin(ctx context.Context, tc tenant.Context) (UnitOfWork, error)

	// BindFlusher attaches the event bus. Units of work begun afterwards
	// drain sync handlers on commit.
	BindFlusher(f EventFlusher)

	// ClientExists satisfies tenant.ClientDirectory.
	ClientExists(ctx context.Context, clientID string) (bool, error)

	// GetUserByUsername satisfies auth.UserStore.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// PendingEvents lists persisted events not yet marked dispatched, oldest
	// first, for replay after a restart.
	PendingEvents(ctx context.Context, limit int) ([]domain.EventRecord, error)

	// MarkDispatched flags events whose async handlers completed.
	MarkDispatched(ctx context.Context, eventIDs []string) error

	Close() error
}

// UnitOfWork is one transactional scope. Repositories obtained from it share
// the transaction; Collect stages events that persist atomically with the
// data changes on Commit.
type UnitOfWork interface {
	Tenant() tenant.Context

	Clients() ClientRepository
	Users() UserRepository
	Products() ProductRepository
	Shifts() ShiftRepository
	Employees() EmployeeRepository
	WorkOrders() WorkOrderRepository
	Production() ProductionRepository
	Downtime() DowntimeRepository
	Holds() HoldRepository
	Attendance() AttendanceRepository
	Quality() QualityRepository
	Opportunities() OpportunitiesRepository
	Thresholds() ThresholdRepository
	WorkflowConfigs() WorkflowConfigRepository
	Schedules() ScheduleRepository
	Workbooks() WorkbookRepository

	// Collect stages an event for flush-on-commit. Events are never
	// dispatched at collection time.
	Collect(ev domain.Event)

	// StagedEvents returns the staged buffer in collection order.
	StagedEvents() []domain.Event

	// Commit flushes rows and staged events atomically, drains sync
	// handlers, and returns the committed events for async dispatch.
	Commit(ctx context.Context) ([]domain.Event, error)

	// Rollback discards rows and staged events. Safe to call after Commit.
	Rollback() error
}

// Range is a half-open time window [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window. A zero bound is open.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// WorkOrderFilter narrows work-order listings.
type WorkOrderFilter struct {
	Statuses  []domain.WorkOrderStatus
	StyleCode string
	OpenOnly  bool // excludes terminal statuses
	Delivered bool // only orders with an actual delivery date
	Range     Range
}

// ProductionFilter narrows production-entry listings.
type ProductionFilter struct {
	ProductID   string
	WorkOrderID string
	ShiftID     string
	Range       Range
}

// DowntimeFilter narrows downtime listings.
type DowntimeFilter struct {
	EquipmentID string
	Category    domain.DowntimeCategory
	OpenOnly    bool
	Range       Range
}

// HoldFilter narrows hold listings.
type HoldFilter struct {
	WorkOrderID string
	ActiveOnly  bool
	Range       Range
}

// AttendanceFilter narrows attendance listings.
type AttendanceFilter struct {
	EmployeeID string
	ShiftID    string
	Range      Range
}

// QualityFilter narrows quality listings.
type QualityFilter struct {
	WorkOrderID string
	ProductID   string
	Stage       domain.InspectionStage
	Range       Range
}

// ClientRepository persists tenants. Clients are deactivated, never deleted,
// while dependent rows exist.
type ClientRepository interface {
	Get(ctx context.Context, clientID string) (*domain.Client, error)
	List(ctx context.Context) ([]*domain.Client, error)
	Create(ctx context.Context, c *domain.Client) error
	Update(ctx context.Context, c *domain.Client) error
	Delete(ctx context.Context, clientID string) error
}

// UserRepository persists actors and their client assignments.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
}

// ProductRepository persists the product catalog.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (*domain.Product, error)
	GetByCode(ctx context.Context, code string) (*domain.Product, error)
	List(ctx context.Context) ([]*domain.Product, error)
	Create(ctx context.Context, p *domain.Product) error
	Update(ctx context.Context, p *domain.Product) error
}

// ShiftRepository persists shift definitions.
type ShiftRepository interface {
	Get(ctx context.Context, shiftID string) (*domain.Shift, error)
	List(ctx context.Context) ([]*domain.Shift, error)
	Create(ctx context.Context, s *domain.Shift) error
}

// EmployeeRepository persists employees and floating-pool assignments.
type EmployeeRepository interface {
	Get(ctx context.Context, employeeID string) (*domain.Employee, error)
	GetByCode(ctx context.Context, code string) (*domain.Employee, error)
	List(ctx context.Context) ([]*domain.Employee, error)
	Create(ctx context.Context, e *domain.Employee) error
	Assign(ctx context.Context, a *domain.EmployeeAssignment) error
	AssignmentsFor(ctx context.Context, employeeID string) ([]*domain.EmployeeAssignment, error)
}

// WorkOrderRepository persists work orders. Update enforces the optimistic
// version check and surfaces STALE on mismatch.
type WorkOrderRepository interface {
	Get(ctx context.Context, workOrderID string) (*domain.WorkOrder, error)
	List(ctx context.Context, f WorkOrderFilter) ([]*domain.WorkOrder, error)
	Create(ctx context.Context, wo *domain.WorkOrder) error
	Update(ctx context.Context, wo *domain.WorkOrder) error
	Delete(ctx context.Context, workOrderID string) error
}

// ProductionRepository persists production entries.
type ProductionRepository interface {
	Get(ctx context.Context, entryID string) (*domain.ProductionEntry, error)
	List(ctx context.Context, f ProductionFilter) ([]*domain.ProductionEntry, error)
	Create(ctx context.Context, e *domain.ProductionEntry) error
}

// DowntimeRepository persists downtime entries. Open returns the at-most-one
// open entry for a piece of equipment.
type DowntimeRepository interface {
	Get(ctx context.Context, entryID string) (*domain.DowntimeEntry, error)
	List(ctx context.Context, f DowntimeFilter) ([]*domain.DowntimeEntry, error)
	Open(ctx context.Context, equipmentID string) (*domain.DowntimeEntry, error)
	Create(ctx context.Context, e *domain.DowntimeEntry) error
	Update(ctx context.Context, e *domain.DowntimeEntry) error
}

// HoldRepository persists hold entries. Update enforces the version check
// and rejects mutation of resumed holds.
type HoldRepository interface {
	Get(ctx context.Context, holdID string) (*domain.HoldEntry, error)
	List(ctx context.Context, f HoldFilter) ([]*domain.HoldEntry, error)
	ActiveForWorkOrder(ctx context.Context, workOrderID string) ([]*domain.HoldEntry, error)
	Create(ctx context.Context, h *domain.HoldEntry) error
	Update(ctx context.Context, h *domain.HoldEntry) error
}

// AttendanceRepository persists attendance entries with the natural key
// (employee_id, attendance_date, shift_id).
type AttendanceRepository interface {
	List(ctx context.Context, f AttendanceFilter) ([]*domain.AttendanceEntry, error)
	Create(ctx context.Context, e *domain.AttendanceEntry) error
}

// QualityRepository persists inspection records.
type QualityRepository interface {
	List(ctx context.Context, f QualityFilter) ([]*domain.QualityEntry, error)
	Create(ctx context.Context, e *domain.QualityEntry) error
}

// OpportunitiesRepository persists per-product defect opportunities.
type OpportunitiesRepository interface {
	Get(ctx context.Context, productID string) (*domain.PartOpportunities, error)
	Upsert(ctx context.Context, po *domain.PartOpportunities) error
}

// ThresholdRepository persists per-tenant KPI alerting bounds.
type ThresholdRepository interface {
	List(ctx context.Context) ([]*domain.KPIThreshold, error)
	Upsert(ctx context.Context, t *domain.KPIThreshold) error
}

// WorkflowConfigRepository persists activated workflow graphs.
type WorkflowConfigRepository interface {
	Get(ctx context.Context) (*domain.WorkflowConfig, error)
	Save(ctx context.Context, cfg *domain.WorkflowConfig) error
}

// ScheduleRepository persists report schedules.
type ScheduleRepository interface {
	Get(ctx context.Context, scheduleID string) (*domain.ReportSchedule, error)
	ListActive(ctx context.Context) ([]*domain.ReportSchedule, error)
	Save(ctx context.Context, s *domain.ReportSchedule) error
	Touch(ctx context.Context, scheduleID string, ranAt time.Time) error
}

// WorkbookRepository persists capacity worksheets, one versioned row per
// sheet. SaveSheet enforces the expected version and surfaces STALE.
type WorkbookRepository interface {
	GetSheet(ctx context.Context, sheet string) (*domain.WorkbookSheet, error)
	ListSheets(ctx context.Context) ([]*domain.WorkbookSheet, error)
	SaveSheet(ctx context.Context, s *domain.WorkbookSheet, expectedVersion int) error
}
