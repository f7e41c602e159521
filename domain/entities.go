// Package domain holds the persisted model of the platform: reference and
// transactional entities, enumerations, domain events and the error
// taxonomy. Every business table carries ClientID, and every composite index
// used for scoped queries leads with it.
package domain

import "time"

// Client is a manufacturing site, the isolation boundary of the platform.
// Clients are never hard-deleted, only deactivated.
type Client struct {
	ClientID             string    `gorm:"primaryKey;column:client_id" json:"client_id"`
	DisplayName          string    `gorm:"not null" json:"display_name"`
	Timezone             string    `gorm:"default:UTC" json:"timezone"`
	Active               bool      `gorm:"default:true" json:"active"`
	AllowOverPerformance bool      `gorm:"default:false" json:"allow_over_performance"`
	CreatedAt            time.Time `json:"created_at"`
}

// User is an authenticated actor. AssignedClientIDs is kept as join rows
// (UserClient) so membership can be indexed; the slice is populated on load.
type User struct {
	UserID       string    `gorm:"primaryKey;column:user_id" json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"not null" json:"role"`
	Active       bool      `gorm:"default:true" json:"active"`
	CreatedAt    time.Time `json:"created_at"`

	AssignedClientIDs []string `gorm:"-" json:"assigned_client_ids"`
}

// UserClient is the membership row backing User.AssignedClientIDs.
type UserClient struct {
	UserID   string `gorm:"primaryKey;column:user_id"`
	ClientID string `gorm:"primaryKey;column:client_id"`
}

// Product is the catalog entry for a producible item. IdealCycleTime is the
// first link of the cycle-time inference chain and may be absent.
type Product struct {
	ProductID             string    `gorm:"primaryKey;column:product_id" json:"product_id"`
	ClientID              string    `gorm:"uniqueIndex:uq_product_code;not null" json:"client_id"`
	Code                  string    `gorm:"uniqueIndex:uq_product_code;not null" json:"code"`
	Description           string    `json:"description"`
	IdealCycleTimeMinutes *float64  `json:"ideal_cycle_time_minutes,omitempty"`
	Active                bool      `gorm:"default:true" json:"active"`
	CreatedAt             time.Time `json:"created_at"`
}

// Shift defines a working window. Scheduled breaks are excluded from the
// availability denominator.
type Shift struct {
	ShiftID               string `gorm:"primaryKey;column:shift_id" json:"shift_id"`
	ClientID              string `gorm:"index;not null" json:"client_id"`
	Name                  string `json:"name"`
	StartLocal            string `json:"start_local"`
	EndLocal              string `json:"end_local"`
	ScheduledBreakMinutes int    `json:"scheduled_break_minutes"`
}

// Employee is a worker. Floating-pool employees have no home client and are
// scoped per assignment instead.
type Employee struct {
	EmployeeID     string  `gorm:"primaryKey;column:employee_id" json:"employee_id"`
	ClientID       *string `gorm:"index" json:"client_id,omitempty"`
	Code           string  `gorm:"index" json:"code"`
	Name           string  `json:"name"`
	Active         bool    `gorm:"default:true" json:"active"`
	IsFloatingPool bool    `gorm:"default:false" json:"is_floating_pool"`
}

// EmployeeAssignment is a time-bounded capability granting a floating-pool
// employee scope within a client. Attendance rows for floating employees are
// visible to a tenant only through a covering assignment.
type EmployeeAssignment struct {
	AssignmentID string     `gorm:"primaryKey;column:assignment_id" json:"assignment_id"`
	EmployeeID   string     `gorm:"index:idx_assign_emp;not null" json:"employee_id"`
	ClientID     string     `gorm:"index:idx_assign_client;not null" json:"client_id"`
	FromDate     time.Time  `gorm:"type:date" json:"from_date"`
	ToDate       *time.Time `gorm:"type:date" json:"to_date,omitempty"`
}

// WorkOrder is the unit of production demand. Status transitions obey the
// workflow graph; Version backs optimistic locking on every mutation.
type WorkOrder struct {
	WorkOrderID           string          `gorm:"primaryKey;column:work_order_id" json:"work_order_id"`
	ClientID              string          `gorm:"index:idx_wo_client_status;not null" json:"client_id"`
	StyleCode             string          `json:"style_code"`
	PlannedQty            int             `json:"planned_qty"`
	PlannedShipDate       *time.Time      `gorm:"type:date" json:"planned_ship_date,omitempty"`
	RequiredDate          *time.Time      `gorm:"type:date" json:"required_date,omitempty"`
	ActualDeliveryDate    *time.Time      `gorm:"type:date" json:"actual_delivery_date,omitempty"`
	Status                WorkOrderStatus `gorm:"index:idx_wo_client_status;not null;default:RECEIVED" json:"status"`
	ActiveBeforeHold      WorkOrderStatus `json:"active_before_hold,omitempty"`
	Priority              int             `gorm:"default:0" json:"priority"`
	IdealCycleTimeMinutes *float64        `json:"ideal_cycle_time_minutes,omitempty"`
	EnteredWIPAt          *time.Time      `json:"entered_wip_at,omitempty"`
	Version               int             `gorm:"default:1" json:"version"`
	CreatedAt             time.Time       `json:"created_at"`
}

// ProductionEntry is one shop-floor production observation.
// ActualCycleTimeMinutes is derived at creation from run time and units.
type ProductionEntry struct {
	EntryID                string    `gorm:"primaryKey;column:entry_id" json:"entry_id"`
	ClientID               string    `gorm:"index:idx_prod_client_date;not null" json:"client_id"`
	WorkOrderID            *string   `gorm:"index" json:"work_order_id,omitempty"`
	ProductID              string    `gorm:"index;not null" json:"product_id"`
	ShiftID                string    `json:"shift_id"`
	ProductionDate         time.Time `gorm:"index:idx_prod_client_date;type:date" json:"production_date"`
	UnitsProduced          int       `json:"units_produced"`
	RunTimeHours           float64   `json:"run_time_hours"`
	EmployeesAssigned      int       `json:"employees_assigned"`
	DefectCount            int       `json:"defect_count"`
	ScrapCount             int       `json:"scrap_count"`
	ActualCycleTimeMinutes float64   `json:"actual_cycle_time_minutes"`
	CreatedBy              string    `json:"created_by"`
	CreatedAt              time.Time `json:"created_at"`
}

// DowntimeEntry records an equipment stoppage. At most one open entry per
// equipment; DurationMinutes is derived when the entry closes.
type DowntimeEntry struct {
	EntryID         string           `gorm:"primaryKey;column:entry_id" json:"entry_id"`
	ClientID        string           `gorm:"index:idx_down_client_start;not null" json:"client_id"`
	EquipmentID     string           `gorm:"index;not null" json:"equipment_id"`
	ReasonCode      string           `json:"reason_code"`
	Category        DowntimeCategory `json:"category"`
	StartAt         time.Time        `gorm:"index:idx_down_client_start" json:"start_at"`
	EndAt           *time.Time       `json:"end_at,omitempty"`
	DurationMinutes float64          `json:"duration_minutes"`
}

// HoldEntry captures suspended WIP. A work order is ON_HOLD exactly while it
// has at least one entry with ResumedAt nil. Resumed entries are immutable.
type HoldEntry struct {
	HoldID           string       `gorm:"primaryKey;column:hold_id" json:"hold_id"`
	ClientID         string       `gorm:"index:idx_hold_client;not null" json:"client_id"`
	WorkOrderID      string       `gorm:"index;not null" json:"work_order_id"`
	QuantityHeld     int          `json:"quantity_held"`
	Reason           string       `json:"reason"`
	Severity         HoldSeverity `json:"severity"`
	Description      string       `json:"description"`
	RequiredAction   string       `json:"required_action"`
	InitiatedBy      string       `json:"initiated_by"`
	InitiatedAt      time.Time    `json:"initiated_at"`
	ResumedAt        *time.Time   `json:"resumed_at,omitempty"`
	Disposition      *Disposition `json:"disposition,omitempty"`
	ReleasedQuantity *int         `json:"released_quantity,omitempty"`
	ApprovedBy       *string      `json:"approved_by,omitempty"`
	Notes            string       `json:"notes"`
	Version          int          `gorm:"default:1" json:"version"`
}

// AttendanceEntry is a per-employee, per-shift attendance observation.
type AttendanceEntry struct {
	EntryID        string           `gorm:"primaryKey;column:entry_id" json:"entry_id"`
	ClientID       string           `gorm:"index:idx_att_client_date;not null" json:"client_id"`
	EmployeeID     string           `gorm:"uniqueIndex:uq_attendance;not null" json:"employee_id"`
	AttendanceDate time.Time        `gorm:"uniqueIndex:uq_attendance;index:idx_att_client_date;type:date" json:"attendance_date"`
	ShiftID        string           `gorm:"uniqueIndex:uq_attendance" json:"shift_id"`
	Status         AttendanceStatus `json:"status"`
	AbsenceReason  *string          `json:"absence_reason,omitempty"`
	IsExcused      bool             `json:"is_excused"`
	ScheduledHours float64          `json:"scheduled_hours"`
	ActualHours    float64          `json:"actual_hours"`
	ClockIn        *time.Time       `json:"clock_in,omitempty"`
	ClockOut       *time.Time       `json:"clock_out,omitempty"`
}

// QualityEntry is one inspection record.
type QualityEntry struct {
	EntryID             string          `gorm:"primaryKey;column:entry_id" json:"entry_id"`
	ClientID            string          `gorm:"index:idx_qual_client_at;not null" json:"client_id"`
	WorkOrderID         string          `gorm:"index" json:"work_order_id"`
	ProductID           string          `json:"product_id"`
	InspectedQty        int             `json:"inspected_qty"`
	DefectQty           int             `json:"defect_qty"`
	RejectedQty         int             `json:"rejected_qty"`
	InspectionStage     InspectionStage `json:"inspection_stage"`
	PrimaryDefectTypeID *string         `json:"primary_defect_type_id,omitempty"`
	Severity            string          `json:"severity"`
	Disposition         string          `json:"disposition"`
	InspectorID         string          `json:"inspector_id"`
	InspectedAt         time.Time       `gorm:"index:idx_qual_client_at" json:"inspected_at"`
}

// PartOpportunities declares defect opportunities per unit for DPMO.
type PartOpportunities struct {
	ClientID             string  `gorm:"primaryKey;column:client_id" json:"client_id"`
	ProductID            string  `gorm:"primaryKey;column:product_id" json:"product_id"`
	OpportunitiesPerUnit float64 `gorm:"not null" json:"opportunities_per_unit"`
}

// DefectType is a catalog entry; ClientID nil means the global catalog.
type DefectType struct {
	DefectTypeID    string  `gorm:"primaryKey;column:defect_type_id" json:"defect_type_id"`
	ClientID        *string `gorm:"index" json:"client_id,omitempty"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	DefaultSeverity string  `json:"default_severity"`
	Active          bool    `gorm:"default:true" json:"active"`
}

// KPIThreshold is a per-tenant alerting bound for one indicator. A violation
// emits KPIThresholdViolated through the event bus.
type KPIThreshold struct {
	ClientID string   `gorm:"primaryKey;column:client_id" json:"client_id"`
	KPI      KPIID    `gorm:"primaryKey;column:kpi" json:"kpi"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// WorkflowConfig stores a tenant's activated workflow graph as YAML. Only
// configs that passed validation are ever stored.
type WorkflowConfig struct {
	ClientID    string    `gorm:"primaryKey;column:client_id" json:"client_id"`
	Definition  string    `gorm:"type:text;not null" json:"definition"`
	Version     int       `gorm:"default:1" json:"version"`
	ActivatedBy string    `json:"activated_by"`
	ActivatedAt time.Time `json:"activated_at"`
}

// ReportSchedule drives periodic report delivery for one tenant. LastRunAt
// lets a restart fire at most one catch-up run per missed interval.
type ReportSchedule struct {
	ScheduleID string     `gorm:"primaryKey;column:schedule_id" json:"schedule_id"`
	ClientID   string     `gorm:"index;not null" json:"client_id"`
	Kind       string     `gorm:"not null" json:"kind"`
	Spec       string     `gorm:"not null" json:"spec"`
	Format     string     `gorm:"default:pdf" json:"format"`
	Active     bool       `gorm:"default:true" json:"active"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
}

// WorkbookSheet is one persisted capacity worksheet: the ordered rows as
// JSON plus an optimistic version. One workbook per tenant, one row per
// sheet name.
type WorkbookSheet struct {
	ClientID  string    `gorm:"primaryKey;column:client_id" json:"client_id"`
	Sheet     string    `gorm:"primaryKey;column:sheet" json:"sheet"`
	Rows      []byte    `gorm:"type:jsonb" json:"rows"`
	Version   int       `gorm:"default:1" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventRecord is the append-only persisted form of a domain event. Rows are
// written atomically with the unit of work that collected them and are never
// mutated afterwards.
type EventRecord struct {
	EventID       string    `gorm:"primaryKey;column:event_id" json:"event_id"`
	EventType     string    `gorm:"index;not null" json:"event_type"`
	AggregateType string    `gorm:"index:idx_event_aggregate;not null" json:"aggregate_type"`
	AggregateID   string    `gorm:"index:idx_event_aggregate;not null" json:"aggregate_id"`
	ClientID      *string   `gorm:"index" json:"client_id,omitempty"`
	OccurredAt    time.Time `gorm:"index:idx_event_aggregate" json:"occurred_at"`
	TriggeredBy   *string   `json:"triggered_by,omitempty"`
	Payload       []byte    `gorm:"type:jsonb" json:"payload"`
	Dispatched    bool      `gorm:"default:false;index" json:"dispatched"`
}
