package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type names. Handlers match on these; the KPI cache invalidation map
// and the critical set are keyed by them.
const (
	EventWorkOrderStatusChanged   = "WorkOrderStatusChanged"
	EventProductionEntryCreated   = "ProductionEntryCreated"
	EventQualityRecorded          = "QualityInspectionRecorded"
	EventDowntimeClosed           = "DowntimeClosed"
	EventHoldCreated              = "HoldCreated"
	EventHoldResumed              = "HoldResumed"
	EventKPIThresholdViolated     = "KPIThresholdViolated"
	EventTenantBypassUsed         = "TenantBypassUsed"
	EventAttendanceEntryCreated   = "AttendanceEntryCreated"
	EventWorkOrderCreated         = "WorkOrderCreated"
	EventPartOpportunitiesCreated = "PartOpportunitiesCreated"
)

// Event is a domain occurrence staged on a unit of work and flushed on
// commit. ClientID is nil for system-level events. Payload values must be
// JSON-serializable; the event store renders them as the persisted payload.
type Event struct {
	EventID       string         `json:"event_id"`
	Type          string         `json:"event_type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	ClientID      *string        `json:"client_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	TriggeredBy   *string        `json:"triggered_by,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// Critical reports whether the event must not be dropped under queue
// pressure. Critical events block enqueueing for a bounded wait and fall
// back to the dead-letter list instead of silent loss.
func (e Event) Critical() bool {
	switch e.Type {
	case EventKPIThresholdViolated, EventHoldCreated:
		return true
	}
	return false
}

// NewEvent builds an event with a fresh id and timestamp. The remaining
// fields come from the specific constructors below.
func NewEvent(eventType, aggregateType, aggregateID string) Event {
	return Event{
		EventID:       uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       map[string]any{},
	}
}

func (e Event) withClient(clientID string) Event {
	e.ClientID = &clientID
	return e
}

func (e Event) withActor(userID string) Event {
	if userID != "" {
		e.TriggeredBy = &userID
	}
	return e
}

// NewWorkOrderStatusChanged reports a transition of one work order.
func NewWorkOrderStatusChanged(wo *WorkOrder, from, to WorkOrderStatus, by string) Event {
	ev := NewEvent(EventWorkOrderStatusChanged, "WorkOrder", wo.WorkOrderID).
		withClient(wo.ClientID).withActor(by)
	ev.Payload["from"] = string(from)
	ev.Payload["to"] = string(to)
	return ev
}

// NewProductionEntryCreated carries the key metrics of a fresh entry.
func NewProductionEntryCreated(entry *ProductionEntry) Event {
	ev := NewEvent(EventProductionEntryCreated, "ProductionEntry", entry.EntryID).
		withClient(entry.ClientID).withActor(entry.CreatedBy)
	ev.Payload["product_id"] = entry.ProductID
	ev.Payload["units_produced"] = entry.UnitsProduced
	ev.Payload["run_time_hours"] = entry.RunTimeHours
	ev.Payload["defect_count"] = entry.DefectCount
	return ev
}

// NewQualityRecorded reports an inspection with its first-pass-yield delta.
func NewQualityRecorded(entry *QualityEntry, by string) Event {
	ev := NewEvent(EventQualityRecorded, "QualityEntry", entry.EntryID).
		withClient(entry.ClientID).withActor(by)
	ev.Payload["stage"] = string(entry.InspectionStage)
	if entry.InspectedQty > 0 {
		ev.Payload["fpy_delta"] = float64(entry.InspectedQty-entry.DefectQty) / float64(entry.InspectedQty) * 100
	}
	return ev
}

// NewDowntimeClosed reports a downtime entry receiving its end timestamp.
func NewDowntimeClosed(entry *DowntimeEntry, by string) Event {
	ev := NewEvent(EventDowntimeClosed, "DowntimeEntry", entry.EntryID).
		withClient(entry.ClientID).withActor(by)
	ev.Payload["equipment_id"] = entry.EquipmentID
	ev.Payload["duration_minutes"] = entry.DurationMinutes
	ev.Payload["category"] = string(entry.Category)
	return ev
}

// NewHoldCreated reports a new hold. Critical: notification relays must see it.
func NewHoldCreated(hold *HoldEntry) Event {
	ev := NewEvent(EventHoldCreated, "HoldEntry", hold.HoldID).
		withClient(hold.ClientID).withActor(hold.InitiatedBy)
	ev.Payload["work_order_id"] = hold.WorkOrderID
	ev.Payload["severity"] = string(hold.Severity)
	ev.Payload["quantity_held"] = hold.QuantityHeld
	return ev
}

// NewHoldResumed reports a hold resolution with its disposition.
func NewHoldResumed(hold *HoldEntry, by string) Event {
	ev := NewEvent(EventHoldResumed, "HoldEntry", hold.HoldID).
		withClient(hold.ClientID).withActor(by)
	ev.Payload["work_order_id"] = hold.WorkOrderID
	if hold.Disposition != nil {
		ev.Payload["disposition"] = string(*hold.Disposition)
	}
	return ev
}

// NewKPIThresholdViolated reports an indicator crossing its configured bound.
func NewKPIThresholdViolated(clientID string, kpi KPIID, value, threshold float64, window string) Event {
	ev := NewEvent(EventKPIThresholdViolated, "KPI", string(kpi)).withClient(clientID)
	ev.Payload["kpi"] = string(kpi)
	ev.Payload["value"] = value
	ev.Payload["threshold"] = threshold
	ev.Payload["window"] = window
	return ev
}

// NewTenantBypassUsed audits a cross-tenant read or write performed under the
// ADMIN/POWER_USER capability.
func NewTenantBypassUsed(userID, operation, targetClient string) Event {
	ev := NewEvent(EventTenantBypassUsed, "User", userID).withActor(userID)
	ev.Payload["operation"] = operation
	ev.Payload["target_client_id"] = targetClient
	return ev
}

// NewAttendanceEntryCreated reports an ingested attendance row.
func NewAttendanceEntryCreated(entry *AttendanceEntry, by string) Event {
	ev := NewEvent(EventAttendanceEntryCreated, "AttendanceEntry", entry.EntryID).
		withClient(entry.ClientID).withActor(by)
	ev.Payload["employee_id"] = entry.EmployeeID
	ev.Payload["status"] = string(entry.Status)
	return ev
}

// NewWorkOrderCreated reports a work order arriving through ingestion.
func NewWorkOrderCreated(wo *WorkOrder, by string) Event {
	ev := NewEvent(EventWorkOrderCreated, "WorkOrder", wo.WorkOrderID).
		withClient(wo.ClientID).withActor(by)
	ev.Payload["style_code"] = wo.StyleCode
	ev.Payload["planned_qty"] = wo.PlannedQty
	return ev
}

// NewPartOpportunitiesCreated reports an ingested opportunities declaration.
func NewPartOpportunitiesCreated(po *PartOpportunities, by string) Event {
	ev := NewEvent(EventPartOpportunitiesCreated, "PartOpportunities", po.ProductID).
		withClient(po.ClientID).withActor(by)
	ev.Payload["opportunities_per_unit"] = po.OpportunitiesPerUnit
	return ev
}

// Record converts the event to its append-only persisted form. Payload
// rendering is owned by the store so marshalling failures surface there.
func (e Event) Record(payload []byte) EventRecord {
	return EventRecord{
		EventID:       e.EventID,
		EventType:     e.Type,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		ClientID:      e.ClientID,
		OccurredAt:    e.OccurredAt,
		TriggeredBy:   e.TriggeredBy,
		Payload:       payload,
	}
}
