package workflow

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Engine executes workflow operations inside a caller-owned unit of work.
// The caller commits or rolls back; the engine only stages rows and events.
type Engine struct {
	now func() time.Time
}

// NewEngine builds the engine.
func NewEngine() *Engine {
	return &Engine{now: func() time.Time { return time.Now().UTC() }}
}

// graphFor loads the tenant's activated graph, falling back to the
// canonical default when none is stored.
func (e *Engine) graphFor(ctx context.Context, uow repository.UnitOfWork) Config {
	stored, err := uow.WorkflowConfigs().Get(ctx)
	if err != nil {
		return DefaultConfig()
	}
	cfg, err := Parse(stored.Definition)
	if err != nil {
		// A stored config that no longer parses is a defect; the default
		// keeps the tenant operational.
		return DefaultConfig()
	}
	return cfg
}

// ActivateConfig validates and stores a tenant workflow override. Invalid
// configs are rejected with the violated rule; nothing is stored.
func (e *Engine) ActivateConfig(ctx context.Context, uow repository.UnitOfWork, cfg Config, by string) (*domain.WorkflowConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	definition, err := cfg.Render()
	if err != nil {
		return nil, err
	}

	version := 1
	if existing, err := uow.WorkflowConfigs().Get(ctx); err == nil {
		version = existing.Version + 1
	}

	stored := &domain.WorkflowConfig{
		Definition:  definition,
		Version:     version,
		ActivatedBy: by,
		ActivatedAt: e.now(),
	}
	if err := uow.WorkflowConfigs().Save(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// TransitionOne moves a work order along one graph edge. Hold nodes are
// entered through Hold and left through Resume, never through a raw
// transition, so the hold/status coupling invariant cannot be broken here.
func (e *Engine) TransitionOne(ctx context.Context, uow repository.UnitOfWork, workOrderID string, to domain.WorkOrderStatus, note, by string) (*domain.WorkOrder, error) {
	if !to.Valid() {
		return nil, domain.Validation("to", "unknown target status")
	}
	wo, err := uow.WorkOrders().Get(ctx, workOrderID)
	if err != nil {
		return nil, err
	}

	cfg := e.graphFor(ctx, uow)
	if cfg.IsHoldNode(to) {
		return nil, domain.Validation("to", "suspend work orders through the hold operation")
	}
	if cfg.IsHoldNode(wo.Status) {
		return nil, domain.InvalidTransition(string(wo.Status), string(to))
	}
	if !cfg.Allows(wo.Status, to) {
		return nil, domain.InvalidTransition(string(wo.Status), string(to))
	}

	from := wo.Status
	wo.Status = to
	e.stampSideEffects(wo, to)
	if err := uow.WorkOrders().Update(ctx, wo); err != nil {
		return nil, err
	}

	ev := domain.NewWorkOrderStatusChanged(wo, from, to, by)
	if note != "" {
		ev.Payload["note"] = note
	}
	uow.Collect(ev)
	return wo, nil
}

func (e *Engine) stampSideEffects(wo *domain.WorkOrder, to domain.WorkOrderStatus) {
	now := e.now()
	if to == domain.StatusInWIP && wo.EnteredWIPAt == nil {
		wo.EnteredWIPAt = &now
	}
	if to == domain.StatusShipped && wo.ActualDeliveryDate == nil {
		wo.ActualDeliveryDate = &now
	}
}

// BulkItemFailure names one skipped work order and why.
type BulkItemFailure struct {
	WorkOrderID string `json:"work_order_id"`
	Reason      string `json:"reason"`
}

// BulkResult is the per-item outcome of a bulk transition.
type BulkResult struct {
	Successful []string          `json:"successful"`
	Failed     []BulkItemFailure `json:"failed"`
}

// TransitionBulk applies the same target status to many work orders.
// Incompatible orders are skipped with a per-item reason; they are not
// rolled back, so one bad id never blocks the batch.
func (e *Engine) TransitionBulk(ctx context.Context, uow repository.UnitOfWork, workOrderIDs []string, to domain.WorkOrderStatus, note, by string) BulkResult {
	var result BulkResult
	for _, id := range lo.Uniq(workOrderIDs) {
		if _, err := e.TransitionOne(ctx, uow, id, to, note, by); err != nil {
			result.Failed = append(result.Failed, BulkItemFailure{
				WorkOrderID: id,
				Reason:      string(domain.KindOf(err)),
			})
			continue
		}
		result.Successful = append(result.Successful, id)
	}
	return result
}

// HoldRequest captures the inputs of a hold operation.
type HoldRequest struct {
	WorkOrderID    string
	QuantityHeld   int
	Reason         string
	Severity       domain.HoldSeverity
	Description    string
	RequiredAction string
	InitiatedBy    string
}

// Hold suspends a work order: the current status is recorded for
// resumption, the order moves to ON_HOLD, and a hold entry is created.
// Additional holds may stack on an already held order, but never two active
// holds with the same reason.
func (e *Engine) Hold(ctx context.Context, uow repository.UnitOfWork, req HoldRequest) (*domain.HoldEntry, error) {
	if req.Reason == "" {
		return nil, domain.Validation("reason", "hold reason is required")
	}
	if !req.Severity.Valid() {
		return nil, domain.Validation("severity", "unknown hold severity")
	}
	if req.QuantityHeld <= 0 {
		return nil, domain.Validation("quantity_held", "held quantity must be positive")
	}

	wo, err := uow.WorkOrders().Get(ctx, req.WorkOrderID)
	if err != nil {
		return nil, err
	}

	cfg := e.graphFor(ctx, uow)
	onHold := cfg.IsHoldNode(wo.Status)
	if !onHold && !cfg.Allows(wo.Status, domain.StatusOnHold) {
		return nil, domain.InvalidTransition(string(wo.Status), string(domain.StatusOnHold))
	}

	active, err := uow.Holds().ActiveForWorkOrder(ctx, req.WorkOrderID)
	if err != nil {
		return nil, err
	}
	for _, h := range active {
		if h.Reason == req.Reason {
			return nil, domain.Conflict("reason", "work order already has an active hold with this reason")
		}
	}

	if !onHold {
		from := wo.Status
		wo.ActiveBeforeHold = wo.Status
		wo.Status = domain.StatusOnHold
		if err := uow.WorkOrders().Update(ctx, wo); err != nil {
			return nil, err
		}
		uow.Collect(domain.NewWorkOrderStatusChanged(wo, from, domain.StatusOnHold, req.InitiatedBy))
	}

	hold := &domain.HoldEntry{
		ClientID:       wo.ClientID,
		WorkOrderID:    wo.WorkOrderID,
		QuantityHeld:   req.QuantityHeld,
		Reason:         req.Reason,
		Severity:       req.Severity,
		Description:    req.Description,
		RequiredAction: req.RequiredAction,
		InitiatedBy:    req.InitiatedBy,
		InitiatedAt:    e.now(),
	}
	if err := uow.Holds().Create(ctx, hold); err != nil {
		return nil, err
	}
	uow.Collect(domain.NewHoldCreated(hold))
	return hold, nil
}

// ResumeRequest captures the inputs of a resume operation.
type ResumeRequest struct {
	HoldID      string
	Disposition domain.Disposition
	ReleasedQty int
	ApprovedBy  string
	Notes       string
	ResumedBy   string
}

// Resume closes a hold with a disposition. The work order leaves ON_HOLD
// only when its last active hold resumes; the follow-on status depends on
// the disposition: REWORK returns to IN_WIP, RELEASE and USE_AS_IS restore
// the pre-hold status, SCRAP and RTS cancel the order with the loss
// recorded on the event.
func (e *Engine) Resume(ctx context.Context, uow repository.UnitOfWork, req ResumeRequest) (*domain.HoldEntry, error) {
	if !req.Disposition.Valid() {
		return nil, domain.Validation("disposition", "unknown disposition")
	}

	hold, err := uow.Holds().Get(ctx, req.HoldID)
	if err != nil {
		return nil, err
	}
	if hold.ResumedAt != nil {
		return nil, domain.Conflict("hold_resumed", "hold was already resumed")
	}
	if req.ReleasedQty < 0 || req.ReleasedQty > hold.QuantityHeld {
		return nil, domain.Validation("released_quantity", "released quantity exceeds held quantity")
	}

	now := e.now()
	disposition := req.Disposition
	hold.ResumedAt = &now
	hold.Disposition = &disposition
	hold.ReleasedQuantity = &req.ReleasedQty
	if req.ApprovedBy != "" {
		hold.ApprovedBy = &req.ApprovedBy
	}
	hold.Notes = req.Notes
	if err := uow.Holds().Update(ctx, hold); err != nil {
		return nil, err
	}
	uow.Collect(domain.NewHoldResumed(hold, req.ResumedBy))

	remaining, err := uow.Holds().ActiveForWorkOrder(ctx, hold.WorkOrderID)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		// Overlapping holds: the order returns to normal flow only when the
		// last one resumes.
		return hold, nil
	}

	wo, err := uow.WorkOrders().Get(ctx, hold.WorkOrderID)
	if err != nil {
		return nil, err
	}
	next := resumeTarget(disposition, wo.ActiveBeforeHold)
	from := wo.Status
	wo.Status = next
	wo.ActiveBeforeHold = ""
	e.stampSideEffects(wo, next)
	if err := uow.WorkOrders().Update(ctx, wo); err != nil {
		return nil, err
	}

	ev := domain.NewWorkOrderStatusChanged(wo, from, next, req.ResumedBy)
	ev.Payload["disposition"] = string(disposition)
	if disposition == domain.DispositionScrap || disposition == domain.DispositionRTS {
		ev.Payload["lost_quantity"] = hold.QuantityHeld - req.ReleasedQty
	}
	uow.Collect(ev)
	return hold, nil
}

func resumeTarget(d domain.Disposition, before domain.WorkOrderStatus) domain.WorkOrderStatus {
	switch d {
	case domain.DispositionRework:
		return domain.StatusInWIP
	case domain.DispositionScrap, domain.DispositionRTS:
		return domain.StatusCancelled
	default:
		if before == "" {
			return domain.StatusReceived
		}
		return before
	}
}
