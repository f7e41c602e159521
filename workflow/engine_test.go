package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

func engineFixture(t *testing.T, orders ...*domain.WorkOrder) (*Engine, *repository.MemoryStore, tenant.Context) {
	t.Helper()
	store := repository.NewMemoryStore()
	store.Seed(func(add func(row any)) {
		add(&domain.Client{ClientID: "acme", DisplayName: "Acme", Active: true})
		for _, wo := range orders {
			add(wo)
		}
	})
	tc := tenant.Context{
		Actor:             tenant.Actor{UserID: "lead-1", Role: domain.RoleLeader, AllowedClientIDs: []string{"acme"}},
		RequestedClientID: "acme",
		Operation:         "test",
	}
	return NewEngine(), store, tc
}

func order(id string, status domain.WorkOrderStatus) *domain.WorkOrder {
	return &domain.WorkOrder{WorkOrderID: id, ClientID: "acme", StyleCode: "STY-1", PlannedQty: 100, Status: status, Version: 1}
}

func TestTransitionOneFollowsGraph(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusReceived))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	wo, err := eng.TransitionOne(ctx, uow, "WO-1", domain.StatusDispatched, "released", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispatched, wo.Status)

	staged := uow.StagedEvents()
	require.Len(t, staged, 1)
	assert.Equal(t, domain.EventWorkOrderStatusChanged, staged[0].Type)
	assert.Equal(t, "RECEIVED", staged[0].Payload["from"])
	assert.Equal(t, "DISPATCHED", staged[0].Payload["to"])

	_, err = uow.Commit(ctx)
	require.NoError(t, err)
}

func TestTransitionOneRejectsOffGraphEdge(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusReceived))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	_, err = eng.TransitionOne(ctx, uow, "WO-1", domain.StatusShipped, "", "lead-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, uow.StagedEvents())
}

func TestTransitionOneRejectsHoldNodeTarget(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusInWIP))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	_, err = eng.TransitionOne(ctx, uow, "WO-1", domain.StatusOnHold, "", "lead-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTransitionOneStampsWIPEntryOnce(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusDispatched))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	wo, err := eng.TransitionOne(ctx, uow, "WO-1", domain.StatusInWIP, "", "lead-1")
	require.NoError(t, err)
	require.NotNil(t, wo.EnteredWIPAt)
	first := *wo.EnteredWIPAt
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	// Rework loop: leaving and re-entering WIP keeps the first entry stamp.
	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	_, err = eng.TransitionOne(ctx, uow, "WO-1", domain.StatusCompleted, "", "lead-1")
	require.NoError(t, err)
	wo, err = eng.TransitionOne(ctx, uow, "WO-1", domain.StatusInWIP, "rework", "lead-1")
	require.NoError(t, err)
	require.NotNil(t, wo.EnteredWIPAt)
	assert.Equal(t, first, *wo.EnteredWIPAt)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)
}

func TestTransitionOneStampsDeliveryOnShip(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusCompleted))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	wo, err := eng.TransitionOne(ctx, uow, "WO-1", domain.StatusShipped, "", "lead-1")
	require.NoError(t, err)
	assert.NotNil(t, wo.ActualDeliveryDate)
}

func TestTransitionBulkSkipsIncompatibleOrders(t *testing.T) {
	eng, store, tc := engineFixture(t,
		order("WO-1", domain.StatusReceived),
		order("WO-2", domain.StatusReceived),
		order("WO-3", domain.StatusCompleted),
	)
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)

	result := eng.TransitionBulk(ctx, uow, []string{"WO-1", "WO-2", "WO-3", "WO-404"}, domain.StatusDispatched, "", "lead-1")
	assert.ElementsMatch(t, []string{"WO-1", "WO-2"}, result.Successful)
	require.Len(t, result.Failed, 2)
	reasons := map[string]string{}
	for _, f := range result.Failed {
		reasons[f.WorkOrderID] = f.Reason
	}
	assert.Equal(t, string(domain.KindInvalidTransition), reasons["WO-3"])
	assert.Equal(t, string(domain.KindNotFound), reasons["WO-404"])

	// Skips never poison the batch: the successful moves commit.
	events, err := uow.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()
	wo3, err := uow.WorkOrders().Get(ctx, "WO-3")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, wo3.Status)
}

func TestHoldRecordsPriorStatusAndCreatesEntry(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusInWIP))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)

	hold, err := eng.Hold(ctx, uow, HoldRequest{
		WorkOrderID:  "WO-1",
		QuantityHeld: 40,
		Reason:       "fabric shade variance",
		Severity:     domain.SeverityHigh,
		InitiatedBy:  "lead-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hold.HoldID)
	assert.Nil(t, hold.ResumedAt)

	events, err := uow.Commit(ctx)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, domain.EventHoldCreated)
	assert.Contains(t, types, domain.EventWorkOrderStatusChanged)

	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()
	wo, err := uow.WorkOrders().Get(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnHold, wo.Status)
	assert.Equal(t, domain.StatusInWIP, wo.ActiveBeforeHold)
}

func TestHoldRejectsDuplicateActiveReason(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusInWIP))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	_, err = eng.Hold(ctx, uow, HoldRequest{WorkOrderID: "WO-1", QuantityHeld: 10, Reason: "shade", Severity: domain.SeverityMedium, InitiatedBy: "lead-1"})
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()
	_, err = eng.Hold(ctx, uow, HoldRequest{WorkOrderID: "WO-1", QuantityHeld: 5, Reason: "shade", Severity: domain.SeverityLow, InitiatedBy: "lead-1"})
	require.ErrorIs(t, err, domain.ErrConflict)

	// A different reason stacks fine on the held order.
	_, err = eng.Hold(ctx, uow, HoldRequest{WorkOrderID: "WO-1", QuantityHeld: 5, Reason: "measurement", Severity: domain.SeverityLow, InitiatedBy: "lead-1"})
	require.NoError(t, err)
}

func TestHoldRejectsTerminalOrder(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusClosed))
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	_, err = eng.Hold(ctx, uow, HoldRequest{WorkOrderID: "WO-1", QuantityHeld: 1, Reason: "late", Severity: domain.SeverityLow, InitiatedBy: "lead-1"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func holdAndCommit(t *testing.T, eng *Engine, store *repository.MemoryStore, tc tenant.Context, req HoldRequest) string {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	hold, err := eng.Hold(ctx, uow, req)
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)
	return hold.HoldID
}

func TestResumeDispositionRouting(t *testing.T) {
	cases := []struct {
		disposition domain.Disposition
		want        domain.WorkOrderStatus
	}{
		{domain.DispositionRelease, domain.StatusInWIP},
		{domain.DispositionUseAsIs, domain.StatusInWIP},
		{domain.DispositionRework, domain.StatusInWIP},
		{domain.DispositionScrap, domain.StatusCancelled},
		{domain.DispositionRTS, domain.StatusCancelled},
	}

	for _, tc2 := range cases {
		t.Run(string(tc2.disposition), func(t *testing.T) {
			eng, store, tc := engineFixture(t, order("WO-1", domain.StatusInWIP))
			ctx := context.Background()
			holdID := holdAndCommit(t, eng, store, tc, HoldRequest{
				WorkOrderID: "WO-1", QuantityHeld: 40, Reason: "shade",
				Severity: domain.SeverityHigh, InitiatedBy: "lead-1",
			})

			uow, err := store.Begin(ctx, tc)
			require.NoError(t, err)
			hold, err := eng.Resume(ctx, uow, ResumeRequest{
				HoldID:      holdID,
				Disposition: tc2.disposition,
				ReleasedQty: 30,
				ApprovedBy:  "qa-1",
				ResumedBy:   "lead-1",
			})
			require.NoError(t, err)
			require.NotNil(t, hold.ResumedAt)
			require.NotNil(t, hold.Disposition)
			assert.Equal(t, tc2.disposition, *hold.Disposition)
			_, err = uow.Commit(ctx)
			require.NoError(t, err)

			uow, err = store.Begin(ctx, tc)
			require.NoError(t, err)
			defer uow.Rollback()
			wo, err := uow.WorkOrders().Get(ctx, "WO-1")
			require.NoError(t, err)
			assert.Equal(t, tc2.want, wo.Status)
			assert.Empty(t, wo.ActiveBeforeHold)
		})
	}
}

func TestResumeLastHoldOut(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusDispatched))
	ctx := context.Background()

	first := holdAndCommit(t, eng, store, tc, HoldRequest{
		WorkOrderID: "WO-1", QuantityHeld: 20, Reason: "shade",
		Severity: domain.SeverityHigh, InitiatedBy: "lead-1",
	})
	second := holdAndCommit(t, eng, store, tc, HoldRequest{
		WorkOrderID: "WO-1", QuantityHeld: 10, Reason: "measurement",
		Severity: domain.SeverityMedium, InitiatedBy: "lead-1",
	})

	// Resuming the first hold leaves the order held by the second.
	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	_, err = eng.Resume(ctx, uow, ResumeRequest{HoldID: first, Disposition: domain.DispositionRelease, ReleasedQty: 20, ResumedBy: "lead-1"})
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	wo, err := uow.WorkOrders().Get(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnHold, wo.Status)
	assert.Equal(t, domain.StatusDispatched, wo.ActiveBeforeHold)

	// Resuming the last hold restores the pre-hold status.
	_, err = eng.Resume(ctx, uow, ResumeRequest{HoldID: second, Disposition: domain.DispositionRelease, ReleasedQty: 10, ResumedBy: "lead-1"})
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()
	wo, err = uow.WorkOrders().Get(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispatched, wo.Status)
}

func TestResumeRejectsResumedHoldAndOverRelease(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusInWIP))
	ctx := context.Background()
	holdID := holdAndCommit(t, eng, store, tc, HoldRequest{
		WorkOrderID: "WO-1", QuantityHeld: 15, Reason: "shade",
		Severity: domain.SeverityLow, InitiatedBy: "lead-1",
	})

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	_, err = eng.Resume(ctx, uow, ResumeRequest{HoldID: holdID, Disposition: domain.DispositionRelease, ReleasedQty: 16, ResumedBy: "lead-1"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = eng.Resume(ctx, uow, ResumeRequest{HoldID: holdID, Disposition: domain.DispositionRelease, ReleasedQty: 15, ResumedBy: "lead-1"})
	require.NoError(t, err)
	_, err = eng.Resume(ctx, uow, ResumeRequest{HoldID: holdID, Disposition: domain.DispositionScrap, ReleasedQty: 0, ResumedBy: "lead-1"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestResumeScrapRecordsLoss(t *testing.T) {
	eng, store, tc := engineFixture(t, order("WO-1", domain.StatusInWIP))
	ctx := context.Background()
	holdID := holdAndCommit(t, eng, store, tc, HoldRequest{
		WorkOrderID: "WO-1", QuantityHeld: 50, Reason: "shade",
		Severity: domain.SeverityCritical, InitiatedBy: "lead-1",
	})

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	_, err = eng.Resume(ctx, uow, ResumeRequest{HoldID: holdID, Disposition: domain.DispositionScrap, ReleasedQty: 10, ResumedBy: "lead-1"})
	require.NoError(t, err)

	var loss any
	for _, ev := range uow.StagedEvents() {
		if ev.Type == domain.EventWorkOrderStatusChanged {
			loss = ev.Payload["lost_quantity"]
		}
	}
	assert.Equal(t, 40, loss)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)
}

func TestActivateConfigStoresAndVersions(t *testing.T) {
	eng, store, tc := engineFixture(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	stored, err := eng.ActivateConfig(ctx, uow, DefaultConfig(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	uow, err = store.Begin(ctx, tc)
	require.NoError(t, err)
	stored, err = eng.ActivateConfig(ctx, uow, DefaultConfig(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)
}

func TestActivateConfigRejectsInvalid(t *testing.T) {
	eng, store, tc := engineFixture(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, tc)
	require.NoError(t, err)
	defer uow.Rollback()

	bad := DefaultConfig()
	bad.Start = "DISPATCHED"
	_, err = eng.ActivateConfig(ctx, uow, bad, "admin-1")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = uow.WorkflowConfigs().Get(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
