package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

func scopedTo(clientID string) tenant.Context {
	return tenant.Context{
		Actor: tenant.Actor{
			UserID:           "u-lead",
			Role:             domain.RoleLeader,
			AllowedClientIDs: []string{clientID},
		},
		RequestedClientID: clientID,
		Operation:         "test",
	}
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.Seed(func(add func(row any)) {
		add(&domain.Client{ClientID: "acme", DisplayName: "Acme Apparel", Active: true})
		add(&domain.Client{ClientID: "brightline", DisplayName: "Brightline Mfg", Active: true})
		add(&domain.WorkOrder{
			WorkOrderID: "WO-ACME",
			ClientID:    "acme",
			StyleCode:   "STY-1",
			PlannedQty:  100,
			Status:      domain.StatusReceived,
			Version:     1,
			CreatedAt:   time.Now().UTC(),
		})
		add(&domain.WorkOrder{
			WorkOrderID: "WO-BRIGHT",
			ClientID:    "brightline",
			StyleCode:   "STY-2",
			PlannedQty:  50,
			Status:      domain.StatusReceived,
			Version:     1,
			CreatedAt:   time.Now().UTC(),
		})
	})
	return store
}

func TestWorkOrderReadsStayInsideTenantScope(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	defer uow.Rollback()

	wo, err := uow.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	assert.Equal(t, "STY-1", wo.StyleCode)

	// Another tenant's row is indistinguishable from a missing one.
	_, err = uow.WorkOrders().Get(ctx, "WO-BRIGHT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := uow.WorkOrders().List(ctx, WorkOrderFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "WO-ACME", list[0].WorkOrderID)
}

func TestUpdateEnforcesOptimisticVersion(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	wo, err := uow.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	wo.Priority = 5
	require.NoError(t, uow.WorkOrders().Update(ctx, wo))
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	// A second writer still holding version 1 loses the race.
	stale, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	old := &domain.WorkOrder{
		WorkOrderID: "WO-ACME",
		ClientID:    "acme",
		StyleCode:   "STY-1",
		Status:      domain.StatusReceived,
		Version:     1,
	}
	err = stale.WorkOrders().Update(ctx, old)
	assert.ErrorIs(t, err, domain.ErrStale)
	assert.Equal(t, 1, old.Version, "a failed update must not advance the caller's version")
	require.NoError(t, stale.Rollback())

	fresh, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	defer fresh.Rollback()
	cur, err := fresh.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, 5, cur.Priority)
}

func TestConcurrentCommitDetectsRace(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	first, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	second, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)

	w1, err := first.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	w1.Priority = 1
	require.NoError(t, first.WorkOrders().Update(ctx, w1))

	w2, err := second.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	w2.Priority = 2
	require.NoError(t, second.WorkOrders().Update(ctx, w2))

	_, err = first.Commit(ctx)
	require.NoError(t, err)
	_, err = second.Commit(ctx)
	assert.ErrorIs(t, err, domain.ErrStale)
}

func TestDeleteRestrictedByDependentRows(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	woID := "WO-ACME"

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	require.NoError(t, uow.Production().Create(ctx, &domain.ProductionEntry{
		ClientID:       "acme",
		WorkOrderID:    &woID,
		ProductID:      "P1",
		ProductionDate: time.Now().UTC(),
		UnitsProduced:  10,
		RunTimeHours:   2,
	}))
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	del, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	defer del.Rollback()
	err = del.WorkOrders().Delete(ctx, woID)
	assert.ErrorIs(t, err, domain.ErrDependentRows)
}

func TestCommitPersistsStagedEventsForReplay(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	wo, err := uow.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	uow.Collect(domain.NewWorkOrderStatusChanged(wo, domain.StatusReceived, domain.StatusDispatched, "u-lead"))
	committed, err := uow.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, committed, 1)

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventWorkOrderStatusChanged, pending[0].EventType)
	assert.Equal(t, committed[0].EventID, pending[0].EventID)

	require.NoError(t, store.MarkDispatched(ctx, []string{pending[0].EventID}))
	pending, err = store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRollbackDiscardsOpsAndEvents(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	wo, err := uow.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	wo.Priority = 9
	require.NoError(t, uow.WorkOrders().Update(ctx, wo))
	uow.Collect(domain.NewWorkOrderStatusChanged(wo, domain.StatusReceived, domain.StatusDispatched, "u-lead"))
	require.NoError(t, uow.Rollback())

	fresh, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	defer fresh.Rollback()
	cur, err := fresh.WorkOrders().Get(ctx, "WO-ACME")
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Priority)
	assert.Equal(t, 1, cur.Version)

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCommitTwiceFails(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)
	_, err = uow.Commit(ctx)
	assert.ErrorIs(t, err, domain.ErrInternal)
}
