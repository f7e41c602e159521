package capacity

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/db/bolt"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

func planner() tenant.Context {
	return tenant.Context{
		Actor:             tenant.Actor{UserID: "planner-1", Role: domain.RoleLeader, AllowedClientIDs: []string{"acme"}},
		RequestedClientID: "acme",
		Operation:         "capacity.session",
	}
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	orders, err := json.Marshal([]OrderRow{
		{OrderID: "ORD-1", ProductCode: "SHIRT", Qty: 200, DueDate: time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), Priority: 1},
	})
	require.NoError(t, err)
	lines, err := json.Marshal([]LineRow{
		{LineID: "L1", Name: "Sewing 1", CapacityUnitsPerHour: 60, Active: true},
	})
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	store.Seed(func(add func(row any)) {
		add(&domain.Client{ClientID: "acme", DisplayName: "Acme", Active: true})
		add(&domain.WorkbookSheet{ClientID: "acme", Sheet: SheetOrders, Rows: orders, Version: 3})
		add(&domain.WorkbookSheet{ClientID: "acme", Sheet: SheetProductionLines, Rows: lines, Version: 1})
	})
	return store
}

func drafts(t *testing.T) *bolt.SessionStore {
	t.Helper()
	ds, err := bolt.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestSessionLoadsCommittedWorkbook(t *testing.T) {
	m := NewManager(seededStore(t), nil, 0)

	s, err := m.Open(context.Background(), planner(), "draft-1")
	require.NoError(t, err)

	require.Len(t, s.Workbook().Orders, 1)
	assert.Equal(t, "ORD-1", s.Workbook().Orders[0].OrderID)
	assert.Equal(t, 3, s.Workbook().Versions[SheetOrders])
	assert.Equal(t, 1, s.Workbook().Versions[SheetProductionLines])
}

func TestSessionUndoRedo(t *testing.T) {
	m := NewManager(seededStore(t), nil, 0)
	s, err := m.Open(context.Background(), planner(), "draft-1")
	require.NoError(t, err)

	require.NoError(t, s.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = 250
		return nil
	}))
	require.NoError(t, s.Mutate(func(w *Workbook) error {
		w.Orders = append(w.Orders, OrderRow{OrderID: "ORD-2", ProductCode: "SHIRT", Qty: 100})
		return nil
	}))

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, s.Workbook().Orders, 1)
	assert.Equal(t, 250, s.Workbook().Orders[0].Qty)

	ok, err = s.Redo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, s.Workbook().Orders, 2)

	// A new mutation clears the redo stack.
	ok, err = s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = 300
		return nil
	}))
	ok, err = s.Redo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionMutateErrorLeavesStateUntouched(t *testing.T) {
	m := NewManager(seededStore(t), nil, 0)
	s, err := m.Open(context.Background(), planner(), "draft-1")
	require.NoError(t, err)

	boom := domain.Validation("qty", "quantity must be positive")
	err = s.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = -1
		return boom
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 200, s.Workbook().Orders[0].Qty)

	ok, err := s.Undo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionHistoryBounded(t *testing.T) {
	m := NewManager(seededStore(t), nil, 3)
	s, err := m.Open(context.Background(), planner(), "draft-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		qty := 210 + i
		require.NoError(t, s.Mutate(func(w *Workbook) error {
			w.Orders[0].Qty = qty
			return nil
		}))
	}

	steps := 0
	for {
		ok, err := s.Undo()
		require.NoError(t, err)
		if !ok {
			break
		}
		steps++
	}
	assert.Equal(t, 3, steps)
	// The oldest reachable snapshot is two mutations in, not the original.
	assert.Equal(t, 211, s.Workbook().Orders[0].Qty)
}

func TestSessionSaveCommitsDirtySheetsOnly(t *testing.T) {
	store := seededStore(t)
	m := NewManager(store, nil, 0)
	ctx := context.Background()

	s, err := m.Open(ctx, planner(), "draft-1")
	require.NoError(t, err)
	require.NoError(t, s.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = 400
		return nil
	}))

	dirty, err := s.DirtySheets()
	require.NoError(t, err)
	assert.Equal(t, []string{SheetOrders}, dirty)

	require.NoError(t, s.Save(ctx, planner()))
	assert.Equal(t, 4, s.Workbook().Versions[SheetOrders])
	assert.Equal(t, 1, s.Workbook().Versions[SheetProductionLines])

	// Saving again with nothing dirty is a no-op.
	require.NoError(t, s.Save(ctx, planner()))
	assert.Equal(t, 4, s.Workbook().Versions[SheetOrders])

	// A fresh session sees the committed edit.
	fresh, err := m.Open(ctx, planner(), "draft-2")
	require.NoError(t, err)
	assert.Equal(t, 400, fresh.Workbook().Orders[0].Qty)
}

func TestSessionSaveStaleOnConcurrentEdit(t *testing.T) {
	store := seededStore(t)
	m := NewManager(store, nil, 0)
	ctx := context.Background()

	first, err := m.Open(ctx, planner(), "draft-1")
	require.NoError(t, err)
	second, err := m.Open(ctx, planner(), "draft-2")
	require.NoError(t, err)

	require.NoError(t, first.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = 500
		return nil
	}))
	require.NoError(t, first.Save(ctx, planner()))

	require.NoError(t, second.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = 600
		return nil
	}))
	err = second.Save(ctx, planner())
	require.ErrorIs(t, err, domain.ErrStale)

	// The losing save committed nothing.
	fresh, err := m.Open(ctx, planner(), "draft-3")
	require.NoError(t, err)
	assert.Equal(t, 500, fresh.Workbook().Orders[0].Qty)
}

func TestSessionDraftSurvivesReopen(t *testing.T) {
	store := seededStore(t)
	ds := drafts(t)
	m := NewManager(store, ds, 0)
	ctx := context.Background()

	s, err := m.Open(ctx, planner(), "draft-1")
	require.NoError(t, err)
	require.NoError(t, s.Mutate(func(w *Workbook) error {
		w.Orders[0].Qty = 999
		return nil
	}))

	// Reopening the same session id resumes the draft, undo stack included.
	again, err := m.Open(ctx, planner(), "draft-1")
	require.NoError(t, err)
	assert.Equal(t, 999, again.Workbook().Orders[0].Qty)

	ok, err := again.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200, again.Workbook().Orders[0].Qty)

	// Discard drops the draft; the next open reloads committed state.
	require.NoError(t, again.Discard())
	clean, err := m.Open(ctx, planner(), "draft-1")
	require.NoError(t, err)
	assert.Equal(t, 200, clean.Workbook().Orders[0].Qty)
}
