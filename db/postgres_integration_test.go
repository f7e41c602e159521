//go:build integration

package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ccmanuelf/kpi-operations-sub013/config"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable",
		host, port.Port())
}

func migratedStore(t *testing.T) *repository.GormStore {
	t.Helper()
	gdb, err := Open(config.DatabaseConfig{URL: startPostgres(t)})
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	require.NoError(t, gdb.Create(&domain.Client{
		ClientID:    "acme",
		DisplayName: "Acme Apparel",
		Timezone:    "UTC",
		Active:      true,
	}).Error)
	require.NoError(t, gdb.Create(&domain.Client{
		ClientID:    "brightline",
		DisplayName: "Brightline Mfg",
		Timezone:    "UTC",
		Active:      true,
	}).Error)

	store := repository.NewGormStore(gdb)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func scopedTo(clientID string) tenant.Context {
	return tenant.Context{
		Actor: tenant.Actor{
			UserID:           "u-lead",
			Role:             domain.RoleLeader,
			AllowedClientIDs: []string{clientID},
		},
		RequestedClientID: clientID,
		Operation:         "integration-test",
	}
}

func TestIntegrationMigrateCreatesScopedSchema(t *testing.T) {
	gdb, err := Open(config.DatabaseConfig{URL: startPostgres(t)})
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	for _, table := range []string{
		"clients", "users", "work_orders", "production_entries",
		"hold_entries", "event_records", "workbook_sheets",
	} {
		var exists bool
		err := gdb.Raw(
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?)",
			table,
		).Scan(&exists).Error
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	// Every business table carries the tenant column.
	var col string
	err = gdb.Raw(
		"SELECT column_name FROM information_schema.columns WHERE table_name = 'work_orders' AND column_name = 'client_id'",
	).Scan(&col).Error
	require.NoError(t, err)
	assert.Equal(t, "client_id", col)
}

func TestIntegrationWorkOrderLifecycle(t *testing.T) {
	store := migratedStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	wo := &domain.WorkOrder{
		WorkOrderID: "WO-IT-1",
		ClientID:    "acme",
		StyleCode:   "STY-9",
		PlannedQty:  200,
		Status:      domain.StatusReceived,
		Version:     1,
	}
	require.NoError(t, uow.WorkOrders().Create(ctx, wo))
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	// Scoped read from another tenant must not see the row.
	other, err := store.Begin(ctx, scopedTo("brightline"))
	require.NoError(t, err)
	_, err = other.WorkOrders().Get(ctx, "WO-IT-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, other.Rollback())

	// Optimistic update: the stored version gates the write.
	first, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	got, err := first.WorkOrders().Get(ctx, "WO-IT-1")
	require.NoError(t, err)
	got.Status = domain.StatusDispatched
	require.NoError(t, first.WorkOrders().Update(ctx, got))
	_, err = first.Commit(ctx)
	require.NoError(t, err)

	stale, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	err = stale.WorkOrders().Update(ctx, &domain.WorkOrder{
		WorkOrderID: "WO-IT-1",
		ClientID:    "acme",
		Status:      domain.StatusInWIP,
		Version:     1,
	})
	if err == nil {
		_, err = stale.Commit(ctx)
	} else {
		_ = stale.Rollback()
	}
	assert.ErrorIs(t, err, domain.ErrStale)
}

func TestIntegrationEventStoreRoundTrip(t *testing.T) {
	store := migratedStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx, scopedTo("acme"))
	require.NoError(t, err)
	wo := &domain.WorkOrder{
		WorkOrderID: "WO-IT-EV",
		ClientID:    "acme",
		Status:      domain.StatusReceived,
		Version:     1,
	}
	require.NoError(t, uow.WorkOrders().Create(ctx, wo))
	uow.Collect(domain.NewWorkOrderCreated(wo, "u-lead"))
	committed, err := uow.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, committed, 1)

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventWorkOrderCreated, pending[0].EventType)
	assert.Equal(t, committed[0].EventID, pending[0].EventID)

	require.NoError(t, store.MarkDispatched(ctx, []string{pending[0].EventID}))
	pending, err = store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
