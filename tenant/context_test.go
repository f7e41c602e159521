package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

type fakeDirectory map[string]bool

func (d fakeDirectory) ClientExists(_ context.Context, id string) (bool, error) {
	return d[id], nil
}

func TestResolve(t *testing.T) {
	dir := fakeDirectory{"SITE-A": true, "SITE-B": true}
	operator := Actor{UserID: "u1", Role: domain.RoleOperator, AllowedClientIDs: []string{"SITE-A"}}
	admin := Actor{UserID: "a1", Role: domain.RoleAdmin}

	t.Run("operator scoped to assigned client", func(t *testing.T) {
		tc, err := Resolve(context.Background(), dir, operator, "list", "SITE-A")
		require.NoError(t, err)
		assert.False(t, tc.Bypass)
		assert.Equal(t, "SITE-A", tc.RequestedClientID)
	})

	t.Run("operator defaults single assignment", func(t *testing.T) {
		tc, err := Resolve(context.Background(), dir, operator, "list", "")
		require.NoError(t, err)
		assert.Equal(t, "SITE-A", tc.RequestedClientID)
	})

	t.Run("operator forbidden outside scope", func(t *testing.T) {
		_, err := Resolve(context.Background(), dir, operator, "list", "SITE-B")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := Resolve(context.Background(), dir, admin, "list", "SITE-X")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})

	t.Run("out-of-scope probe cannot distinguish unknown clients", func(t *testing.T) {
		// The answer is FORBIDDEN whether the client exists or not, so a
		// scoped actor cannot enumerate the roster by error kind.
		for _, target := range []string{"SITE-B", "SITE-X"} {
			_, err := Resolve(context.Background(), dir, operator, "list", target)
			require.Error(t, err, target)
			assert.True(t, domain.IsKind(err, domain.KindForbidden), target)
		}
	})

	t.Run("missing actor", func(t *testing.T) {
		_, err := Resolve(context.Background(), dir, Actor{}, "list", "SITE-A")
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindUnauthenticated))
	})

	t.Run("admin bypass engaged outside assignments", func(t *testing.T) {
		tc, err := Resolve(context.Background(), dir, admin, "list", "SITE-B")
		require.NoError(t, err)
		assert.True(t, tc.Bypass)

		ev := tc.BypassEvent()
		assert.Equal(t, domain.EventTenantBypassUsed, ev.Type)
		assert.Equal(t, "SITE-B", ev.Payload["target_client_id"])
	})
}

func TestPredicate(t *testing.T) {
	leader := Actor{UserID: "u2", Role: domain.RoleLeader, AllowedClientIDs: []string{"SITE-A", "SITE-B"}}

	t.Run("unscoped sees all assignments", func(t *testing.T) {
		tc := Context{Actor: leader}
		assert.True(t, tc.CanRead("SITE-A"))
		assert.True(t, tc.CanRead("SITE-B"))
		assert.False(t, tc.CanRead("SITE-C"))

		ids, all := tc.Scope()
		assert.False(t, all)
		assert.ElementsMatch(t, []string{"SITE-A", "SITE-B"}, ids)
	})

	t.Run("requested client narrows scope", func(t *testing.T) {
		tc := Context{Actor: leader, RequestedClientID: "SITE-B"}
		assert.False(t, tc.CanRead("SITE-A"))
		assert.True(t, tc.CanRead("SITE-B"))
	})

	t.Run("bypass without request is unbounded", func(t *testing.T) {
		tc := Context{Actor: Actor{UserID: "a1", Role: domain.RoleAdmin}, Bypass: true}
		_, all := tc.Scope()
		assert.True(t, all)
		assert.True(t, tc.CanRead("ANY"))
	})
}

func TestWriteClient(t *testing.T) {
	tc := Context{
		Actor:             Actor{UserID: "a1", Role: domain.RoleAdmin},
		RequestedClientID: "SITE-A",
		Bypass:            true,
	}

	target, err := tc.WriteClient()
	require.NoError(t, err)
	assert.Equal(t, "SITE-A", target)

	require.NoError(t, tc.CheckWrite("SITE-A"))

	err = tc.CheckWrite("SITE-B")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	unscoped := Context{Actor: Actor{UserID: "a1", Role: domain.RoleAdmin}, Bypass: true}
	_, err = unscoped.WriteClient()
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
