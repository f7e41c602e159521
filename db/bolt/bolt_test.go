package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type draft struct {
	SessionID string `json:"session_id"`
	Dirty     bool   `json:"dirty"`
	Undo      int    `json:"undo"`
}

func openStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t)

	in := draft{SessionID: "default", Dirty: true, Undo: 3}
	require.NoError(t, s.Put("acme", "default", in))

	var out draft
	require.NoError(t, s.Get("acme", "default", &out))
	assert.Equal(t, in, out)
}

func TestGetMissingSession(t *testing.T) {
	s := openStore(t)

	var out draft
	assert.ErrorIs(t, s.Get("acme", "nope", &out), ErrSessionNotFound)

	// Same session id under another tenant stays invisible.
	require.NoError(t, s.Put("brightline", "shared", draft{SessionID: "shared"}))
	assert.ErrorIs(t, s.Get("acme", "shared", &out), ErrSessionNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Put("acme", "default", draft{SessionID: "default"}))
	require.NoError(t, s.Delete("acme", "default"))
	require.NoError(t, s.Delete("acme", "default"))
	require.NoError(t, s.Delete("never-seen", "default"))

	var out draft
	assert.ErrorIs(t, s.Get("acme", "default", &out), ErrSessionNotFound)
}

func TestListScopedToTenant(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Put("acme", "alpha", draft{SessionID: "alpha"}))
	require.NoError(t, s.Put("acme", "beta", draft{SessionID: "beta"}))
	require.NoError(t, s.Put("brightline", "gamma", draft{SessionID: "gamma"}))

	ids, err := s.List("acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, ids)

	empty, err := s.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPutOverwritesExistingSnapshot(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Put("acme", "default", draft{SessionID: "default", Undo: 1}))
	require.NoError(t, s.Put("acme", "default", draft{SessionID: "default", Undo: 5}))

	var out draft
	require.NoError(t, s.Get("acme", "default", &out))
	assert.Equal(t, 5, out.Undo)
}
