package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reimburse/pkg/types"
)

func newTestManager() (*Manager, *fakeClock) {
	clock := newClock()
	store := NewMemoryStore()
	store.now = clock.Now
	return NewManager(store, WithClock(clock.Now)), clock
}

func TestManager_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager()

	rec, err := m.Create(ctx, "dev@example.com", "42")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SessionID)
	assert.Equal(t, StatusPending, rec.LoginStatus)
	assert.Empty(t, rec.Cookies)
	assert.Equal(t, clock.Now().Add(24*time.Hour), rec.ExpiresAt)

	got, err := m.Load(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", got.Email)

	byChat, err := m.ByChatID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, byChat.SessionID)

	_, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestManager_LoadExpired(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager()

	rec, err := m.Create(ctx, "dev@example.com", "")
	require.NoError(t, err)

	// Push the record past its own expiry while the store still holds it.
	rec.ExpiresAt = clock.Now().Add(-time.Second)
	require.NoError(t, m.Store().Save(ctx, rec, time.Hour))

	_, err = m.Load(ctx, rec.SessionID)
	assert.ErrorIs(t, err, types.ErrSessionNotFound)

	_, err = m.Store().Get(ctx, rec.SessionID)
	assert.ErrorIs(t, err, types.ErrSessionNotFound, "expired session should be deleted on load")
}

func TestManager_Update(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	rec, err := m.Create(ctx, "dev@example.com", "")
	require.NoError(t, err)

	updated, err := m.Update(ctx, rec.SessionID, func(r *Record) error {
		r.Cookies = []Cookie{{Name: "a", Value: "1"}}
		r.LoginStatus = StatusLoggedIn
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusLoggedIn, updated.LoginStatus)

	got, err := m.Load(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Cookies, 1)

	boom := errors.New("boom")
	_, err = m.Update(ctx, rec.SessionID, func(*Record) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestManager_LoginTokens(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager()
	rec, err := m.Create(ctx, "dev@example.com", "")
	require.NoError(t, err)

	token, err := m.IssueLoginToken(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	got, err := m.ResolveLoginToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)

	t.Run("token for deleted session is invalidated", func(t *testing.T) {
		require.NoError(t, m.Delete(ctx, rec.SessionID))
		_, err := m.ResolveLoginToken(ctx, token)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
		_, err = m.Store().SessionIDForToken(ctx, token)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})

	t.Run("token expires after 900s", func(t *testing.T) {
		rec, err := m.Create(ctx, "dev@example.com", "")
		require.NoError(t, err)
		token, err := m.IssueLoginToken(ctx, rec.SessionID)
		require.NoError(t, err)
		clock.Advance(901 * time.Second)
		_, err = m.ResolveLoginToken(ctx, token)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
	})
}
