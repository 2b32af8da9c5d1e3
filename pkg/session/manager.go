package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/types"
)

const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultLoginTokenTTL = 900 * time.Second
)

// Manager implements the session lifecycle on top of a Store.
type Manager struct {
	store    Store
	ttl      time.Duration
	tokenTTL time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the lifetime of new sessions.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = ttl }
}

// WithLoginTokenTTL sets the lifetime of one-time login tokens.
func WithLoginTokenTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.tokenTTL = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		ttl:      DefaultSessionTTL,
		tokenTTL: DefaultLoginTokenTTL,
		now:      time.Now,
		logger:   logging.Discard("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Create starts a pending session for email.
func (m *Manager) Create(ctx context.Context, email, chatID string) (*Record, error) {
	now := m.now()
	rec := &Record{
		SessionID:      uuid.NewString(),
		Email:          email,
		Cookies:        []Cookie{},
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		LoginStatus:    StatusPending,
		TelegramChatID: chatID,
	}
	if err := m.Save(ctx, rec); err != nil {
		return nil, err
	}
	m.logger.Infof("session %s created for %s", rec.SessionID, email)
	return rec, nil
}

// Save persists rec with its remaining lifetime as TTL.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	ttl := rec.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		// Already past expiry; keep it long enough to be read and reported as expired.
		ttl = time.Minute
	}
	if err := m.store.Save(ctx, rec, ttl); err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Load returns the session, deleting it if it has expired.
func (m *Manager) Load(ctx context.Context, sessionID string) (*Record, error) {
	rec, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.IsZero() && m.now().After(rec.ExpiresAt) {
		m.logger.Infof("session %s expired at %s", sessionID, rec.ExpiresAt.Format(time.RFC3339))
		_ = m.store.Delete(ctx, sessionID)
		return nil, types.ErrSessionNotFound
	}
	return rec, nil
}

// Update applies fn to the stored record and saves the result.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(*Record) error) (*Record, error) {
	rec, err := m.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := m.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ByChatID returns the latest session bound to a chat.
func (m *Manager) ByChatID(ctx context.Context, chatID string) (*Record, error) {
	rec, err := m.store.GetByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return m.Load(ctx, rec.SessionID)
}

// Delete removes the session.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// IssueLoginToken creates a one-time token that resolves to sessionID.
func (m *Manager) IssueLoginToken(ctx context.Context, sessionID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate login token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := m.store.SaveLoginToken(ctx, token, sessionID, m.tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveLoginToken returns the session a token was issued for. A token
// whose session has vanished is deleted and reported invalid.
func (m *Manager) ResolveLoginToken(ctx context.Context, token string) (*Record, error) {
	sessionID, err := m.store.SessionIDForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	rec, err := m.Load(ctx, sessionID)
	if errors.Is(err, types.ErrSessionNotFound) {
		_ = m.store.DeleteLoginToken(ctx, token)
		return nil, types.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Sweep removes expired entries from the store.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.Sweep(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		m.logger.Debugf("swept %d expired session entries", n)
	}
	return n, nil
}
