package session

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/reimburse/pkg/types"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store. Entries expire lazily on read and
// eagerly on Sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]entry[*Record]
	chats    map[string]entry[string]
	tokens   map[string]entry[string]
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]entry[*Record]),
		chats:    make(map[string]entry[string]),
		tokens:   make(map[string]entry[string]),
		now:      time.Now,
	}
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// Save stores a copy of rec and, when set, indexes it by chat id.
func (s *MemoryStore) Save(_ context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := s.deadline(ttl)
	s.sessions[rec.SessionID] = entry[*Record]{value: rec.Clone(), expiresAt: exp}
	if rec.TelegramChatID != "" {
		s.chats[rec.TelegramChatID] = entry[string]{value: rec.SessionID, expiresAt: exp}
	}
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, types.ErrSessionNotFound
	}
	return e.value.Clone(), nil
}

// Delete removes the record and its chat index entry.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[sessionID]; ok && e.value.TelegramChatID != "" {
		if c, ok := s.chats[e.value.TelegramChatID]; ok && c.value == sessionID {
			delete(s.chats, e.value.TelegramChatID)
		}
	}
	delete(s.sessions, sessionID)
	return nil
}

// GetByChatID follows the chat index.
func (s *MemoryStore) GetByChatID(ctx context.Context, chatID string) (*Record, error) {
	s.mu.RLock()
	e, ok := s.chats[chatID]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, types.ErrSessionNotFound
	}
	return s.Get(ctx, e.value)
}

// SaveLoginToken maps token to sessionID for ttl.
func (s *MemoryStore) SaveLoginToken(_ context.Context, token, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = entry[string]{value: sessionID, expiresAt: s.deadline(ttl)}
	return nil
}

// SessionIDForToken resolves a login token.
func (s *MemoryStore) SessionIDForToken(_ context.Context, token string) (string, error) {
	s.mu.RLock()
	e, ok := s.tokens[token]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return "", types.ErrInvalidToken
	}
	return e.value, nil
}

// DeleteLoginToken removes a token.
func (s *MemoryStore) DeleteLoginToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

// Sweep drops every expired entry.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if e.expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, e := range s.chats {
		if e.expired(now) {
			delete(s.chats, id)
		}
	}
	for id, e := range s.tokens {
		if e.expired(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
