// Package session persists the durable half of a user's portal session:
// email, cookies, expiry and login status. Live browser handles are
// process-local and never stored here; see package browser.
package session

import (
	"context"
	"time"
)

// LoginStatus is the last login state observed for a session.
type LoginStatus string

const (
	StatusPending  LoginStatus = "pending"
	StatusLoggedIn LoginStatus = "logged_in"
	StatusExpired  LoginStatus = "expired"
)

// Cookie is a browser cookie captured after a manual login.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Record is the persisted projection of a session.
type Record struct {
	SessionID      string      `json:"sessionId"`
	Email          string      `json:"email"`
	Cookies        []Cookie    `json:"cookies"`
	CreatedAt      time.Time   `json:"createdAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	LoginStatus    LoginStatus `json:"loginStatus"`
	TelegramChatID string      `json:"telegramChatId,omitempty"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Cookies = append([]Cookie(nil), r.Cookies...)
	return &c
}

// Store is durable key to record storage with secondary indexes by chat id
// and by short-lived login token. A ttl of zero or less means no expiry.
// Lookups of absent or expired keys return ErrSessionNotFound or
// ErrInvalidToken from package types.
type Store interface {
	Save(ctx context.Context, rec *Record, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	Delete(ctx context.Context, sessionID string) error
	GetByChatID(ctx context.Context, chatID string) (*Record, error)

	SaveLoginToken(ctx context.Context, token, sessionID string, ttl time.Duration) error
	SessionIDForToken(ctx context.Context, token string) (string, error)
	DeleteLoginToken(ctx context.Context, token string) error

	// Sweep drops expired entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
	Close() error
}
