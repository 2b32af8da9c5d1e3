package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/entrhq/reimburse/pkg/browser"
	"github.com/entrhq/reimburse/pkg/session"
	"github.com/entrhq/reimburse/pkg/types"
)

// User-facing login messages.
const (
	MsgAlreadyLoggedIn = "Already logged in"
	MsgLoginRequired   = "Please login to Darwinbox in the browser window that is open"
	MsgBrowserClosed   = "Browser window was closed. Please click Login to open browser again."
	MsgNotLoggedIn     = "Not logged in. Please click Login to open browser window."
	MsgUserLoggedIn    = "User is logged in"
	MsgWaitingForLogin = "Waiting for user to login"
	MsgSessionBusy     = "A submission is running in this session. Check again when it finishes."

	ActionLoginRequired = "login_required"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// LoginResult is returned by Login.
type LoginResult struct {
	SessionID string `json:"sessionId"`
	LoggedIn  bool   `json:"loggedIn"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
}

// Status describes a session's login state.
type Status struct {
	SessionID    string              `json:"sessionId"`
	Email        string              `json:"email,omitempty"`
	LoggedIn     bool                `json:"loggedIn"`
	Busy         bool                `json:"busy,omitempty"`
	BrowserOpen  bool                `json:"browserOpen"`
	LoginStatus  session.LoginStatus `json:"loginStatus,omitempty"`
	CookiesCount int                 `json:"cookiesCount"`
	Message      string              `json:"message"`
}

// InitLoginResult carries the one-time link for a chat user.
type InitLoginResult struct {
	SessionID  string `json:"sessionId"`
	LoginToken string `json:"loginToken"`
	LoginURL   string `json:"loginUrl"`
}

// TokenInfo is what a login link resolves to.
type TokenInfo struct {
	Valid           bool   `json:"valid"`
	SessionID       string `json:"sessionId"`
	Email           string `json:"email"`
	AlreadyLoggedIn bool   `json:"alreadyLoggedIn"`
	Message         string `json:"message"`
}

// Login opens (or reuses) the browser for email and checks whether the
// portal already recognizes the user. When it does not, the browser stays
// open for a manual login and the result asks the caller to poll status.
func (s *Service) Login(ctx context.Context, email, chatID string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, invalid("email is required")
	}

	found, err := s.sessionFor(ctx, email, chatID)
	if err != nil {
		return nil, err
	}

	rec, unlock, err := s.lockSession(ctx, found.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	h, err := s.browsers.EnsureContext(ctx, rec.SessionID, rec.Cookies)
	if err != nil {
		return nil, err
	}
	page, err := pageOf(h)
	if err != nil {
		return nil, err
	}

	ok, err := s.portal.CheckLogin(ctx, page)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Infof("session %s waiting for manual login", rec.SessionID)
		return &LoginResult{
			SessionID: rec.SessionID,
			Message:   MsgLoginRequired,
			Action:    ActionLoginRequired,
		}, nil
	}

	if _, err := s.captureCookies(ctx, rec.SessionID, h); err != nil {
		return nil, err
	}
	return &LoginResult{SessionID: rec.SessionID, LoggedIn: true, Message: MsgAlreadyLoggedIn}, nil
}

// sessionFor reuses the chat's session when it belongs to email.
func (s *Service) sessionFor(ctx context.Context, email, chatID string) (*session.Record, error) {
	if chatID != "" {
		rec, err := s.sessions.ByChatID(ctx, chatID)
		switch {
		case err == nil && strings.EqualFold(rec.Email, email):
			return rec, nil
		case err != nil && !errors.Is(err, types.ErrSessionNotFound):
			return nil, err
		}
	}
	return s.sessions.Create(ctx, email, chatID)
}

// LoginStatus checks the live browser of a session. A session without a
// browser is reported logged out; no browser is launched. While another
// call holds the session the status is reported busy instead of waiting.
func (s *Service) LoginStatus(ctx context.Context, sessionID string) (*Status, error) {
	rec, unlock, ok, err := s.tryLockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.busyStatus(ctx, sessionID)
	}
	defer unlock()

	st := &Status{SessionID: sessionID, Email: rec.Email, LoginStatus: rec.LoginStatus}
	h, ok := s.browsers.Lookup(sessionID)
	if !ok {
		st.Message = MsgNotLoggedIn
		return st, nil
	}
	if !s.browsers.IsLive(h) {
		st.Message = MsgBrowserClosed
		return st, nil
	}
	st.BrowserOpen = true

	page, err := pageOf(h)
	if err != nil {
		return nil, err
	}
	marker, err := s.portal.CheckLogin(ctx, page)
	if err != nil {
		return nil, err
	}
	if !marker {
		st.Message = MsgLoginRequired
		return st, nil
	}

	updated, err := s.captureCookies(ctx, sessionID, h)
	if err != nil {
		return nil, err
	}
	st.CookiesCount = len(updated.Cookies)
	st.LoginStatus = updated.LoginStatus
	st.LoggedIn = st.CookiesCount > 0
	if st.LoggedIn {
		st.Message = MsgAlreadyLoggedIn
	} else {
		st.Message = MsgLoginRequired
	}
	return st, nil
}

// busyStatus answers a status poll for a session another call is driving.
// The page belongs to that call, so only stored state is reported.
func (s *Service) busyStatus(ctx context.Context, sessionID string) (*Status, error) {
	rec, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	_, open := s.browsers.Lookup(sessionID)
	return &Status{
		SessionID:    sessionID,
		Email:        rec.Email,
		Busy:         true,
		BrowserOpen:  open,
		LoginStatus:  rec.LoginStatus,
		CookiesCount: len(rec.Cookies),
		Message:      MsgSessionBusy,
	}, nil
}

// StoredStatus reports what the store knows about a session. Either
// sessionID or chatID identifies it. Stored cookies count as a login only
// while the session's browser is still live; no browser is launched.
func (s *Service) StoredStatus(ctx context.Context, sessionID, chatID string) (*Status, error) {
	var (
		rec *session.Record
		err error
	)
	switch {
	case sessionID != "":
		rec, err = s.sessions.Load(ctx, sessionID)
	case chatID != "":
		rec, err = s.sessions.ByChatID(ctx, chatID)
	default:
		return nil, invalid("sessionId or telegramChatId is required")
	}
	if err != nil {
		return nil, err
	}

	st := &Status{
		SessionID:    rec.SessionID,
		Email:        rec.Email,
		LoginStatus:  rec.LoginStatus,
		CookiesCount: len(rec.Cookies),
	}
	h, ok := s.browsers.Lookup(rec.SessionID)
	switch {
	case !ok:
		st.Message = MsgNotLoggedIn
		return st, nil
	case !s.browsers.IsLive(h):
		st.Message = MsgBrowserClosed
		return st, nil
	}
	st.BrowserOpen = true
	st.LoggedIn = st.CookiesCount > 0 && rec.LoginStatus == session.StatusLoggedIn
	if st.LoggedIn {
		st.Message = MsgUserLoggedIn
	} else {
		st.Message = MsgWaitingForLogin
	}
	return st, nil
}

// captureCookies stores the context's cookies and marks the session
// logged in when there are any.
func (s *Service) captureCookies(ctx context.Context, sessionID string, h *browser.Handle) (*session.Record, error) {
	cookies, err := s.browsers.Cookies(h)
	if err != nil {
		return nil, err
	}
	rec, err := s.sessions.Update(ctx, sessionID, func(r *session.Record) error {
		r.Cookies = cookies
		if len(cookies) > 0 {
			r.LoginStatus = session.StatusLoggedIn
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("session %s: saved %d cookies", sessionID, len(cookies))
	return rec, nil
}

// Logout closes the browser and forgets the session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return invalid("sessionId is required")
	}
	l := s.sessionLock(sessionID)
	l.Lock()
	s.browsers.CloseSession(sessionID)
	err := s.sessions.Delete(ctx, sessionID)
	l.Unlock()
	s.forgetLock(sessionID)
	if err != nil {
		return err
	}
	s.logger.Infof("session %s logged out", sessionID)
	return nil
}

// InitLogin creates a session for a chat user and a one-time link that
// opens the login flow for it.
func (s *Service) InitLogin(ctx context.Context, chatID, email string) (*InitLoginResult, error) {
	email = strings.TrimSpace(email)
	if chatID == "" || email == "" {
		return nil, invalid("telegramChatId and email are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, invalid("invalid email format")
	}

	rec, err := s.sessions.Create(ctx, email, chatID)
	if err != nil {
		return nil, err
	}
	token, err := s.sessions.IssueLoginToken(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}
	return &InitLoginResult{
		SessionID:  rec.SessionID,
		LoginToken: token,
		LoginURL:   strings.TrimRight(s.publicURL, "/") + "/login/" + token,
	}, nil
}

// ValidateToken resolves a login link. Unknown or expired tokens return
// types.ErrInvalidToken.
func (s *Service) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, invalid("token is required")
	}
	rec, err := s.sessions.ResolveLoginToken(ctx, token)
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{
		Valid:           true,
		SessionID:       rec.SessionID,
		Email:           rec.Email,
		AlreadyLoggedIn: rec.LoginStatus == session.StatusLoggedIn && len(rec.Cookies) > 0,
	}
	if info.AlreadyLoggedIn {
		info.Message = "You are already logged in."
	} else {
		info.Message = "Token valid. Please proceed with login."
	}
	return info, nil
}
