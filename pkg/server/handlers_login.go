package server

import (
	"errors"
	"net/http"

	"github.com/entrhq/reimburse/pkg/types"
)

type loginRequest struct {
	Email          string `json:"email"`
	TelegramChatID string `json:"telegramChatId,omitempty"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// handleLogin handles POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Email is required", err)
		return
	}

	res, err := s.backend.Login(r.Context(), req.Email, req.TelegramChatID)
	if err != nil {
		s.logger.Errorf("login for %s failed: %v", req.Email, err)
		writeError(w, statusFor(err), "Failed to initiate login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": res.SessionID,
		"loggedIn":  res.LoggedIn,
		"message":   res.Message,
		"action":    res.Action,
	})
}

// handleLoginStatus handles GET /api/login?sessionId=, checking the live browser.
func (s *Server) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required", nil)
		return
	}

	st, err := s.backend.LoginStatus(r.Context(), sessionID)
	if errors.Is(err, types.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"loggedIn": false, "message": "Session not found"})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), "Failed to check login status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStoredStatus handles GET /api/login/status, polled by the chat bot.
func (s *Server) handleStoredStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := s.backend.StoredStatus(r.Context(), q.Get("sessionId"), q.Get("telegramChatId"))
	if errors.Is(err, types.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"loggedIn": false, "message": "Session not found"})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), "Failed to check login status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleLogout handles POST /api/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Session ID is required", err)
		return
	}
	if err := s.backend.Logout(r.Context(), req.SessionID); err != nil {
		writeError(w, statusFor(err), "Failed to logout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

type initLoginRequest struct {
	TelegramChatID string `json:"telegramChatId"`
	Email          string `json:"email"`
}

// handleInitLogin handles POST /api/telegram/init-login
func (s *Server) handleInitLogin(w http.ResponseWriter, r *http.Request) {
	var req initLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "telegramChatId and email are required", err)
		return
	}

	res, err := s.backend.InitLogin(r.Context(), req.TelegramChatID, req.Email)
	if err != nil {
		writeError(w, statusFor(err), "Failed to initialize login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"sessionId":  res.SessionID,
		"loginToken": res.LoginToken,
		"loginUrl":   res.LoginURL,
	})
}

// handleValidate handles GET /api/login/validate?token=
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.ValidateToken(r.Context(), r.URL.Query().Get("token"))
	if errors.Is(err, types.ErrInvalidToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "error": "Invalid or expired token"})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), "Failed to validate token", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
