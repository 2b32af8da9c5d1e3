// Package server exposes the reimbursement service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/types"
)

const (
	// maxUploadBytes bounds one multipart request, receipts included.
	maxUploadBytes  = 64 << 20
	multipartMemory = 16 << 20

	shutdownTimeout = 10 * time.Second
)

// Backend is the set of service operations the handlers call.
type Backend interface {
	Login(ctx context.Context, email, chatID string) (*service.LoginResult, error)
	LoginStatus(ctx context.Context, sessionID string) (*service.Status, error)
	StoredStatus(ctx context.Context, sessionID, chatID string) (*service.Status, error)
	Logout(ctx context.Context, sessionID string) error
	InitLogin(ctx context.Context, chatID, email string) (*service.InitLoginResult, error)
	ValidateToken(ctx context.Context, token string) (*service.TokenInfo, error)
	Extract(ctx context.Context, data []byte, mimeType string) (*service.Extraction, error)
	Submit(ctx context.Context, sessionID, taskID string, item service.Item) (*types.BatchResult, error)
	SubmitBatch(ctx context.Context, sessionID, taskID string, items []service.Item) (*types.BatchResult, error)
	Progress(taskID string) progress.Update
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	uploads *scratch.Dir
	logger  *logging.Logger
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Server. uploads stores batch uploads.
func New(backend Backend, uploads *scratch.Dir, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		uploads: uploads,
		logger:  logging.Discard("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/login", s.handleLoginStatus)
		r.Get("/login/status", s.handleStoredStatus)
		r.Get("/login/validate", s.handleValidate)
		r.Post("/logout", s.handleLogout)
		r.Post("/telegram/init-login", s.handleInitLogin)

		r.Post("/ocr", s.handleOCR)
		r.Post("/submit", s.handleSubmit)
		r.Post("/bulk-submit", s.handleBulkSubmit)
		r.Get("/submit-progress", s.handleProgress)

		r.Post("/batch-upload", s.handleBatchUpload)
		r.Get("/batch-upload", s.handleBatchInfo)
		r.Delete("/batch-upload", s.handleBatchDelete)
		r.Get("/batch-file", s.handleBatchFile)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Infof("%s %s %d %dms [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Milliseconds(), middleware.GetReqID(r.Context()))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Errorf("panic serving %s: %v", r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
