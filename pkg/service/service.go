// Package service ties sessions, browsers, extraction and the batch
// orchestrator together into the operations the HTTP server and the CLI
// expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/entrhq/reimburse/pkg/automation"
	"github.com/entrhq/reimburse/pkg/batch"
	"github.com/entrhq/reimburse/pkg/browser"
	"github.com/entrhq/reimburse/pkg/classifier"
	"github.com/entrhq/reimburse/pkg/extract"
	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/session"
	"github.com/entrhq/reimburse/pkg/types"
)

// DefaultMaxBrowsers caps how many sessions drive a browser at once.
const DefaultMaxBrowsers = 4

// ErrInvalidInput marks a request the caller must fix before retrying.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Browsers is the part of browser.Manager the service drives.
type Browsers interface {
	EnsureContext(ctx context.Context, sessionID string, cookies []session.Cookie) (*browser.Handle, error)
	Lookup(sessionID string) (*browser.Handle, bool)
	IsLive(h *browser.Handle) bool
	Cookies(h *browser.Handle) ([]session.Cookie, error)
	CloseSession(sessionID string)
}

// Portal checks logins and produces the step sequence for a page.
type Portal interface {
	CheckLogin(ctx context.Context, page automation.Page) (bool, error)
	Steps(page automation.Page) batch.Steps
}

type driverPortal struct {
	d *automation.Driver
}

// PortalFor adapts an automation.Driver to Portal.
func PortalFor(d *automation.Driver) Portal {
	return driverPortal{d: d}
}

func (p driverPortal) CheckLogin(ctx context.Context, page automation.Page) (bool, error) {
	return p.d.CheckLogin(ctx, page)
}

func (p driverPortal) Steps(page automation.Page) batch.Steps {
	return p.d.On(page)
}

// Progress is both ends of the task progress table.
type Progress interface {
	progress.Sink
	progress.Source
}

// Deps are the collaborators a Service cannot run without, except
// Extractor which is only needed by Extract.
type Deps struct {
	Sessions   *session.Manager
	Browsers   Browsers
	Portal     Portal
	Progress   Progress
	Scratch    *scratch.Dir
	Extractor  extract.Extractor
	Classifier *classifier.Classifier
}

// Service is safe for concurrent use. Calls for the same session are
// serialized; calls for different sessions run in parallel up to the
// browser cap.
type Service struct {
	sessions   *session.Manager
	browsers   Browsers
	portal     Portal
	progress   Progress
	scratch    *scratch.Dir
	extractor  extract.Extractor
	classifier *classifier.Classifier

	orchestrator *batch.Orchestrator
	publicURL    string
	maxBrowsers  int
	browserSlots *semaphore.Weighted
	logger       *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPublicURL sets the base of the login links InitLogin hands out.
func WithPublicURL(u string) Option {
	return func(s *Service) { s.publicURL = u }
}

// WithMaxBrowsers caps concurrent browser work across sessions.
func WithMaxBrowsers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBrowsers = n
		}
	}
}

// WithOrchestrator replaces the default batch orchestrator.
func WithOrchestrator(o *batch.Orchestrator) Option {
	return func(s *Service) { s.orchestrator = o }
}

// New builds a Service.
func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("service: session manager is required")
	case deps.Browsers == nil:
		return nil, fmt.Errorf("service: browser manager is required")
	case deps.Portal == nil:
		return nil, fmt.Errorf("service: portal driver is required")
	case deps.Progress == nil:
		return nil, fmt.Errorf("service: progress tracker is required")
	case deps.Scratch == nil:
		return nil, fmt.Errorf("service: scratch directory is required")
	}

	s := &Service{
		sessions:    deps.Sessions,
		browsers:    deps.Browsers,
		portal:      deps.Portal,
		progress:    deps.Progress,
		scratch:     deps.Scratch,
		extractor:   deps.Extractor,
		classifier:  deps.Classifier,
		maxBrowsers: DefaultMaxBrowsers,
		logger:      logging.Discard("service"),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = classifier.Default()
	}
	if s.orchestrator == nil {
		s.orchestrator = batch.New(batch.WithLogger(s.logger))
	}
	s.browserSlots = semaphore.NewWeighted(int64(s.maxBrowsers))
	return s, nil
}

// Sessions exposes the session manager for sweeps.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Progress returns the last reported state of a task.
func (s *Service) Progress(taskID string) progress.Update {
	return s.progress.Get(taskID)
}

// lockSession serializes work on one session and reserves a browser slot.
// The session is loaded once the lock is held, so a caller that waited out
// a Logout sees types.ErrSessionNotFound. The returned func releases both.
func (s *Service) lockSession(ctx context.Context, sessionID string) (*session.Record, func(), error) {
	l := s.sessionLock(sessionID)
	l.Lock()
	if err := s.browserSlots.Acquire(ctx, 1); err != nil {
		l.Unlock()
		return nil, nil, err
	}
	unlock := func() {
		s.browserSlots.Release(1)
		l.Unlock()
	}
	rec, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return rec, unlock, nil
}

// tryLockSession takes the session lock without a browser slot. It
// reports false while another call holds the session.
func (s *Service) tryLockSession(ctx context.Context, sessionID string) (*session.Record, func(), bool, error) {
	l := s.sessionLock(sessionID)
	if !l.TryLock() {
		return nil, nil, false, nil
	}
	rec, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		l.Unlock()
		return nil, nil, true, err
	}
	return rec, l.Unlock, true, nil
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Service) forgetLock(sessionID string) {
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
}

func pageOf(h *browser.Handle) (automation.Page, error) {
	page := h.ActivePage()
	if page == nil {
		return nil, types.NewFatal("open page",
			fmt.Errorf("%w: no open page for session %s", types.ErrBrowserUnavailable, h.SessionID))
	}
	return page, nil
}
