package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reimburse/pkg/session"
	"github.com/entrhq/reimburse/pkg/types"
)

// slot serializes lifecycle changes for one session id.
type slot struct {
	mu     sync.Mutex
	handle *Handle
}

// Manager owns the live browser handle of every session in this process.
type Manager struct {
	mu       sync.Mutex
	slots    map[string]*slot
	launcher Launcher
	opts     Options
	now      func() time.Time
}

// NewManager creates a manager launching browsers through launcher.
func NewManager(launcher Launcher, opts Options) *Manager {
	return &Manager{
		slots:    make(map[string]*slot),
		launcher: launcher,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func (m *Manager) slot(sessionID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[sessionID]
	if !ok {
		s = &slot{}
		m.slots[sessionID] = s
	}
	return s
}

// EnsureContext returns a live handle for sessionID, launching a browser
// when none exists or the existing one is dead. Non-empty cookies are
// injected unless the context already holds the same number of cookies.
//
// Failing to launch after every retry returns a fatal error wrapping
// types.ErrBrowserUnavailable.
func (m *Manager) EnsureContext(ctx context.Context, sessionID string, cookies []session.Cookie) (*Handle, error) {
	s := m.slot(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	log := m.opts.Logger
	if s.handle != nil {
		if m.IsLive(s.handle) {
			log.Debugf("reusing browser for session %s", sessionID)
			s.handle.LastUsedAt = m.now()
			m.injectCookies(s.handle, cookies)
			return s.handle, nil
		}
		log.Warnf("browser for session %s is no longer responsive, recreating", sessionID)
		m.closeHandle(s.handle)
		s.handle = nil
	}

	h, err := m.launch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.bootstrap(ctx, h)
	if len(h.Context.Pages()) == 0 {
		m.closeHandle(h)
		return nil, types.NewFatal("bootstrap browser",
			fmt.Errorf("%w: browser closed all pages after launch", types.ErrBrowserUnavailable))
	}
	m.injectCookies(h, cookies)

	s.handle = h
	return h, nil
}

// Lookup returns the existing handle without creating or validating one.
func (m *Manager) Lookup(sessionID string) (*Handle, bool) {
	m.mu.Lock()
	s, ok := m.slots[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.handle != nil
}

// IsLive reports whether the context exposes an open page that answers a
// trivial script within the liveness timeout.
func (m *Manager) IsLive(h *Handle) bool {
	if h == nil || h.Context == nil {
		return false
	}

	var pages []playwright.Page
	if err := safely(func() { pages = h.Context.Pages() }); err != nil || len(pages) == 0 {
		return false
	}

	page := h.ActivePage()
	if page == nil || page.IsClosed() {
		return false
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if perr := safely(func() { _, err = page.Evaluate("() => document.readyState") }); perr != nil {
			err = perr
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-time.After(m.opts.LivenessTimeout):
		return false
	}
}

// Close tears a handle down, ignoring errors.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	s := m.slot(h.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.closeHandle(h)
	if s.handle == h {
		s.handle = nil
	}
}

// CloseSession closes the session's handle if there is one.
func (m *Manager) CloseSession(sessionID string) {
	s := m.slot(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		m.closeHandle(s.handle)
		s.handle = nil
	}
	m.mu.Lock()
	delete(m.slots, sessionID)
	m.mu.Unlock()
}

// Cookies reads the current cookies of a handle.
func (m *Manager) Cookies(h *Handle) ([]session.Cookie, error) {
	cookies, err := h.Context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return FromPlaywright(cookies), nil
}

// List describes every live handle, sorted by session id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	slots := make(map[string]*slot, len(m.slots))
	for id, s := range m.slots {
		slots[id] = s
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(slots))
	for id, s := range slots {
		s.mu.Lock()
		if h := s.handle; h != nil {
			info := Info{
				SessionID:  id,
				ProfileDir: h.ProfileDir,
				CreatedAt:  h.CreatedAt,
				LastUsedAt: h.LastUsedAt,
			}
			_ = safely(func() {
				info.Pages = len(h.Context.Pages())
				if p := h.ActivePage(); p != nil {
					info.CurrentURL = p.URL()
				}
			})
			infos = append(infos, info)
		}
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Shutdown closes every handle and stops the launcher.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	slots := m.slots
	m.slots = make(map[string]*slot)
	m.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		if s.handle != nil {
			m.closeHandle(s.handle)
			s.handle = nil
		}
		s.mu.Unlock()
	}

	if m.launcher != nil {
		return m.launcher.Stop()
	}
	return nil
}

func (m *Manager) launch(ctx context.Context, sessionID string) (*Handle, error) {
	log := m.opts.Logger
	dir := ProfileDir(m.opts.ProfileRoot, sessionID)

	var lastErr error
	for attempt := 1; attempt <= m.opts.LaunchAttempts; attempt++ {
		removed, err := prepareProfile(dir)
		if err != nil {
			return nil, types.NewFatal("prepare profile", fmt.Errorf("%w: %v", types.ErrBrowserUnavailable, err))
		}
		if len(removed) > 0 {
			log.Warnf("removed stale profile locks %v from %s", removed, dir)
		}

		log.Infof("launching browser for session %s (attempt %d/%d)", sessionID, attempt, m.opts.LaunchAttempts)
		bc, err := m.launcher.LaunchPersistent(dir, m.opts.Launch)
		if err == nil {
			now := m.now()
			return &Handle{
				SessionID:  sessionID,
				Context:    bc,
				ProfileDir: dir,
				CreatedAt:  now,
				LastUsedAt: now,
			}, nil
		}

		lastErr = types.NewRetryable("launch browser", err)
		log.Warnf("launch attempt %d failed: %v", attempt, err)
		if attempt == m.opts.LaunchAttempts {
			break
		}

		backoff := m.opts.LaunchBackoff
		if isLockError(err) {
			backoff = m.opts.LockBackoff
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, types.NewFatal("launch browser", fmt.Errorf("%w: %v", types.ErrBrowserUnavailable, err))
		}
	}

	return nil, types.NewFatal("launch browser",
		fmt.Errorf("%w after %d attempts: %v", types.ErrBrowserUnavailable, m.opts.LaunchAttempts, lastErr))
}

// bootstrap points the first page at the portal. An idle, never-navigated
// headed window closes itself, so this is not optional. Failure is only
// logged; EnsureContext checks for open pages afterwards.
func (m *Manager) bootstrap(ctx context.Context, h *Handle) {
	log := m.opts.Logger

	pages := h.Context.Pages()
	if len(pages) > 0 {
		h.Page = pages[0]
	} else {
		page, err := h.Context.NewPage()
		if err != nil {
			log.Errorf("could not open a page for session %s: %v", h.SessionID, err)
			return
		}
		h.Page = page
	}

	if m.opts.HomeURL == "" {
		return
	}

	waitUntil := playwright.WaitUntilState("domcontentloaded")
	timeout := float64(m.opts.NavigationTimeout.Milliseconds())
	for attempt := 1; attempt <= m.opts.BootstrapAttempts; attempt++ {
		_, err := h.Page.Goto(m.opts.HomeURL, playwright.PageGotoOptions{
			WaitUntil: &waitUntil,
			Timeout:   &timeout,
		})
		if err == nil {
			log.Infof("browser for session %s at %s", h.SessionID, m.opts.HomeURL)
			return
		}
		log.Warnf("initial navigation attempt %d/%d failed: %v", attempt, m.opts.BootstrapAttempts, err)
		if attempt < m.opts.BootstrapAttempts {
			if sleep(ctx, m.opts.BootstrapWait) != nil {
				return
			}
		}
	}
	log.Warnf("browser for session %s never reached %s; continuing with open pages", h.SessionID, m.opts.HomeURL)
}

// injectCookies restores cookies unless the context already holds the same
// count. Errors are logged: a missing cookie only means the user logs in again.
func (m *Manager) injectCookies(h *Handle, cookies []session.Cookie) {
	if len(cookies) == 0 {
		return
	}
	log := m.opts.Logger

	wanted := FilterCookies(m.opts.HomeURL, cookies)
	existing, err := h.Context.Cookies()
	if err != nil {
		log.Warnf("could not read cookies of session %s: %v", h.SessionID, err)
	} else if len(existing) == len(wanted) {
		log.Debugf("session %s already holds %d cookies, skipping restore", h.SessionID, len(existing))
		return
	}

	if err := h.Context.AddCookies(toOptionalCookies(m.opts.HomeURL, wanted)); err != nil {
		log.Warnf("failed to restore cookies for session %s: %v", h.SessionID, err)
		return
	}
	log.Infof("restored %d cookies to session %s", len(wanted), h.SessionID)
}

func (m *Manager) closeHandle(h *Handle) {
	if h.Context != nil {
		_ = safely(func() { _ = h.Context.Close() }) // Ignore errors, continue cleanup
	}
	h.Page = nil
}

// safely runs fn, converting a panic from a dead driver connection into an error.
func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
