package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reimburse/pkg/automation"
	"github.com/entrhq/reimburse/pkg/batch"
	"github.com/entrhq/reimburse/pkg/browser"
	"github.com/entrhq/reimburse/pkg/extract"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/session"
	"github.com/entrhq/reimburse/pkg/types"
)

var pngReceipt = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type fakePage struct {
	playwright.Page
}

func (p *fakePage) IsClosed() bool { return false }

type fakeBrowsers struct {
	mu        sync.Mutex
	handles   map[string]*browser.Handle
	ensureErr error
	dead      bool
	cookies   []session.Cookie

	ensured  int
	injected []session.Cookie
	closed   []string
}

func newFakeBrowsers() *fakeBrowsers {
	return &fakeBrowsers{handles: make(map[string]*browser.Handle)}
}

func (b *fakeBrowsers) EnsureContext(_ context.Context, sessionID string, cookies []session.Cookie) (*browser.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensured++
	if b.ensureErr != nil {
		return nil, b.ensureErr
	}
	b.injected = cookies
	h, ok := b.handles[sessionID]
	if !ok {
		h = &browser.Handle{SessionID: sessionID, Page: &fakePage{}}
		b.handles[sessionID] = h
	}
	return h, nil
}

func (b *fakeBrowsers) Lookup(sessionID string) (*browser.Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[sessionID]
	return h, ok
}

func (b *fakeBrowsers) IsLive(*browser.Handle) bool { return !b.dead }

func (b *fakeBrowsers) Cookies(*browser.Handle) ([]session.Cookie, error) {
	return b.cookies, nil
}

func (b *fakeBrowsers) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, sessionID)
	b.closed = append(b.closed, sessionID)
}

type fakeSteps struct {
	mu          sync.Mutex
	navigateErr error
	saveErr     map[int]error
	saved       int
	filled      []types.ExpenseRecord
}

func (f *fakeSteps) Navigate(context.Context) error { return f.navigateErr }

func (f *fakeSteps) SelectCategory(context.Context, string, string) error { return nil }

func (f *fakeSteps) Fill(_ context.Context, rec types.ExpenseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filled = append(f.filled, rec)
	return nil
}

func (f *fakeSteps) Save(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.filled) - 1
	if err := f.saveErr[i]; err != nil {
		return err
	}
	f.saved++
	return nil
}

func (f *fakeSteps) Advance(context.Context) error { return nil }

type fakePortal struct {
	loggedIn bool
	checkErr error
	checks   int
	steps    *fakeSteps
}

func (p *fakePortal) CheckLogin(context.Context, automation.Page) (bool, error) {
	p.checks++
	return p.loggedIn, p.checkErr
}

func (p *fakePortal) Steps(automation.Page) batch.Steps { return p.steps }

type fakeExtractor struct {
	fields   *extract.Fields
	err      error
	gotMIME  string
	gotBytes int
}

func (e *fakeExtractor) Extract(_ context.Context, image []byte, mimeType string) (*extract.Fields, error) {
	e.gotMIME = mimeType
	e.gotBytes = len(image)
	if e.err != nil {
		return nil, e.err
	}
	return e.fields, nil
}

type fixture struct {
	svc       *Service
	sessions  *session.Manager
	browsers  *fakeBrowsers
	portal    *fakePortal
	tracker   *progress.Tracker
	scratch   *scratch.Dir
	extractor *fakeExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := scratch.Open(t.TempDir(), nil)
	require.NoError(t, err)

	f := &fixture{
		sessions:  session.NewManager(session.NewMemoryStore()),
		browsers:  newFakeBrowsers(),
		portal:    &fakePortal{steps: &fakeSteps{}},
		tracker:   progress.NewTracker(time.Minute),
		scratch:   dir,
		extractor: &fakeExtractor{},
	}
	f.svc, err = New(Deps{
		Sessions:  f.sessions,
		Browsers:  f.browsers,
		Portal:    f.portal,
		Progress:  f.tracker,
		Scratch:   f.scratch,
		Extractor: f.extractor,
	}, WithPublicURL("https://bot.example.com/"), WithMaxBrowsers(2))
	require.NoError(t, err)
	return f
}

func (f *fixture) session(t *testing.T, cookies ...session.Cookie) *session.Record {
	t.Helper()
	rec, err := f.sessions.Create(context.Background(), "asha@example.com", "chat-1")
	require.NoError(t, err)
	if len(cookies) > 0 {
		rec, err = f.sessions.Update(context.Background(), rec.SessionID, func(r *session.Record) error {
			r.Cookies = cookies
			r.LoginStatus = session.StatusLoggedIn
			return nil
		})
		require.NoError(t, err)
	}
	return rec
}

func item(merchant string) Item {
	return Item{
		Record: types.ExpenseRecord{
			Date:             time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
			Amount:           decimal.RequireFromString("249.50"),
			Merchant:         merchant,
			Description:      "team lunch",
			CategoryValue:    "cat-1",
			ExpenseTypeValue: "type-1",
		},
		Receipt: Receipt{Name: merchant + ".png", Data: pngReceipt},
	}
}

var errBoom = errors.New("boom")

var sid = session.Cookie{Name: "sid", Value: "abc", Domain: "acme.darwinbox.in", Path: "/"}
