package automation

import (
	"context"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/types"
)

// DefaultLoginMarker is only rendered on the portal home page once signed in.
const DefaultLoginMarker = `img[src="/images/Icons_latest/attendance.png"]`

// Page is the part of playwright.Page the driver uses.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Reload(options ...playwright.PageReloadOptions) (playwright.Response, error)
	URL() string
	Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	WaitForLoadState(options ...playwright.PageWaitForLoadStateOptions) error
}

// Timings bound every wait the driver performs.
type Timings struct {
	// Timeouts for condition waits.
	Navigation    time.Duration
	LoginMarker   time.Duration
	Step          time.Duration
	Form          time.Duration
	Field         time.Duration
	UploadConfirm time.Duration
	NetworkIdle   time.Duration

	// Settle delays where the portal exposes no readiness signal.
	DropdownSettle time.Duration
	CategorySettle time.Duration
	TypeSettle     time.Duration
	CalendarSettle time.Duration
	SaveSettle     time.Duration
	AdvanceSettle  time.Duration

	KeystrokeDelay time.Duration

	// Poll is the interval between visibility checks.
	Poll time.Duration

	AdvanceAttempts int
}

// DefaultTimings returns the waits tuned against the production portal.
func DefaultTimings() Timings {
	return Timings{
		Navigation:      30 * time.Second,
		LoginMarker:     5 * time.Second,
		Step:            10 * time.Second,
		Form:            10 * time.Second,
		Field:           5 * time.Second,
		UploadConfirm:   3 * time.Second,
		NetworkIdle:     5 * time.Second,
		DropdownSettle:  800 * time.Millisecond,
		CategorySettle:  1500 * time.Millisecond,
		TypeSettle:      2 * time.Second,
		CalendarSettle:  800 * time.Millisecond,
		SaveSettle:      1500 * time.Millisecond,
		AdvanceSettle:   2 * time.Second,
		KeystrokeDelay:  30 * time.Millisecond,
		Poll:            100 * time.Millisecond,
		AdvanceAttempts: 3,
	}
}

// Driver knows how to reach and fill the expense form.
type Driver struct {
	homeURL     string
	loginMarker string
	timings     Timings
	logger      *logging.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithTimings replaces the default timings.
func WithTimings(t Timings) Option {
	return func(d *Driver) {
		d.timings = t
	}
}

// WithLoginMarker overrides the selector that proves a signed-in session.
func WithLoginMarker(selector string) Option {
	return func(d *Driver) {
		if selector != "" {
			d.loginMarker = selector
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// NewDriver creates a driver for the portal at homeURL.
func NewDriver(homeURL string, opts ...Option) *Driver {
	d := &Driver{
		homeURL:     homeURL,
		loginMarker: DefaultLoginMarker,
		timings:     DefaultTimings(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Discard("automation")
	}
	if d.timings.Poll <= 0 {
		d.timings.Poll = 100 * time.Millisecond
	}
	if d.timings.AdvanceAttempts < 1 {
		d.timings.AdvanceAttempts = 1
	}
	return d
}

// Timings returns the driver's timings.
func (d *Driver) Timings() Timings {
	return d.timings
}

// On binds the driver to one page.
func (d *Driver) On(page Page) *Flow {
	return &Flow{driver: d, page: page}
}

// Flow is a driver bound to the single page of one session. Its methods
// must not be called concurrently.
type Flow struct {
	driver *Driver
	page   Page
}

// Navigate opens the expense form from the portal home page.
func (f *Flow) Navigate(ctx context.Context) error {
	return f.driver.NavigateToExpenseForm(ctx, f.page)
}

// SelectCategory picks the category and the dependent expense type.
func (f *Flow) SelectCategory(ctx context.Context, categoryID, expenseTypeID string) error {
	return f.driver.SelectCategoryAndExpenseType(ctx, f.page, categoryID, expenseTypeID)
}

// Fill enters the record into the open form.
func (f *Flow) Fill(ctx context.Context, rec types.ExpenseRecord) error {
	return f.driver.FillExpenseForm(ctx, f.page, rec)
}

// Save submits the form.
func (f *Flow) Save(ctx context.Context) error {
	return f.driver.Submit(ctx, f.page)
}

// Advance opens a fresh expense form inside the same report.
func (f *Flow) Advance(ctx context.Context) error {
	return f.driver.AdvanceToNextExpense(ctx, f.page)
}

// sleep waits for d or until ctx is done.
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

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
