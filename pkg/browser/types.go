package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reimburse/pkg/logging"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultLaunchAttempts    = 3
	DefaultBootstrapAttempts = 5
	DefaultLivenessTimeout   = 2 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultLaunchTimeout     = 60 * time.Second
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720

	// Backoff before relaunching. Stale profile locks need longer to clear.
	DefaultLockBackoff   = 5 * time.Second
	DefaultLaunchBackoff = 2 * time.Second
	DefaultBootstrapWait = 2 * time.Second

	profilePrefix = "darwinbox-"
)

// Handle is the live browser for one session.
type Handle struct {
	// SessionID is the owning session
	SessionID string

	// Context is the persistent browser context
	Context playwright.BrowserContext

	// Page is the page automation reuses across calls
	Page playwright.Page

	// ProfileDir is the on-disk profile backing Context
	ProfileDir string

	CreatedAt  time.Time
	LastUsedAt time.Time
}

// ActivePage returns the reusable page, falling back to the first open page
// when the original one was closed by the user.
func (h *Handle) ActivePage() playwright.Page {
	if h.Page != nil && !h.Page.IsClosed() {
		return h.Page
	}
	for _, p := range h.Context.Pages() {
		if !p.IsClosed() {
			h.Page = p
			return p
		}
	}
	return h.Page
}

// Info describes a live handle.
type Info struct {
	SessionID  string
	ProfileDir string
	CurrentURL string
	Pages      int
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// LaunchOptions configure one persistent context launch.
type LaunchOptions struct {
	Headless bool
	Width    int
	Height   int
	Timeout  time.Duration
}

// Options configure a Manager.
type Options struct {
	// HomeURL is where new browsers are pointed immediately after launch.
	HomeURL     string
	ProfileRoot string
	Launch      LaunchOptions

	LaunchAttempts    int
	BootstrapAttempts int
	LivenessTimeout   time.Duration
	NavigationTimeout time.Duration

	LockBackoff   time.Duration
	LaunchBackoff time.Duration
	BootstrapWait time.Duration

	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.LaunchAttempts <= 0 {
		o.LaunchAttempts = DefaultLaunchAttempts
	}
	if o.BootstrapAttempts <= 0 {
		o.BootstrapAttempts = DefaultBootstrapAttempts
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = DefaultLivenessTimeout
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.Launch.Width <= 0 || o.Launch.Height <= 0 {
		o.Launch.Width, o.Launch.Height = DefaultViewportWidth, DefaultViewportHeight
	}
	if o.Launch.Timeout <= 0 {
		o.Launch.Timeout = DefaultLaunchTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.Discard("browser")
	}
	return o
}

// DefaultOptions returns production timings.
func DefaultOptions(homeURL, profileRoot string) Options {
	return Options{
		HomeURL:       homeURL,
		ProfileRoot:   profileRoot,
		LockBackoff:   DefaultLockBackoff,
		LaunchBackoff: DefaultLaunchBackoff,
		BootstrapWait: DefaultBootstrapWait,
	}.withDefaults()
}
