package browser

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Launcher starts persistent browser contexts.
type Launcher interface {
	LaunchPersistent(profileDir string, opts LaunchOptions) (playwright.BrowserContext, error)
	Stop() error
}

// PlaywrightLauncher launches Firefox or Chromium through playwright-go.
// The driver is installed and started on first use.
type PlaywrightLauncher struct {
	mu          sync.Mutex
	engine      string
	playwright  *playwright.Playwright
	initialized bool
}

// NewPlaywrightLauncher creates a launcher for engine ("firefox" or "chromium").
func NewPlaywrightLauncher(engine string) *PlaywrightLauncher {
	return &PlaywrightLauncher{engine: engine}
}

func (l *PlaywrightLauncher) initialize() error {
	if l.initialized {
		return nil
	}

	// Keep driver output off the terminal; the TUI and CLI share it.
	opts := &playwright.RunOptions{
		Browsers: []string{l.engine},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	l.playwright = pw
	l.initialized = true
	return nil
}

// LaunchPersistent launches a context bound to profileDir.
func (l *PlaywrightLauncher) LaunchPersistent(profileDir string, opts LaunchOptions) (playwright.BrowserContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.initialize(); err != nil {
		return nil, err
	}

	timeout := float64(opts.Timeout.Milliseconds())
	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Viewport: &playwright.Size{Width: opts.Width, Height: opts.Height},
		Timeout:  &timeout,
		// The process owns shutdown; a Ctrl-C must not kill the windows
		// before cookies are captured.
		HandleSIGINT:  playwright.Bool(false),
		HandleSIGTERM: playwright.Bool(false),
		HandleSIGHUP:  playwright.Bool(false),
	}

	var browserType playwright.BrowserType
	switch l.engine {
	case "chromium":
		browserType = l.playwright.Chromium
	default:
		browserType = l.playwright.Firefox
	}

	bc, err := browserType.LaunchPersistentContext(profileDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", l.engine, err)
	}
	return bc, nil
}

// Stop shuts the driver down.
func (l *PlaywrightLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized || l.playwright == nil {
		return nil
	}
	if err := l.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	l.initialized = false
	return nil
}
