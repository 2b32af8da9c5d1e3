package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/entrhq/reimburse/pkg/automation"
	"github.com/entrhq/reimburse/pkg/browser"
	"github.com/entrhq/reimburse/pkg/classifier"
	"github.com/entrhq/reimburse/pkg/config"
	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/session"
)

// app is the wired process: every long-lived component a command needs.
type app struct {
	logger   *logging.Logger
	portal   config.PortalSettings
	storage  config.StorageSettings
	store    session.Store
	sessions *session.Manager
	tracker  *progress.Tracker
	scratch  *scratch.Dir
	browsers *browser.Manager
	service  *service.Service
}

// appOptions select what newApp must provide.
type appOptions struct {
	component string
	// requireExtractor fails startup when no vision model is configured.
	requireExtractor bool
}

// newApp loads configuration and assembles the service from it.
func newApp(opts appOptions) (*app, error) {
	if err := config.Initialize(flags.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	logger, err := logging.NewLogger(opts.component)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	a := &app{
		logger:  logger,
		portal:  config.GetPortal().Settings(),
		storage: config.GetStorage().Settings(),
	}

	if a.store, err = openStore(a.storage); err != nil {
		_ = logger.Close()
		return nil, err
	}
	a.sessions = session.NewManager(a.store,
		session.WithSessionTTL(a.storage.SessionTTL),
		session.WithLoginTokenTTL(a.storage.LoginTokenTTL),
		session.WithLogger(logger.With("session")),
	)
	a.tracker = progress.NewTracker(a.storage.ProgressTTL)

	if a.scratch, err = scratch.Open(a.storage.ScratchDir, logger.With("scratch")); err != nil {
		a.Close()
		return nil, err
	}

	cat, err := loadCatalog(flags.CatalogPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	extractor, err := config.BuildExtractor(flags.Model, flags.BaseURL, flags.APIKey, defaultModel, logger.With("extract"))
	if err != nil {
		if opts.requireExtractor {
			a.Close()
			return nil, err
		}
		logger.Warnf("receipt extraction disabled: %v", err)
	}

	bs := config.GetBrowser().Settings()
	a.browsers = browser.NewManager(browser.NewPlaywrightLauncher(bs.Engine), browserOptions(a.portal, bs, logger.With("browser")))

	timings := timingsFrom(config.GetAutomation())
	driver := automation.NewDriver(a.portal.HomeURL,
		automation.WithTimings(timings),
		automation.WithLoginMarker(a.portal.LoginMarker),
		automation.WithLogger(logger.With("automation")),
	)

	deps := service.Deps{
		Sessions:   a.sessions,
		Browsers:   a.browsers,
		Portal:     service.PortalFor(driver),
		Progress:   a.tracker,
		Scratch:    a.scratch,
		Classifier: cat,
	}
	// A nil *OpenAIExtractor must not become a non-nil interface.
	if extractor != nil {
		deps.Extractor = extractor
	}
	a.service, err = service.New(deps,
		service.WithLogger(logger.With("service")),
		service.WithPublicURL(a.portal.PublicURL),
		service.WithMaxBrowsers(a.storage.MaxBrowsers),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the browsers, the playwright driver and the session store.
func (a *app) Close() {
	var errs []error
	if a.browsers != nil {
		errs = append(errs, a.browsers.Shutdown())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warnf("shutdown: %v", err)
	}
	_ = a.logger.Close()
}

func openStore(s config.StorageSettings) (session.Store, error) {
	switch s.Driver {
	case config.DriverSQLite:
		store, err := session.NewSQLiteStore(s.DSN)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return store, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

func loadCatalog(path string) (*classifier.Classifier, error) {
	if path == "" {
		return classifier.Default(), nil
	}
	c, err := classifier.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load category catalog: %w", err)
	}
	return c, nil
}

func browserOptions(p config.PortalSettings, bs config.BrowserSettings, logger *logging.Logger) browser.Options {
	opts := browser.DefaultOptions(p.HomeURL, bs.ProfileRoot)
	opts.Launch = browser.LaunchOptions{
		Headless: bs.Headless,
		Width:    bs.ViewportWidth,
		Height:   bs.ViewportHeight,
		Timeout:  bs.LaunchTimeout,
	}
	opts.LaunchAttempts = bs.LaunchAttempts
	opts.BootstrapAttempts = bs.BootstrapAttempts
	opts.LivenessTimeout = bs.LivenessTimeout
	opts.Logger = logger
	return opts
}

// timingsFrom overlays the configured waits on the built-in ones.
func timingsFrom(sec *config.AutomationSection) automation.Timings {
	t := automation.DefaultTimings()
	if sec == nil {
		return t
	}
	t.Navigation = sec.Timing(config.TimingNavigation)
	t.LoginMarker = sec.Timing(config.TimingLoginMarker)
	t.Step = sec.Timing(config.TimingStep)
	t.Form = sec.Timing(config.TimingForm)
	t.Field = sec.Timing(config.TimingField)
	t.UploadConfirm = sec.Timing(config.TimingUploadConfirm)
	t.NetworkIdle = sec.Timing(config.TimingNetworkIdle)
	t.DropdownSettle = sec.Timing(config.TimingDropdownSettle)
	t.CategorySettle = sec.Timing(config.TimingCategorySettle)
	t.TypeSettle = sec.Timing(config.TimingTypeSettle)
	t.CalendarSettle = sec.Timing(config.TimingCalendarSettle)
	t.SaveSettle = sec.Timing(config.TimingSaveSettle)
	t.AdvanceSettle = sec.Timing(config.TimingAdvanceSettle)
	t.KeystrokeDelay = sec.Timing(config.TimingKeystrokeDelay)
	t.AdvanceAttempts = sec.AdvanceAttempts()
	return t
}
