package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// SectionIDBrowser is the identifier for the browser section
	SectionIDBrowser = "browser"

	EngineFirefox  = "firefox"
	EngineChromium = "chromium"
)

// BrowserSettings control how per-session browser profiles are launched.
type BrowserSettings struct {
	Engine            string
	ProfileRoot       string
	ViewportWidth     int
	ViewportHeight    int
	LaunchAttempts    int
	LaunchTimeout     time.Duration
	BootstrapAttempts int
	LivenessTimeout   time.Duration
	// Headless is only meant for CI; a human must see the window to log in.
	Headless bool
}

// BrowserSection manages browser launch settings.
type BrowserSection struct {
	settings BrowserSettings
	mu       sync.RWMutex
}

// NewBrowserSection creates a browser section with default settings.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *BrowserSection) ID() string { return SectionIDBrowser }

// Title returns the section title.
func (s *BrowserSection) Title() string { return "Browser" }

// Description returns the section description.
func (s *BrowserSection) Description() string {
	return "Browser engine, persistent profile location and launch retry policy."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"engine":             s.settings.Engine,
		"profile_root":       s.settings.ProfileRoot,
		"viewport_width":     s.settings.ViewportWidth,
		"viewport_height":    s.settings.ViewportHeight,
		"launch_attempts":    s.settings.LaunchAttempts,
		"launch_timeout":     s.settings.LaunchTimeout.String(),
		"bootstrap_attempts": s.settings.BootstrapAttempts,
		"liveness_timeout":   s.settings.LivenessTimeout.String(),
		"headless":           s.settings.Headless,
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "engine":
			s.settings.Engine, err = asString(key, value)
		case "profile_root":
			s.settings.ProfileRoot, err = asString(key, value)
		case "viewport_width":
			s.settings.ViewportWidth, err = asInt(key, value)
		case "viewport_height":
			s.settings.ViewportHeight, err = asInt(key, value)
		case "launch_attempts":
			s.settings.LaunchAttempts, err = asInt(key, value)
		case "launch_timeout":
			s.settings.LaunchTimeout, err = asDuration(key, value)
		case "bootstrap_attempts":
			s.settings.BootstrapAttempts, err = asInt(key, value)
		case "liveness_timeout":
			s.settings.LivenessTimeout, err = asDuration(key, value)
		case "headless":
			s.settings.Headless, err = asBool(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.settings.Engine {
	case EngineFirefox, EngineChromium:
	default:
		return fmt.Errorf("engine must be %q or %q, got %q", EngineFirefox, EngineChromium, s.settings.Engine)
	}
	if s.settings.ProfileRoot == "" {
		return fmt.Errorf("profile_root must not be empty")
	}
	if s.settings.LaunchAttempts < 1 || s.settings.BootstrapAttempts < 1 {
		return fmt.Errorf("launch_attempts and bootstrap_attempts must be at least 1")
	}
	if s.settings.ViewportWidth <= 0 || s.settings.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.settings.ViewportWidth, s.settings.ViewportHeight)
	}
	if s.settings.LivenessTimeout <= 0 || s.settings.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout and liveness_timeout must be positive")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = BrowserSettings{
		Engine:            EngineFirefox,
		ProfileRoot:       defaultProfileRoot(),
		ViewportWidth:     1280,
		ViewportHeight:    720,
		LaunchAttempts:    3,
		LaunchTimeout:     60 * time.Second,
		BootstrapAttempts: 5,
		LivenessTimeout:   2 * time.Second,
	}
}

// Settings returns a copy of the current settings.
func (s *BrowserSection) Settings() BrowserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func defaultProfileRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".browser-profiles"
	}
	return filepath.Join(home, ".reimburse", "browser-profiles")
}
