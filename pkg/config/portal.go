package config

import (
	"fmt"
	"net/url"
	"sync"
)

const (
	// SectionIDPortal is the identifier for the HR portal section
	SectionIDPortal = "portal"

	defaultHomeURL     = "https://zepto.darwinbox.in/"
	defaultLoginMarker = `img[src="/images/Icons_latest/attendance.png"]`
	defaultPublicURL   = "http://localhost:3000"
)

// PortalSettings locate the HR web application and this service's public address.
type PortalSettings struct {
	HomeURL string
	// LoginMarker is a selector only rendered for authenticated users.
	LoginMarker string
	// PublicURL prefixes the one-time login links handed to chat users.
	PublicURL string
}

// PortalSection manages the target application settings.
type PortalSection struct {
	settings PortalSettings
	mu       sync.RWMutex
}

// NewPortalSection creates a portal section with default settings.
func NewPortalSection() *PortalSection {
	s := &PortalSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *PortalSection) ID() string { return SectionIDPortal }

// Title returns the section title.
func (s *PortalSection) Title() string { return "Portal" }

// Description returns the section description.
func (s *PortalSection) Description() string {
	return "Where the HR portal lives and how to recognise a logged-in page."
}

// Data returns the current configuration data.
func (s *PortalSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"home_url":     s.settings.HomeURL,
		"login_marker": s.settings.LoginMarker,
		"public_url":   s.settings.PublicURL,
	}
}

// SetData updates the configuration from the provided data.
func (s *PortalSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var target *string
		switch key {
		case "home_url":
			target = &s.settings.HomeURL
		case "login_marker":
			target = &s.settings.LoginMarker
		case "public_url":
			target = &s.settings.PublicURL
		default:
			continue
		}
		v, err := asString(key, value)
		if err != nil {
			return err
		}
		if v != "" {
			*target = v
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *PortalSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, raw := range map[string]string{"home_url": s.settings.HomeURL, "public_url": s.settings.PublicURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}
	if s.settings.LoginMarker == "" {
		return fmt.Errorf("login_marker must not be empty")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *PortalSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = PortalSettings{
		HomeURL:     defaultHomeURL,
		LoginMarker: defaultLoginMarker,
		PublicURL:   defaultPublicURL,
	}
}

// Settings returns a copy of the current settings.
func (s *PortalSection) Settings() PortalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
