package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// SectionIDStorage is the identifier for the storage section
	SectionIDStorage = "storage"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// StorageSettings select the session store and the retention of its entries.
type StorageSettings struct {
	Driver        string
	DSN           string
	ScratchDir    string
	SessionTTL    time.Duration
	LoginTokenTTL time.Duration
	ProgressTTL   time.Duration
	// MaxBrowsers caps concurrently automated sessions on this host.
	MaxBrowsers int
}

// StorageSection manages persistence settings.
type StorageSection struct {
	settings StorageSettings
	mu       sync.RWMutex
}

// NewStorageSection creates a storage section with default settings.
func NewStorageSection() *StorageSection {
	s := &StorageSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *StorageSection) ID() string { return SectionIDStorage }

// Title returns the section title.
func (s *StorageSection) Title() string { return "Storage" }

// Description returns the section description.
func (s *StorageSection) Description() string {
	return "Session store driver, scratch directory for receipts and retention windows."
}

// Data returns the current configuration data.
func (s *StorageSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"driver":          s.settings.Driver,
		"dsn":             s.settings.DSN,
		"scratch_dir":     s.settings.ScratchDir,
		"session_ttl":     s.settings.SessionTTL.String(),
		"login_token_ttl": s.settings.LoginTokenTTL.String(),
		"progress_ttl":    s.settings.ProgressTTL.String(),
		"max_browsers":    s.settings.MaxBrowsers,
	}
}

// SetData updates the configuration from the provided data.
func (s *StorageSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "driver":
			s.settings.Driver, err = asString(key, value)
		case "dsn":
			s.settings.DSN, err = asString(key, value)
		case "scratch_dir":
			s.settings.ScratchDir, err = asString(key, value)
		case "session_ttl":
			s.settings.SessionTTL, err = asDuration(key, value)
		case "login_token_ttl":
			s.settings.LoginTokenTTL, err = asDuration(key, value)
		case "progress_ttl":
			s.settings.ProgressTTL, err = asDuration(key, value)
		case "max_browsers":
			s.settings.MaxBrowsers, err = asInt(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *StorageSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.settings.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.settings.DSN == "" {
			return fmt.Errorf("dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverMemory, DriverSQLite, s.settings.Driver)
	}
	if s.settings.SessionTTL <= 0 || s.settings.LoginTokenTTL <= 0 || s.settings.ProgressTTL <= 0 {
		return fmt.Errorf("ttl values must be positive")
	}
	if s.settings.MaxBrowsers < 1 {
		return fmt.Errorf("max_browsers must be at least 1")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *StorageSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = StorageSettings{
		Driver:        DriverMemory,
		ScratchDir:    filepath.Join(os.TempDir(), "reimburse-uploads"),
		SessionTTL:    24 * time.Hour,
		LoginTokenTTL: 15 * time.Minute,
		ProgressTTL:   5 * time.Minute,
		MaxBrowsers:   4,
	}
}

// Settings returns a copy of the current settings.
func (s *StorageSection) Settings() StorageSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
