package config

import (
	"sync"
	"time"
)

const (
	// SectionIDExtraction is the identifier for the receipt extraction section
	SectionIDExtraction = "extraction"

	defaultExtractionTimeout = 60 * time.Second
)

// ExtractionSection manages the vision model used to read receipts.
type ExtractionSection struct {
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	mu      sync.RWMutex
}

// NewExtractionSection creates a new extraction section with default settings.
func NewExtractionSection() *ExtractionSection {
	return &ExtractionSection{Timeout: defaultExtractionTimeout}
}

// ID returns the section identifier.
func (s *ExtractionSection) ID() string {
	return SectionIDExtraction
}

// Title returns the section title.
func (s *ExtractionSection) Title() string {
	return "Receipt Extraction"
}

// Description returns the section description.
func (s *ExtractionSection) Description() string {
	return "OpenAI-compatible vision model used to read date, amount and merchant from receipt images."
}

// Data returns the current configuration data.
func (s *ExtractionSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"model":    s.Model,
		"base_url": s.BaseURL,
		"api_key":  s.APIKey,
		"timeout":  s.Timeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *ExtractionSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if model, ok := data["model"].(string); ok {
		s.Model = model
	}

	if baseURL, ok := data["base_url"].(string); ok {
		s.BaseURL = baseURL
	}

	if apiKey, ok := data["api_key"].(string); ok {
		s.APIKey = apiKey
	}

	if raw, ok := data["timeout"]; ok {
		d, err := asDuration("timeout", raw)
		if err != nil {
			return err
		}
		s.Timeout = d
	}

	return nil
}

// Validate validates the current configuration.
func (s *ExtractionSection) Validate() error {
	// Credentials are checked when an extractor is built; the CLI can run
	// login and submit commands without them.
	return nil
}

// Reset resets the section to default configuration.
func (s *ExtractionSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = ""
	s.BaseURL = ""
	s.APIKey = ""
	s.Timeout = defaultExtractionTimeout
}

// GetModel returns the configured model name.
func (s *ExtractionSection) GetModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// GetBaseURL returns the configured base URL.
func (s *ExtractionSection) GetBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseURL
}

// GetAPIKey returns the configured API key.
func (s *ExtractionSection) GetAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APIKey
}

// GetTimeout returns the per-request timeout.
func (s *ExtractionSection) GetTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Timeout
}
