package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SectionIDAutomation is the identifier for the automation timing section
const SectionIDAutomation = "automation"

// Timing keys. Timeouts bound condition waits, settles are fixed pauses used
// only where the portal exposes no readiness signal.
const (
	TimingNavigation      = "navigation_timeout"
	TimingLoginMarker     = "login_marker_timeout"
	TimingStep            = "step_timeout"
	TimingForm            = "form_timeout"
	TimingField           = "field_timeout"
	TimingUploadConfirm   = "upload_confirm_timeout"
	TimingNetworkIdle     = "network_idle_timeout"
	TimingDropdownSettle  = "dropdown_settle"
	TimingCategorySettle  = "category_settle"
	TimingTypeSettle      = "expense_type_settle"
	TimingCalendarSettle  = "calendar_settle"
	TimingSaveSettle      = "save_settle"
	TimingAdvanceSettle   = "advance_settle"
	TimingKeystrokeDelay  = "keystroke_delay"
	automationRetriesKey  = "advance_attempts"
	defaultAdvanceRetries = 3
)

var defaultTimings = map[string]time.Duration{
	TimingNavigation:     30 * time.Second,
	TimingLoginMarker:    5 * time.Second,
	TimingStep:           10 * time.Second,
	TimingForm:           10 * time.Second,
	TimingField:          5 * time.Second,
	TimingUploadConfirm:  3 * time.Second,
	TimingNetworkIdle:    5 * time.Second,
	TimingDropdownSettle: 800 * time.Millisecond,
	TimingCategorySettle: 1500 * time.Millisecond,
	TimingTypeSettle:     2 * time.Second,
	TimingCalendarSettle: 800 * time.Millisecond,
	TimingSaveSettle:     1500 * time.Millisecond,
	TimingAdvanceSettle:  2 * time.Second,
	TimingKeystrokeDelay: 30 * time.Millisecond,
}

// AutomationSection holds the waits used while driving the expense form.
type AutomationSection struct {
	timings         map[string]time.Duration
	advanceAttempts int
	mu              sync.RWMutex
}

// NewAutomationSection creates an automation section with default timings.
func NewAutomationSection() *AutomationSection {
	s := &AutomationSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *AutomationSection) ID() string { return SectionIDAutomation }

// Title returns the section title.
func (s *AutomationSection) Title() string { return "Automation Timings" }

// Description returns the section description.
func (s *AutomationSection) Description() string {
	return "Element timeouts and settle delays for form automation. Raise them on slow networks."
}

// Data returns the current configuration data.
func (s *AutomationSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := make(map[string]any, len(s.timings)+1)
	for key, d := range s.timings {
		data[key] = d.String()
	}
	data[automationRetriesKey] = s.advanceAttempts
	return data
}

// SetData updates the configuration from the provided data.
func (s *AutomationSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		if key == automationRetriesKey {
			n, err := asInt(key, value)
			if err != nil {
				return err
			}
			s.advanceAttempts = n
			continue
		}
		if _, known := defaultTimings[key]; !known {
			continue
		}
		d, err := asDuration(key, value)
		if err != nil {
			return err
		}
		s.timings[key] = d
	}
	return nil
}

// Validate validates the current configuration.
func (s *AutomationSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.timings))
	for key := range s.timings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if d := s.timings[key]; d < 0 || d > 5*time.Minute {
			return fmt.Errorf("%s must be between 0 and 5m, got %v", key, d)
		}
	}
	if s.advanceAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", automationRetriesKey)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *AutomationSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings = make(map[string]time.Duration, len(defaultTimings))
	for key, d := range defaultTimings {
		s.timings[key] = d
	}
	s.advanceAttempts = defaultAdvanceRetries
}

// Timing returns the duration configured for key, or zero for unknown keys.
func (s *AutomationSection) Timing(key string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timings[key]
}

// AdvanceAttempts returns how often the "create next expense" control is retried.
func (s *AutomationSection) AdvanceAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advanceAttempts
}
