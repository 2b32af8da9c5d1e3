package config

import (
	"fmt"
	"strings"
	"sync"
)

// Section is one named group of settings persisted in the config file.
type Section interface {
	// ID returns the key the section is stored under
	ID() string

	// Title returns a human readable name
	Title() string

	// Description explains what the section configures
	Description() string

	// Data returns the current values as a plain map
	Data() map[string]any

	// SetData applies values read from the store
	SetData(data map[string]any) error

	// Validate reports whether the current values are usable
	Validate() error

	// Reset restores defaults
	Reset()
}

// Manager owns the registered sections and moves their data to and from a Store.
type Manager struct {
	store    Store
	sections map[string]Section
	order    []string
	mu       sync.RWMutex
}

// NewManager creates a manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		sections: make(map[string]Section),
	}
}

// Path is where the backing store lives.
func (m *Manager) Path() string { return m.store.Path() }

// RegisterSection adds a section. IDs must be unique.
func (m *Manager) RegisterSection(section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := section.ID()
	if _, exists := m.sections[id]; exists {
		return fmt.Errorf("section %q already registered", id)
	}

	m.sections[id] = section
	m.order = append(m.order, id)
	return nil
}

// GetSection returns the section registered under id.
func (m *Manager) GetSection(id string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	section, ok := m.sections[id]
	return section, ok
}

// Sections returns all sections in registration order.
func (m *Manager) Sections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sections := make([]Section, 0, len(m.order))
	for _, id := range m.order {
		sections = append(sections, m.sections[id])
	}
	return sections
}

// LoadAll reloads the store and pushes its data into every section. A
// stored section nobody registered is a typo in a hand-edited file and
// fails the load.
func (m *Manager) LoadAll() error {
	if err := m.store.Load(); err != nil {
		return err
	}
	if err := m.checkSectionIDs(); err != nil {
		return err
	}

	for _, section := range m.Sections() {
		data, err := m.store.Section(section.ID())
		if err != nil {
			return fmt.Errorf("read section %s: %w", section.ID(), err)
		}
		if len(data) == 0 {
			continue
		}
		if err := section.SetData(data); err != nil {
			return fmt.Errorf("apply section %s: %w", section.ID(), err)
		}
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid %s settings in %s: %w", section.ID(), m.store.Path(), err)
		}
	}
	return nil
}

func (m *Manager) checkSectionIDs() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.store.SectionIDs() {
		if _, ok := m.sections[id]; !ok {
			return fmt.Errorf("unknown section %q in %s (known: %s)", id, m.store.Path(), strings.Join(m.order, ", "))
		}
	}
	return nil
}

// SaveAll validates every section and writes them to the store.
func (m *Manager) SaveAll() error {
	sections := m.Sections()

	for _, section := range sections {
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid %s settings: %w", section.ID(), err)
		}
	}

	for _, section := range sections {
		if err := m.store.SetSection(section.ID(), section.Data()); err != nil {
			return fmt.Errorf("store section %s: %w", section.ID(), err)
		}
	}
	return m.store.Save()
}

// ResetAll restores every section to defaults. Nothing is persisted until SaveAll.
func (m *Manager) ResetAll() {
	for _, section := range m.Sections() {
		section.Reset()
	}
}
