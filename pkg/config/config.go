package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager creates a manager over store with every reimburse
// section registered and loaded.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)

	sections := []Section{
		NewPortalSection(),
		NewBrowserSection(),
		NewAutomationSection(),
		NewStorageSection(),
		NewExtractionSection(),
	}
	for _, section := range sections {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func globalSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	section, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetPortal returns the portal section, nil before Initialize.
func GetPortal() *PortalSection { return globalSection[*PortalSection](SectionIDPortal) }

// GetBrowser returns the browser section, nil before Initialize.
func GetBrowser() *BrowserSection { return globalSection[*BrowserSection](SectionIDBrowser) }

// GetAutomation returns the automation section, nil before Initialize.
func GetAutomation() *AutomationSection {
	return globalSection[*AutomationSection](SectionIDAutomation)
}

// GetStorage returns the storage section, nil before Initialize.
func GetStorage() *StorageSection { return globalSection[*StorageSection](SectionIDStorage) }

// GetExtraction returns the extraction section, nil before Initialize.
func GetExtraction() *ExtractionSection {
	return globalSection[*ExtractionSection](SectionIDExtraction)
}
