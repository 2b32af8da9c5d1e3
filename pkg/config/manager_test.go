package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, sections map[string]map[string]any) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	for id, data := range sections {
		require.NoError(t, store.SetSection(id, data))
	}
	require.NoError(t, store.Save())
	m, err := NewDefaultManager(store)
	if err != nil {
		return nil, store
	}
	return m, store
}

func TestManager_RegistersSectionsInOrder(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.NotNil(t, m)

	var ids []string
	for _, s := range m.Sections() {
		ids = append(ids, s.ID())
		assert.NotEmpty(t, s.Title())
		assert.NotEmpty(t, s.Description())
	}
	assert.Equal(t, []string{SectionIDPortal, SectionIDBrowser, SectionIDAutomation, SectionIDStorage, SectionIDExtraction}, ids)

	err := m.RegisterSection(NewPortalSection())
	assert.ErrorContains(t, err, "already registered")
}

func TestManager_LoadAllAppliesStoredValues(t *testing.T) {
	m, _ := newTestManager(t, map[string]map[string]any{
		SectionIDStorage:    {"driver": DriverSQLite, "dsn": "file:sessions.db", "max_browsers": float64(2)},
		SectionIDAutomation: {TimingCategorySettle: "3s"},
	})
	require.NotNil(t, m)

	s, ok := m.GetSection(SectionIDStorage)
	require.True(t, ok)
	got := s.(*StorageSection).Settings()
	assert.Equal(t, DriverSQLite, got.Driver)
	assert.Equal(t, 2, got.MaxBrowsers)

	a, _ := m.GetSection(SectionIDAutomation)
	assert.Equal(t, 3*time.Second, a.(*AutomationSection).Timing(TimingCategorySettle))
}

func TestManager_LoadAllRejectsUnknownSections(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.NoError(t, store.SetSection("brower", map[string]any{"engine": EngineChromium}))
	require.NoError(t, store.Save())

	_, err = NewDefaultManager(store)
	assert.ErrorContains(t, err, `unknown section "brower"`)
	assert.ErrorContains(t, err, SectionIDBrowser)
}

func TestManager_LoadAllRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		section string
		data    map[string]any
		want    string
	}{
		{"sqlite without dsn", SectionIDStorage, map[string]any{"driver": DriverSQLite}, "dsn is required"},
		{"unknown engine", SectionIDBrowser, map[string]any{"engine": "webkit"}, "engine must be"},
		{"relative portal url", SectionIDPortal, map[string]any{"home_url": "acme.darwinbox.in"}, "home_url"},
		{"wrong type", SectionIDStorage, map[string]any{"max_browsers": "four"}, "apply section storage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
			require.NoError(t, err)
			require.NoError(t, store.SetSection(tt.section, tt.data))
			_, err = NewDefaultManager(store)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestManager_SaveAll(t *testing.T) {
	m, store := newTestManager(t, nil)
	require.NotNil(t, m)

	s, _ := m.GetSection(SectionIDStorage)
	require.NoError(t, s.SetData(map[string]any{"driver": DriverSQLite, "dsn": "file:x.db"}))
	require.NoError(t, m.SaveAll())

	reopened, err := NewFileStore(store.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{SectionIDAutomation, SectionIDBrowser, SectionIDExtraction, SectionIDPortal, SectionIDStorage}, reopened.SectionIDs())
	data, err := reopened.Section(SectionIDStorage)
	require.NoError(t, err)
	assert.Equal(t, "file:x.db", data["dsn"])
}

func TestManager_SaveAllValidatesFirst(t *testing.T) {
	m, store := newTestManager(t, nil)
	require.NotNil(t, m)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	s, _ := m.GetSection(SectionIDStorage)
	require.NoError(t, s.SetData(map[string]any{"driver": "redis"}))
	assert.ErrorContains(t, m.SaveAll(), "invalid storage settings")

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestManager_ResetAll(t *testing.T) {
	m, _ := newTestManager(t, map[string]map[string]any{
		SectionIDStorage: {"driver": DriverSQLite, "dsn": "file:sessions.db"},
	})
	require.NotNil(t, m)

	m.ResetAll()
	s, _ := m.GetSection(SectionIDStorage)
	assert.Equal(t, DriverMemory, s.(*StorageSection).Settings().Driver)
}
