package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortalSection(t *testing.T) {
	s := NewPortalSection()
	assert.Equal(t, SectionIDPortal, s.ID())
	assert.Equal(t, "https://zepto.darwinbox.in/", s.Settings().HomeURL)
	require.NoError(t, s.Validate())

	require.NoError(t, s.SetData(map[string]any{"home_url": "https://acme.darwinbox.in/", "login_marker": ""}))
	assert.Equal(t, "https://acme.darwinbox.in/", s.Settings().HomeURL)
	assert.NotEmpty(t, s.Settings().LoginMarker, "empty strings keep the default")

	require.NoError(t, s.SetData(map[string]any{"public_url": "not a url"}))
	assert.Error(t, s.Validate())

	assert.Error(t, s.SetData(map[string]any{"home_url": 42}))

	s.Reset()
	assert.NoError(t, s.Validate())
}

func TestBrowserSection(t *testing.T) {
	s := NewBrowserSection()
	got := s.Settings()
	assert.Equal(t, EngineFirefox, got.Engine)
	assert.Equal(t, 3, got.LaunchAttempts)
	assert.Equal(t, 60*time.Second, got.LaunchTimeout)
	assert.False(t, got.Headless)
	require.NoError(t, s.Validate())

	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
		valid   bool
	}{
		{name: "engine override", data: map[string]any{"engine": "chromium"}, valid: true},
		{name: "unknown engine", data: map[string]any{"engine": "webkit"}, valid: false},
		{name: "zero attempts", data: map[string]any{"launch_attempts": float64(0)}, valid: false},
		{name: "duration string", data: map[string]any{"liveness_timeout": "500ms"}, valid: true},
		{name: "bad duration", data: map[string]any{"liveness_timeout": "soon"}, wantErr: true},
		{name: "bad bool", data: map[string]any{"headless": "yes"}, wantErr: true},
		{name: "unknown key ignored", data: map[string]any{"future": true}, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBrowserSection()
			err := s.SetData(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.valid {
				assert.NoError(t, s.Validate())
			} else {
				assert.Error(t, s.Validate())
			}
		})
	}
}

func TestAutomationSection(t *testing.T) {
	s := NewAutomationSection()
	assert.Equal(t, 1500*time.Millisecond, s.Timing(TimingCategorySettle))
	assert.Equal(t, 2*time.Second, s.Timing(TimingTypeSettle))
	assert.Equal(t, 3, s.AdvanceAttempts())
	assert.Zero(t, s.Timing("nope"))

	data := s.Data()
	assert.Equal(t, "800ms", data[TimingDropdownSettle])

	require.NoError(t, s.SetData(map[string]any{TimingSaveSettle: "4s", "advance_attempts": float64(5), "unknown": "1s"}))
	assert.Equal(t, 4*time.Second, s.Timing(TimingSaveSettle))
	assert.Equal(t, 5, s.AdvanceAttempts())
	require.NoError(t, s.Validate())

	require.NoError(t, s.SetData(map[string]any{TimingForm: "10m"}))
	assert.Error(t, s.Validate())

	s.Reset()
	assert.Equal(t, 10*time.Second, s.Timing(TimingForm))
}

func TestStorageSection(t *testing.T) {
	s := NewStorageSection()
	got := s.Settings()
	assert.Equal(t, DriverMemory, got.Driver)
	assert.Equal(t, 24*time.Hour, got.SessionTTL)
	assert.Equal(t, 15*time.Minute, got.LoginTokenTTL)
	assert.Equal(t, 5*time.Minute, got.ProgressTTL)
	require.NoError(t, s.Validate())

	require.NoError(t, s.SetData(map[string]any{"driver": DriverSQLite}))
	assert.Error(t, s.Validate(), "sqlite requires a dsn")

	require.NoError(t, s.SetData(map[string]any{"dsn": "file:test.db"}))
	assert.NoError(t, s.Validate())
}
