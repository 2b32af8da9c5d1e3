package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultTestModel = "test-default-model"

func TestResolveExtraction(t *testing.T) {
	testCases := []struct {
		name            string
		cliModel        string
		cliBaseURL      string
		cliAPIKey       string
		envAPIKey       string
		envBaseURL      string
		fileContent     map[string]interface{}
		expectedModel   string
		expectedBaseURL string
		expectedAPIKey  string
		expectError     bool
	}{
		{
			name:            "CLI flags take precedence",
			cliModel:        "cli-model",
			cliBaseURL:      "https://cli.url",
			cliAPIKey:       "cli-key",
			envAPIKey:       "env-key",
			envBaseURL:      "https://env.url",
			fileContent:     map[string]interface{}{"model": "file-model", "api_key": "file-key"},
			expectedModel:   "cli-model",
			expectedBaseURL: "https://cli.url",
			expectedAPIKey:  "cli-key",
		},
		{
			name:            "environment over file",
			cliModel:        defaultTestModel,
			envAPIKey:       "env-key",
			envBaseURL:      "https://env.url",
			fileContent:     map[string]interface{}{"base_url": "https://file.url", "api_key": "file-key"},
			expectedModel:   defaultTestModel,
			expectedBaseURL: "https://env.url",
			expectedAPIKey:  "env-key",
		},
		{
			name:            "file when nothing else is set",
			cliModel:        defaultTestModel,
			fileContent:     map[string]interface{}{"model": "file-model", "base_url": "https://file.url", "api_key": "file-key"},
			expectedModel:   "file-model",
			expectedBaseURL: "https://file.url",
			expectedAPIKey:  "file-key",
		},
		{
			name:        "missing key",
			fileContent: map[string]interface{}{},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", tc.envAPIKey)
			t.Setenv("OPENAI_BASE_URL", tc.envBaseURL)

			resetGlobal()
			configPath := filepath.Join(t.TempDir(), "config.json")
			store, err := NewFileStore(configPath)
			require.NoError(t, err)
			require.NoError(t, store.SetSection(SectionIDExtraction, tc.fileContent))
			require.NoError(t, store.Save())
			require.NoError(t, Initialize(configPath))

			got, err := ResolveExtraction(tc.cliModel, tc.cliBaseURL, tc.cliAPIKey, defaultTestModel)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedModel, got.Model)
			assert.Equal(t, tc.expectedBaseURL, got.BaseURL)
			assert.Equal(t, tc.expectedAPIKey, got.APIKey)
		})
	}
}

func TestBuildExtractor(t *testing.T) {
	resetGlobal()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	ex, err := BuildExtractor("vision", "http://localhost:9999/v1", "key", "default", nil)
	require.NoError(t, err)
	assert.Equal(t, "vision", ex.Model())
	assert.Equal(t, "http://localhost:9999/v1", ex.BaseURL())

	_, err = BuildExtractor("", "", "", "default", nil)
	assert.Error(t, err)
}
