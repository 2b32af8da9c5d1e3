package config

import (
	"fmt"
	"os"
	"time"

	"github.com/entrhq/reimburse/pkg/extract"
	"github.com/entrhq/reimburse/pkg/logging"
)

// ExtractionSettings is the resolved vision model configuration.
type ExtractionSettings struct {
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ResolveExtraction applies the precedence
// CLI flags > Environment variables > Config file > Defaults.
func ResolveExtraction(cliModel, cliBaseURL, cliAPIKey, defaultModel string) (ExtractionSettings, error) {
	final := ExtractionSettings{
		Model:   cliModel,
		BaseURL: cliBaseURL,
		APIKey:  cliAPIKey,
		Timeout: defaultExtractionTimeout,
	}

	if final.APIKey == "" {
		final.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if final.BaseURL == "" {
		final.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if fromFile := GetExtraction(); fromFile != nil {
		// Model: the file wins only over an unset or default CLI value
		if cliModel == "" || cliModel == defaultModel {
			if m := fromFile.GetModel(); m != "" {
				final.Model = m
			}
		}
		if final.BaseURL == "" {
			final.BaseURL = fromFile.GetBaseURL()
		}
		if final.APIKey == "" {
			final.APIKey = fromFile.GetAPIKey()
		}
		if d := fromFile.GetTimeout(); d > 0 {
			final.Timeout = d
		}
	}

	if final.Model == "" {
		final.Model = defaultModel
	}

	if final.APIKey == "" {
		return final, fmt.Errorf("API key is required. Set OPENAI_API_KEY environment variable, use --api-key flag, or configure extraction.api_key in ~/.reimburse/config.json")
	}
	return final, nil
}

// BuildExtractor resolves the extraction settings and creates the extractor.
func BuildExtractor(cliModel, cliBaseURL, cliAPIKey, defaultModel string, logger *logging.Logger) (*extract.OpenAIExtractor, error) {
	settings, err := ResolveExtraction(cliModel, cliBaseURL, cliAPIKey, defaultModel)
	if err != nil {
		return nil, err
	}

	opts := []extract.Option{
		extract.WithModel(settings.Model),
		extract.WithTimeout(settings.Timeout),
	}
	if settings.BaseURL != "" {
		opts = append(opts, extract.WithBaseURL(settings.BaseURL))
	}
	if logger != nil {
		opts = append(opts, extract.WithLogger(logger))
	}

	ex, err := extract.NewOpenAIExtractor(settings.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	return ex, nil
}
