package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"

	"github.com/entrhq/reimburse/pkg/logging"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is a vision capable model
	DefaultModel = "gpt-4o"
)

const receiptPrompt = `Extract the following information from this receipt/invoice image and respond with a single JSON object:
{
  "date": "YYYY-MM-DD",
  "amount": <number>,
  "merchant": "<merchant or vendor name>",
  "invoiceNumber": "<invoice or bill number, empty if none>",
  "description": "<short description of the expense>",
  "category": "<one of: Travel, Food, Accommodation, Office Supplies, Other>"
}
Only return the JSON object, no other text.`

// OpenAIExtractor implements Extractor against an OpenAI-compatible chat completions API.
type OpenAIExtractor struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	logger     *logging.Logger
}

// Option configures an OpenAIExtractor.
type Option func(*OpenAIExtractor)

// WithModel sets the vision model.
func WithModel(model string) Option {
	return func(e *OpenAIExtractor) {
		e.model = model
	}
}

// WithBaseURL points the extractor at Azure OpenAI, a local server or any
// other compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(e *OpenAIExtractor) {
		e.baseURL = baseURL
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) Option {
	return func(e *OpenAIExtractor) {
		e.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *OpenAIExtractor) {
		e.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *OpenAIExtractor) {
		e.logger = l
	}
}

// NewOpenAIExtractor creates an extractor. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewOpenAIExtractor(apiKey string, opts ...Option) (*OpenAIExtractor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	e := &OpenAIExtractor{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		logger:     logging.Discard("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Model returns the configured model name.
func (e *OpenAIExtractor) Model() string { return e.model }

// BaseURL returns the configured endpoint.
func (e *OpenAIExtractor) BaseURL() string { return e.baseURL }

// Extract sends the image with the receipt prompt and parses the reply.
func (e *OpenAIExtractor) Extract(ctx context.Context, image []byte, mimeType string) (*Fields, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	mimeType = NormalizeMIME(mimeType)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(receiptPrompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}),
	}

	content, err := e.complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	e.logger.Debugf("extraction response: %s", content)

	fields, err := ParseResponse(content)
	if err != nil {
		e.logger.Warnf("could not parse extraction response: %v", err)
		return nil, err
	}
	e.logger.Infof("extracted receipt: merchant=%q amount=%s date=%s category=%s",
		fields.Merchant, fields.Amount, fields.Date, fields.Category)
	return fields, nil
}

func (e *OpenAIExtractor) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	reqBody := map[string]interface{}{
		"model":    e.model,
		"messages": messages,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return completion.Choices[0].Message.Content, nil
}
