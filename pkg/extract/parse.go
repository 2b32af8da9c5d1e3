package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/entrhq/reimburse/pkg/types"
)

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	// amountNumber is the first number in an amount, so currency prefixes
	// such as "Rs." never contribute a decimal point.
	amountNumber = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)
)

// ParseResponse pulls the single JSON object out of free-form model output.
// Markdown code fences and trailing commas are tolerated. Output without a
// parseable object fails with types.ErrNoJSON.
func ParseResponse(text string) (*Fields, error) {
	body := text
	if m := codeFence.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, types.ErrNoJSON
	}
	body = trailingComma.ReplaceAllString(body[start:end+1], "$1")

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNoJSON, err)
	}

	amount, err := parseAmount(raw["amount"])
	if err != nil {
		return nil, err
	}

	fields := &Fields{
		Date:          stringField(raw, "date"),
		Amount:        amount,
		Merchant:      stringField(raw, "merchant"),
		InvoiceNumber: stringField(raw, "invoiceNumber", "invoice_number"),
		Description:   stringField(raw, "description"),
		Category:      stringField(raw, "category"),
	}
	if fields.Category == "" {
		fields.Category = DefaultCategory
	}
	return fields, nil
}

func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

func parseAmount(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		number := amountNumber.FindString(v)
		if number == "" {
			return decimal.Zero, nil
		}
		cleaned := strings.ReplaceAll(number, ",", "")
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount %q: %w", v, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("invalid amount type %T", value)
	}
}
