// Package extract reads structured expense fields out of receipt images
// using an OpenAI-compatible vision model.
package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCategory is used when the model does not name one.
const DefaultCategory = "Other"

// Fields is what a receipt yields. Date is YYYY-MM-DD when the model complies.
type Fields struct {
	Date          string          `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Merchant      string          `json:"merchant"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
}

// Extractor turns an image into Fields.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*Fields, error)
}

var supportedMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// NormalizeMIME maps a declared content type to one the vision API accepts.
// image/jpg becomes image/jpeg and anything unsupported falls back to image/png.
func NormalizeMIME(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "image/jpg" {
		m = "image/jpeg"
	}
	if !supportedMIME[m] {
		return "image/png"
	}
	return m
}

// MIMEFromPath guesses the content type from a file extension.
func MIMEFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "image/png"
	}
}
