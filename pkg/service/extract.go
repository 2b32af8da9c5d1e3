package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/entrhq/reimburse/pkg/extract"
	"github.com/entrhq/reimburse/pkg/types"
)

// MaxReceiptSize bounds uploaded receipts.
const MaxReceiptSize = 10 << 20

var extractableMIME = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// Extraction is a receipt's fields plus the portal option pair they map to.
type Extraction struct {
	Fields  extract.Fields        `json:"fields"`
	Mapping types.CategoryMapping `json:"mapping"`
}

// Extract reads a receipt image and classifies it. An empty mimeType is
// sniffed from the data.
func (s *Service) Extract(ctx context.Context, data []byte, mimeType string) (*Extraction, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("extraction is not configured: set an API key")
	}
	if len(data) == 0 {
		return nil, invalid("no file uploaded")
	}
	if len(data) > MaxReceiptSize {
		return nil, invalid("file is larger than %d MB", MaxReceiptSize>>20)
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !extractableMIME[mimeType] {
		return nil, invalid("unsupported file type %q: only JPEG, PNG and WebP images can be read", mimeType)
	}

	fields, err := s.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return &Extraction{
		Fields:  *fields,
		Mapping: s.Classify(fields.Category, fields.Description, fields.Merchant),
	}, nil
}

// Classify maps free text to portal option ids.
func (s *Service) Classify(category, description, merchant string) types.CategoryMapping {
	return s.classifier.Classify(category, description, merchant)
}
