package scratch

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// Keep pdfcpu from creating a config directory under the user's home.
	api.DisableConfigDir()
}

// Receipt types the portal accepts.
var receiptTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
}

// ValidateReceipt checks that path holds a receipt the portal will accept:
// a structurally valid PDF or a common image format.
func ValidateReceipt(path string) error {
	mime, err := sniff(path)
	if err != nil {
		return err
	}
	if !receiptTypes[mime] {
		return fmt.Errorf("%s: unsupported receipt type %s", filepath.Base(path), mime)
	}
	if mime != "application/pdf" {
		return nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return fmt.Errorf("%s: invalid PDF: %w", filepath.Base(path), err)
	}
	return nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open receipt: %w", err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read receipt: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%s: empty receipt", filepath.Base(path))
	}
	mime := http.DetectContentType(head[:n])
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime, nil
}
