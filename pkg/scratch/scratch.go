// Package scratch manages receipt files on local disk: uploads waiting to
// be submitted and the temporary copies handed to the browser.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/reimburse/pkg/logging"
)

// DefaultExtension is used for receipts uploaded without one.
const DefaultExtension = ".pdf"

// Dir is a scratch directory.
type Dir struct {
	root   string
	logger *logging.Logger
	now    func() time.Time
}

// Open creates root if needed and returns it as a scratch directory.
func Open(root string, logger *logging.Logger) (*Dir, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "reimburse-uploads")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	if logger == nil {
		logger = logging.Discard("scratch")
	}
	return &Dir{root: root, logger: logger, now: time.Now}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// WriteReceipt stores data as the receipt of record index in a batch owned
// by sessionID and returns its path. The caller removes it after use.
func (d *Dir) WriteReceipt(sessionID string, index int, fileName string, data []byte) (string, error) {
	name := fmt.Sprintf("invoice-%s-%d-%d%s", sanitize(sessionID), d.now().UnixNano(), index, extension(fileName))
	path := filepath.Join(d.root, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return path, nil
}

// Remove deletes paths, ignoring files that are already gone. Other
// errors are logged.
func (d *Dir) Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warnf("could not remove %s: %v", p, err)
		}
	}
}

func extension(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" || len(ext) > 6 {
		return DefaultExtension
	}
	return ext
}

// sanitize keeps ids usable inside file names.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
