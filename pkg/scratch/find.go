package scratch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
)

// DefaultReceiptPattern matches receipts at any depth.
const DefaultReceiptPattern = "**.{pdf,PDF,jpg,JPG,jpeg,JPEG,png,PNG}"

// FindReceipts lists files below root whose slash-separated path relative
// to root matches pattern, sorted by path. An empty pattern selects
// DefaultReceiptPattern.
func FindReceipts(root, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultReceiptPattern
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	var found []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if g.Match(filepath.ToSlash(rel)) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(found)
	return found, nil
}
