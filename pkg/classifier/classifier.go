// Package classifier maps free-text receipt data to the portal's
// (category, expense type) option ids using ordered keyword rules.
package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/reimburse/pkg/types"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ExpenseType is one option of the expense type dropdown.
type ExpenseType struct {
	Value string `yaml:"value" json:"value"`
	Title string `yaml:"title" json:"title"`
}

// Category is one option of the category dropdown with its dependent types.
type Category struct {
	Value        string        `yaml:"value" json:"value"`
	Title        string        `yaml:"title" json:"title"`
	ExpenseTypes []ExpenseType `yaml:"expenseTypes" json:"expenseTypes"`
}

// Rule selects an expense type when a keyword appears in one of Fields or
// the free-text category equals one of Categories.
type Rule struct {
	Name       string   `yaml:"name"`
	Keywords   []string `yaml:"keywords"`
	Fields     []string `yaml:"fields"`
	Categories []string `yaml:"categories"`
	// Unless names earlier rules whose keyword match suppresses this one.
	Unless []string `yaml:"unless"`
	// ExpenseType is matched case-insensitively against expense type titles.
	ExpenseType string `yaml:"expenseType"`
}

// Catalog is the full classifier configuration.
type Catalog struct {
	Category      string `yaml:"category"`
	ExcludeMarker string `yaml:"excludeMarker"`
	Fallback      struct {
		ExpenseType string `yaml:"expenseType"`
		Value       string `yaml:"value"`
	} `yaml:"fallback"`
	Categories []Category `yaml:"categories"`
	Rules      []Rule     `yaml:"rules"`
}

// Classifier is safe for concurrent use; it never mutates its catalog.
type Classifier struct {
	catalog Catalog
	target  *Category
}

// Default returns a classifier over the embedded catalog.
func Default() *Classifier {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog override from a YAML file.
func LoadFile(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a classifier from YAML.
func Parse(data []byte) (*Classifier, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if cat.Category == "" {
		return nil, fmt.Errorf("catalog has no target category")
	}
	if cat.Fallback.Value == "" {
		return nil, fmt.Errorf("catalog has no fallback expense type value")
	}

	c := &Classifier{catalog: cat}
	for i := range cat.Categories {
		if cat.Categories[i].Value == cat.Category {
			c.target = &c.catalog.Categories[i]
			break
		}
	}
	if c.target != nil {
		for _, rule := range cat.Rules {
			if _, ok := c.expenseType(rule.ExpenseType); !ok {
				return nil, fmt.Errorf("rule %q: no expense type matching %q in category %s", rule.Name, rule.ExpenseType, cat.Category)
			}
		}
	}
	return c, nil
}

// Categories returns the catalog's categories.
func (c *Classifier) Categories() []Category {
	return c.catalog.Categories
}

// Classify maps (category, description, merchant) to option ids. The result
// is never empty: when no rule applies the fallback pair is returned.
func (c *Classifier) Classify(category, description, merchant string) types.CategoryMapping {
	in := map[string]string{
		"description": strings.ToLower(description),
		"merchant":    strings.ToLower(merchant),
	}
	freeCategory := strings.ToLower(strings.TrimSpace(category))

	if c.target == nil {
		return types.CategoryMapping{CategoryValue: c.catalog.Category, ExpenseTypeValue: c.catalog.Fallback.Value}
	}

	keywordHit := make(map[string]bool, len(c.catalog.Rules))
	for _, rule := range c.catalog.Rules {
		hit := rule.keywordMatch(in)
		keywordHit[rule.Name] = hit

		if !hit && !slices.Contains(rule.Categories, freeCategory) {
			continue
		}
		if slices.ContainsFunc(rule.Unless, func(name string) bool { return keywordHit[name] }) {
			continue
		}
		if value, ok := c.expenseType(rule.ExpenseType); ok {
			return types.CategoryMapping{CategoryValue: c.target.Value, ExpenseTypeValue: value}
		}
	}

	value, ok := c.expenseType(c.catalog.Fallback.ExpenseType)
	if !ok {
		value = c.catalog.Fallback.Value
	}
	return types.CategoryMapping{CategoryValue: c.target.Value, ExpenseTypeValue: value}
}

func (r Rule) keywordMatch(in map[string]string) bool {
	for _, field := range r.Fields {
		text := in[field]
		if text == "" {
			continue
		}
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}

// expenseType finds the first type whose title contains needle, skipping
// titles carrying the exclude marker.
func (c *Classifier) expenseType(needle string) (string, bool) {
	if needle == "" {
		return "", false
	}
	needle = strings.ToLower(needle)
	for _, et := range c.target.ExpenseTypes {
		if c.catalog.ExcludeMarker != "" && strings.Contains(et.Title, c.catalog.ExcludeMarker) {
			continue
		}
		if strings.Contains(strings.ToLower(et.Title), needle) {
			return et.Value, true
		}
	}
	return "", false
}
