package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/reimburse/pkg/extract"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/types"
)

// manifest lists the expenses of a batch. Receipt paths are relative to
// the manifest file.
//
//	session: 3f2b...
//	expenses:
//	  - receipt: taxi.png
//	    date: 2024-05-01
//	    amount: "420.50"
//	    merchant: Uber
//	    description: Airport drop
//	    category: Travel
type manifest struct {
	Session  string          `yaml:"session"`
	Expenses []manifestEntry `yaml:"expenses"`
}

type manifestEntry struct {
	Receipt       string `yaml:"receipt"`
	Date          string `yaml:"date"`
	Amount        string `yaml:"amount"`
	Merchant      string `yaml:"merchant"`
	InvoiceNumber string `yaml:"invoiceNumber"`
	Description   string `yaml:"description"`

	// Category is classified when the option ids are not given.
	Category         string `yaml:"category"`
	CategoryValue    string `yaml:"categoryValue"`
	ExpenseTypeValue string `yaml:"expenseTypeValue"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Expenses) == 0 {
		return nil, fmt.Errorf("manifest %s lists no expenses", path)
	}
	return &m, nil
}

// classifyFunc maps a category and free text to portal option ids.
type classifyFunc func(category, description, merchant string) types.CategoryMapping

// items turns the manifest into submission items, reading every receipt.
func (m *manifest) items(baseDir string, classify classifyFunc) ([]service.Item, error) {
	items := make([]service.Item, 0, len(m.Expenses))
	for i, e := range m.Expenses {
		item, err := e.item(baseDir, classify)
		if err != nil {
			return nil, fmt.Errorf("expense %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (e manifestEntry) item(baseDir string, classify classifyFunc) (service.Item, error) {
	if e.Receipt == "" {
		return service.Item{}, fmt.Errorf("receipt is required")
	}
	date, err := types.ParseDate(e.Date)
	if err != nil {
		return service.Item{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amount))
	if err != nil {
		return service.Item{}, fmt.Errorf("invalid amount %q: %w", e.Amount, err)
	}

	path := e.Receipt
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return service.Item{}, fmt.Errorf("read receipt: %w", err)
	}

	mapping := types.CategoryMapping{CategoryValue: e.CategoryValue, ExpenseTypeValue: e.ExpenseTypeValue}
	if mapping.CategoryValue == "" || mapping.ExpenseTypeValue == "" {
		mapping = classify(e.Category, e.Description, e.Merchant)
	}

	return service.Item{
		Record: types.ExpenseRecord{
			Date:             date,
			Amount:           amount,
			Merchant:         strings.TrimSpace(e.Merchant),
			InvoiceNumber:    strings.TrimSpace(e.InvoiceNumber),
			Description:      strings.TrimSpace(e.Description),
			CategoryValue:    mapping.CategoryValue,
			ExpenseTypeValue: mapping.ExpenseTypeValue,
		},
		Receipt: service.Receipt{Name: filepath.Base(path), Data: data},
	}, nil
}

// extractFunc reads a receipt into fields and their mapping.
type extractFunc func(ctx context.Context, data []byte, mimeType string) (*service.Extraction, error)

// folderItems finds receipts under dir and reads each with the vision
// model. Receipts the model cannot read are reported and skipped.
func folderItems(ctx context.Context, dir, pattern string, read extractFunc, warn func(string, error)) ([]service.Item, error) {
	paths, err := scratch.FindReceipts(dir, pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no receipts found in %s", dir)
	}

	items := make([]service.Item, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read receipt: %w", err)
		}
		out, err := read(ctx, data, extract.MIMEFromPath(path))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			warn(path, err)
			continue
		}
		date, err := types.ParseDate(out.Fields.Date)
		if err != nil {
			warn(path, err)
			continue
		}
		items = append(items, service.Item{
			Record: types.ExpenseRecord{
				Date:             date,
				Amount:           out.Fields.Amount,
				Merchant:         out.Fields.Merchant,
				InvoiceNumber:    out.Fields.InvoiceNumber,
				Description:      out.Fields.Description,
				CategoryValue:    out.Mapping.CategoryValue,
				ExpenseTypeValue: out.Mapping.ExpenseTypeValue,
			},
			Receipt: service.Receipt{Name: filepath.Base(path), Data: data},
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("none of the %d receipts in %s could be read", len(paths), dir)
	}
	return items, nil
}
