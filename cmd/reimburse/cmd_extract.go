package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/reimburse/pkg/extract"
)

var (
	classifyDescription string
	classifyMerchant    string
)

var extractCmd = &cobra.Command{
	Use:   "extract <receipt>...",
	Short: "Read expense fields from receipt images",
	Long: `Sends each receipt image to the vision model and prints the extracted
fields together with the portal category they map to, one JSON object per
receipt.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [category]",
	Short: "Map an expense description to portal category and expense type ids",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyDescription, "description", "", "Expense description")
	classifyCmd.Flags().StringVar(&classifyMerchant, "merchant", "", "Merchant name")
}

func runExtract(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{component: "extract", requireExtractor: true})
	if err != nil {
		return err
	}
	defer a.Close()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read receipt: %w", err)
		}
		out, err := a.service.Extract(cmd.Context(), data, extract.MIMEFromPath(path))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := printJSON(cmd.OutOrStdout(), map[string]any{
			"file":             path,
			"date":             out.Fields.Date,
			"amount":           out.Fields.Amount,
			"merchant":         out.Fields.Merchant,
			"invoiceNumber":    out.Fields.InvoiceNumber,
			"description":      out.Fields.Description,
			"category":         out.Fields.Category,
			"categoryValue":    out.Mapping.CategoryValue,
			"expenseTypeValue": out.Mapping.ExpenseTypeValue,
		}); err != nil {
			return err
		}
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(flags.CatalogPath)
	if err != nil {
		return err
	}
	var category string
	if len(args) == 1 {
		category = args[0]
	}
	m := cat.Classify(category, classifyDescription, classifyMerchant)
	return printJSON(cmd.OutOrStdout(), m)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
