package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO date layout used for expense dates.
const DateLayout = "2006-01-02"

// ExpenseRecord is one expense claim to be entered into the portal form.
//
// Records are transient: they are built per submission request and the
// receipt file they point at is deleted once the submission finishes.
type ExpenseRecord struct {
	// Date is the expense date (calendar day, no time component)
	Date time.Time `json:"date"`

	// Amount is the claimed amount, strictly positive
	Amount decimal.Decimal `json:"amount"`

	Merchant      string `json:"merchant"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description"`

	// CategoryValue and ExpenseTypeValue are the portal's option ids
	CategoryValue    string `json:"categoryValue"`
	ExpenseTypeValue string `json:"expenseTypeValue"`

	// FilePath points at the receipt on local disk
	FilePath string `json:"filePath"`
}

// Validate checks the record invariants before it is handed to the browser.
func (r *ExpenseRecord) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("expense date is required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero, got %s", r.Amount.String())
	}
	if strings.TrimSpace(r.Merchant) == "" {
		return fmt.Errorf("merchant is required")
	}
	if r.CategoryValue == "" || r.ExpenseTypeValue == "" {
		return fmt.Errorf("category and expense type are required")
	}
	if r.FilePath == "" {
		return fmt.Errorf("receipt file path is required")
	}
	return nil
}

// ParseDate accepts YYYY-MM-DD or DD-MM-YYYY.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("02-01-2006", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or DD-MM-YYYY", s)
}

// CategoryMapping is the portal (category, expense type) option pair.
type CategoryMapping struct {
	CategoryValue    string `json:"categoryValue"`
	ExpenseTypeValue string `json:"expenseTypeValue"`
}

// RecordResult is the outcome of one record within a batch.
type RecordResult struct {
	Index     int    `json:"index"`
	Success   bool   `json:"success"`
	Attempted bool   `json:"attempted"`
	Error     string `json:"error,omitempty"`
}

// BatchTask is an ordered set of records submitted in one browser session.
type BatchTask struct {
	TaskID  string
	Records []ExpenseRecord

	// TempFiles are deleted when the batch finishes, whatever the outcome.
	TempFiles []string
}

// BatchResult is the structured summary returned for every batch call.
type BatchResult struct {
	TaskID       string         `json:"taskId"`
	SuccessCount int            `json:"successCount"`
	FailedCount  int            `json:"failedCount"`
	TotalCount   int            `json:"totalCount"`
	Results      []RecordResult `json:"results"`

	// Aborted carries the reason when the batch stopped early.
	Aborted string `json:"aborted,omitempty"`
}

// Tally recomputes the success and failure counters from Results.
func (b *BatchResult) Tally() {
	b.SuccessCount, b.FailedCount = 0, 0
	for _, r := range b.Results {
		if r.Success {
			b.SuccessCount++
		} else {
			b.FailedCount++
		}
	}
	b.TotalCount = len(b.Results)
}

// Summary renders the "n of m" line shown to users.
func (b *BatchResult) Summary() string {
	return fmt.Sprintf("Successfully submitted %d out of %d expenses", b.SuccessCount, b.TotalCount)
}
