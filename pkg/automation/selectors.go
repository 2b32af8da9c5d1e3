package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Target is one logical control on the portal with its candidate
// selectors, most specific first.
type Target struct {
	Name      string
	Selectors []string

	// Attached targets only need to exist in the DOM. Hidden file inputs
	// and option lists are never visible.
	Attached bool
}

var (
	targetReimbursements = Target{
		Name:      "Reimbursements menu",
		Selectors: []string{`img[src="/images/Icons_latest/reimbursement.png"]`},
	}
	targetCreate = Target{
		Name:      "CREATE button",
		Selectors: []string{"button#createButtonTop"},
	}
	targetRequestReimbursement = Target{
		Name:      "Request Reimbursement",
		Selectors: []string{`a.dropdown-item:has-text("Request Reimbursement")`},
	}
	targetCreateReport = Target{
		Name:      "create report",
		Selectors: []string{`button.db-btn.style-primary:has-text("CREATE")`},
	}
	targetCreateExpense = Target{
		Name: "+ Create Expense",
		Selectors: []string{
			"a.add_expense_button",
			".add_expense_button",
			`span:has-text("+ Create Expense")`,
			`a:has-text("+ Create Expense")`,
			`button:has-text("+ Create Expense")`,
			`[class*="add_expense"]`,
			`a[href*="add_expense"]`,
		},
	}
	targetSkipManual = Target{
		Name: "Skip & Add Expenses Manually",
		Selectors: []string{
			"a.add_expense_manual_ocr",
			`a:has-text("Skip & Add Expenses Manually")`,
			`a:has-text("Skip")`,
			".add_expense_manual_ocr",
		},
	}
	targetExpenseForm = Target{
		Name:      "expense form",
		Selectors: []string{"#addExpenses"},
	}

	targetAmount = Target{
		Name:      "amount",
		Selectors: []string{"input.amount"},
	}
	targetHiddenAmount = Target{
		Name:      "hidden amount",
		Selectors: []string{`input[name="UserExpensesForm[amount]"][type="hidden"]`},
		Attached:  true,
	}
	targetMerchant = Target{
		Name:      "merchant",
		Selectors: []string{"#UserExpensesForm_merchant", `input[name="UserExpensesForm[merchant]"]`},
	}
	targetInvoiceNumber = Target{
		Name:      "invoice number",
		Selectors: []string{"#UserExpensesForm_invoice_number", `input[name="UserExpensesForm[invoice_number]"]`},
	}
	targetDescription = Target{
		Name:      "description",
		Selectors: []string{"#UserExpensesForm_itemName", `textarea[name="UserExpensesForm[itemName]"]`},
	}
	targetDateInput = Target{
		Name:      "expense date",
		Selectors: []string{"input.expense_date.hasDatepicker", `input[name="UserExpensesForm[date]"]`},
	}
	targetCalendar = Target{
		Name:      "calendar",
		Selectors: []string{".ui-datepicker", "select.ui-datepicker-month"},
	}
	targetDayCells = Target{
		Name:      "calendar days",
		Selectors: []string{`td[data-handler="selectDay"]`},
		Attached:  true,
	}
	targetUpload = Target{
		Name:      "receipt upload",
		Selectors: []string{"#uploadBtn", `input[type="file"][name="upload[]"]`},
		Attached:  true,
	}
	targetUploadConfirm = Target{
		Name:      "upload confirmation",
		Selectors: []string{".file-name", ".upload-success", `[class*="upload"]`},
		Attached:  true,
	}
	// Most specific first, the bare id last.
	targetSave = Target{
		Name: "Save button",
		Selectors: []string{
			"button.btn.btn-primary.db-btn.ripple.amplify-submit-button#add_exp",
			"button.amplify-submit-button#add_exp",
			"button.btn-primary#add_exp",
			"button.db-btn#add_exp",
			"button#add_exp",
			"#add_exp",
		},
	}
)

// optionTarget is the dropdown item carrying value inside the expense form.
func optionTarget(name, value string) Target {
	return Target{
		Name:      fmt.Sprintf("%s option %s", name, value),
		Selectors: []string{"#addExpenses div.menu div.item[data-value=" + strconv.Quote(value) + "]"},
		Attached:  true,
	}
}

// resolve polls the candidates of t in order until one matches or timeout
// elapses. It returns the first match and the selector that matched.
func (d *Driver) resolve(ctx context.Context, page Page, t Target, timeout time.Duration) (playwright.Locator, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range t.Selectors {
			loc := page.Locator(sel).First()
			if matches(loc, t.Attached) {
				return loc, sel, nil
			}
		}
		if !time.Now().Before(deadline) {
			return nil, "", fmt.Errorf("%s not found within %v (tried %s)", t.Name, timeout, strings.Join(t.Selectors, ", "))
		}
		if err := sleep(ctx, d.timings.Poll); err != nil {
			return nil, "", fmt.Errorf("waiting for %s: %w", t.Name, err)
		}
	}
}

func matches(loc playwright.Locator, attached bool) bool {
	if attached {
		n, err := loc.Count()
		return err == nil && n > 0
	}
	visible, err := loc.IsVisible()
	return err == nil && visible
}

// click resolves t and clicks the match.
func (d *Driver) click(ctx context.Context, page Page, t Target, timeout time.Duration) error {
	loc, sel, err := d.resolve(ctx, page, t, timeout)
	if err != nil {
		return err
	}
	_ = loc.ScrollIntoViewIfNeeded() // Best effort, the click scrolls too
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: ms(timeout)}); err != nil {
		return fmt.Errorf("click %s (%s): %w", t.Name, sel, err)
	}
	d.logger.Debugf("clicked %s using %s", t.Name, sel)
	return nil
}
