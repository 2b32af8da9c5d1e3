package automation

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reimburse/pkg/types"
)

// openDropdownJS clicks the Semantic UI dropdown wrapping the n-th search
// input of the form. Simulated clicks on the input itself do not open it.
const openDropdownJS = `(index) => {
	const inputs = document.querySelectorAll('#addExpenses input.search');
	let el = inputs[index];
	while (el && !(el.classList.contains('ui') && el.classList.contains('dropdown'))) {
		el = el.parentElement;
	}
	if (!el) return false;
	el.click();
	return true;
}`

const (
	clickElementJS   = `(el) => el.click()`
	dispatchInputJS  = `(el) => { el.dispatchEvent(new Event('input', { bubbles: true })); el.dispatchEvent(new Event('change', { bubbles: true })); }`
	setHiddenValueJS = `(el, value) => { el.value = value; el.dispatchEvent(new Event('change', { bubbles: true })); }`
)

// SelectCategoryAndExpenseType picks the category and then the expense
// type. The expense type options are only rendered after the category
// change has round-tripped, hence the settle delay in between.
func (d *Driver) SelectCategoryAndExpenseType(ctx context.Context, page Page, categoryID, expenseTypeID string) error {
	d.logger.Infof("selecting category %s", categoryID)
	if err := d.pickOption(ctx, page, 0, "category", categoryID); err != nil {
		return types.NewRecordFailed("select category", err)
	}
	if err := sleep(ctx, d.timings.CategorySettle); err != nil {
		return types.NewRecordFailed("select category", err)
	}

	d.logger.Infof("selecting expense type %s", expenseTypeID)
	if err := d.pickOption(ctx, page, 1, "expense type", expenseTypeID); err != nil {
		return types.NewRecordFailed("select expense type", err)
	}
	// The type-specific fields load after the choice.
	if err := sleep(ctx, d.timings.TypeSettle); err != nil {
		return types.NewRecordFailed("select expense type", err)
	}
	return nil
}

func (d *Driver) pickOption(ctx context.Context, page Page, index int, name, value string) error {
	opened, err := page.Evaluate(openDropdownJS, index)
	if err != nil {
		return fmt.Errorf("open %s dropdown: %w", name, err)
	}
	if ok, _ := opened.(bool); !ok {
		return fmt.Errorf("%s dropdown not found", name)
	}
	if err := sleep(ctx, d.timings.DropdownSettle); err != nil {
		return err
	}

	option, _, err := d.resolve(ctx, page, optionTarget(name, value), d.timings.Field)
	if err != nil {
		return err
	}
	if _, err := option.Evaluate(clickElementJS, nil); err != nil {
		return fmt.Errorf("click %s option %s: %w", name, value, err)
	}
	return nil
}

// FillExpenseForm fills amount, merchant, invoice number, description and
// date in that order, then attaches the receipt. A field that cannot be
// set is logged and skipped. Only a failed upload fails the record.
func (d *Driver) FillExpenseForm(ctx context.Context, page Page, rec types.ExpenseRecord) error {
	fields := []struct {
		name string
		fill func() error
	}{
		{"amount", func() error { return d.fillAmount(ctx, page, rec.Amount.String()) }},
		{"merchant", func() error { return d.fillText(ctx, page, targetMerchant, rec.Merchant) }},
		{"invoice number", func() error { return d.fillText(ctx, page, targetInvoiceNumber, rec.InvoiceNumber) }},
		{"description", func() error { return d.fillText(ctx, page, targetDescription, rec.Description) }},
		{"expense date", func() error { return d.selectDate(ctx, page, pickerDateOf(rec.Date)) }},
	}

	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return types.NewRecordFailed("fill form", err)
		}
		if err := f.fill(); err != nil {
			d.logger.Warnf("could not fill %s: %v", f.name, err)
			continue
		}
		d.logger.Infof("filled %s", f.name)
	}

	// Attaching earlier makes the widget re-render and drop other fields.
	if err := d.uploadReceipt(ctx, page, rec.FilePath); err != nil {
		return types.NewRecordFailed("upload receipt", err)
	}
	return nil
}

// fillText clears the field and types value key by key; the portal's
// listeners ignore programmatic fills.
func (d *Driver) fillText(ctx context.Context, page Page, t Target, value string) error {
	loc, _, err := d.resolve(ctx, page, t, d.timings.Field)
	if err != nil {
		return err
	}
	_ = loc.ScrollIntoViewIfNeeded()
	if err := loc.Click(playwright.LocatorClickOptions{Force: playwright.Bool(true)}); err != nil {
		return fmt.Errorf("focus %s: %w", t.Name, err)
	}
	if err := loc.Fill(""); err != nil {
		return fmt.Errorf("clear %s: %w", t.Name, err)
	}
	if value == "" {
		return nil
	}
	if err := loc.PressSequentially(value, playwright.LocatorPressSequentiallyOptions{
		Delay: ms(d.timings.KeystrokeDelay),
	}); err != nil {
		return fmt.Errorf("type %s: %w", t.Name, err)
	}
	return nil
}

// fillAmount types into the visible amount input and mirrors the value
// into the hidden field the form actually posts.
func (d *Driver) fillAmount(ctx context.Context, page Page, amount string) error {
	if err := d.fillText(ctx, page, targetAmount, amount); err != nil {
		return err
	}
	visible := page.Locator(targetAmount.Selectors[0]).First()
	if _, err := visible.Evaluate(dispatchInputJS, nil); err != nil {
		d.logger.Debugf("amount events not dispatched: %v", err)
	}

	hidden := page.Locator(targetHiddenAmount.Selectors[0]).First()
	if matches(hidden, true) {
		if _, err := hidden.Evaluate(setHiddenValueJS, amount); err != nil {
			d.logger.Debugf("hidden amount not set: %v", err)
		}
	}
	return nil
}

func (d *Driver) uploadReceipt(ctx context.Context, page Page, path string) error {
	if path == "" {
		return fmt.Errorf("no receipt file")
	}
	input, _, err := d.resolve(ctx, page, targetUpload, d.timings.Field)
	if err != nil {
		return err
	}
	if err := input.SetInputFiles(path); err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	d.logger.Infof("receipt attached")

	if _, sel, err := d.resolve(ctx, page, targetUploadConfirm, d.timings.UploadConfirm); err != nil {
		// The file is usually attached even without the indicator.
		d.logger.Warnf("upload indicator not found, but file was set")
	} else {
		d.logger.Debugf("upload confirmed by %s", sel)
	}
	return nil
}
