package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reimburse/pkg/types"
)

// navigationSteps lead from the signed-in home page to the expense form.
var navigationSteps = []Target{
	targetReimbursements,
	targetCreate,
	targetRequestReimbursement,
	targetCreateReport,
	targetCreateExpense,
	targetSkipManual,
}

const scrollTopJS = `() => window.scrollTo({ top: 0, behavior: 'smooth' })`

// NavigateToExpenseForm walks the portal from its home page to an empty
// expense form inside a new reimbursement report. A missing login marker
// fails with types.ErrNotLoggedIn; the caller must have the user log in
// again. Steps are not retried. Every failure is fatal for the request.
func (d *Driver) NavigateToExpenseForm(ctx context.Context, page Page) error {
	total := len(navigationSteps) + 2
	log := d.logger

	log.Infof("Step 1/%d: opening %s", total, d.homeURL)
	if err := d.gotoHome(page); err != nil {
		return types.NewFatal("open portal", err)
	}

	signedIn, err := d.hasLoginMarker(ctx, page)
	if err != nil {
		return types.NewFatal("check login", err)
	}
	if !signedIn {
		return types.NewFatal("check login",
			fmt.Errorf("%w: Not logged in. Please login to Darwinbox first.", types.ErrNotLoggedIn))
	}

	for i, step := range navigationSteps {
		log.Infof("Step %d/%d: %s", i+2, total, step.Name)
		if err := d.click(ctx, page, step, d.timings.Step); err != nil {
			return types.NewFatal("navigate", err)
		}
	}

	log.Infof("Step %d/%d: waiting for the expense form", total, total)
	if _, _, err := d.resolve(ctx, page, targetExpenseForm, d.timings.Form); err != nil {
		return types.NewFatal("navigate", err)
	}
	log.Infof("expense form ready")
	return nil
}

// CheckLogin reloads the portal, or opens it when the page is elsewhere,
// and reports whether the post-login marker appears in time.
func (d *Driver) CheckLogin(ctx context.Context, page Page) (bool, error) {
	if d.onPortal(page) {
		waitUntil := playwright.WaitUntilState("domcontentloaded")
		if _, err := page.Reload(playwright.PageReloadOptions{
			WaitUntil: &waitUntil,
			Timeout:   ms(d.timings.Navigation),
		}); err != nil {
			return false, fmt.Errorf("reload portal: %w", err)
		}
	} else if err := d.gotoHome(page); err != nil {
		return false, err
	}
	return d.hasLoginMarker(ctx, page)
}

// AdvanceToNextExpense opens another empty form in the report that is
// already loaded. Re-navigating from home would discard the report, so a
// failure here is fatal for the rest of the batch.
func (d *Driver) AdvanceToNextExpense(ctx context.Context, page Page) error {
	if err := sleep(ctx, d.timings.AdvanceSettle); err != nil {
		return types.NewFatal("advance", err)
	}

	var lastErr error
	clicked := false
	for attempt := 1; attempt <= d.timings.AdvanceAttempts; attempt++ {
		// The button is pushed up the page as saved expenses accumulate.
		if _, err := page.Evaluate(scrollTopJS); err != nil {
			d.logger.Debugf("scroll to top failed: %v", err)
		}
		if err := d.click(ctx, page, targetCreateExpense, d.timings.Step); err != nil {
			lastErr = err
			d.logger.Warnf("\"+ Create Expense\" attempt %d/%d failed: %v", attempt, d.timings.AdvanceAttempts, err)
			continue
		}
		clicked = true
		break
	}
	if !clicked {
		return types.NewFatal("advance", fmt.Errorf(
			"could not find or click \"+ Create Expense\" button after %d attempts: %w",
			d.timings.AdvanceAttempts, lastErr))
	}

	if err := d.click(ctx, page, targetSkipManual, d.timings.Step); err != nil {
		return types.NewFatal("advance", fmt.Errorf("could not find \"Skip & Add Expenses Manually\" link: %w", err))
	}
	if _, _, err := d.resolve(ctx, page, targetExpenseForm, d.timings.Form); err != nil {
		return types.NewFatal("advance", err)
	}
	return nil
}

func (d *Driver) gotoHome(page Page) error {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	if _, err := page.Goto(d.homeURL, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   ms(d.timings.Navigation),
	}); err != nil {
		return fmt.Errorf("open %s: %w", d.homeURL, err)
	}
	return nil
}

func (d *Driver) hasLoginMarker(ctx context.Context, page Page) (bool, error) {
	marker := Target{Name: "login marker", Selectors: []string{d.loginMarker}}
	if _, _, err := d.resolve(ctx, page, marker, d.timings.LoginMarker); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.logger.Infof("login marker not present: %v", err)
		return false, nil
	}
	return true, nil
}

func (d *Driver) onPortal(page Page) bool {
	home := strings.TrimSuffix(d.homeURL, "/")
	url := page.URL()
	return home != "" && (url == home || strings.HasPrefix(url, home+"/"))
}
