package automation

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reimburse/pkg/types"
)

// Submit clicks the first visible Save button variant and waits for the
// save to settle. Not finding the button fails the record; the user is
// never left to click it by hand.
func (d *Driver) Submit(ctx context.Context, page Page) error {
	loc, sel, err := d.resolve(ctx, page, targetSave, d.timings.Field)
	if err != nil {
		return types.NewRecordFailed("save", fmt.Errorf("could not find Save button: %w", err))
	}
	_ = loc.ScrollIntoViewIfNeeded()
	if err := loc.Click(); err != nil {
		return types.NewRecordFailed("save", fmt.Errorf("could not click Save button: %w", err))
	}
	d.logger.Infof("Save clicked using %s", sel)

	if err := sleep(ctx, d.timings.SaveSettle); err != nil {
		return types.NewRecordFailed("save", err)
	}
	state := playwright.LoadState("networkidle")
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: ms(d.timings.NetworkIdle),
	}); err != nil {
		d.logger.Debugf("network did not go idle after save: %v", err)
	}
	return nil
}
