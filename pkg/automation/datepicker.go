package automation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/playwright-community/playwright-go"
)

// pickerDate is a date in the jQuery UI datepicker's own terms, where
// months are zero-indexed.
type pickerDate struct {
	Day   int
	Month int
	Year  int
}

func pickerDateOf(t time.Time) pickerDate {
	return pickerDate{Day: t.Day(), Month: int(t.Month()) - 1, Year: t.Year()}
}

func (p pickerDate) String() string {
	return fmt.Sprintf("%02d-%02d-%d", p.Day, p.Month+1, p.Year)
}

func (p pickerDate) cellSelector() string {
	return fmt.Sprintf(`td[data-handler="selectDay"][data-month="%d"][data-year="%d"] a.ui-state-default[data-date="%d"]`,
		p.Month, p.Year, p.Day)
}

// setSelectJS assigns a select's value and fires change. The calendar
// ignores typed input.
const setSelectJS = `({ selector, value }) => {
	const el = document.querySelector(selector);
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const clickDayJS = `({ day, month, year }) => {
	const cells = document.querySelectorAll('td[data-handler="selectDay"]');
	for (const td of cells) {
		const link = td.querySelector('a.ui-state-default');
		if (link &&
			td.getAttribute('data-month') === String(month) &&
			td.getAttribute('data-year') === String(year) &&
			link.getAttribute('data-date') === String(day)) {
			link.click();
			return true;
		}
	}
	return false;
}`

// selectDate opens the calendar, moves it to the target month and clicks
// the day cell, falling back to a locator click when the scripted click
// finds no cell.
func (d *Driver) selectDate(ctx context.Context, page Page, date pickerDate) error {
	input, _, err := d.resolve(ctx, page, targetDateInput, d.timings.Field)
	if err != nil {
		return err
	}
	_ = input.ScrollIntoViewIfNeeded()
	if err := input.Click(playwright.LocatorClickOptions{Force: playwright.Bool(true)}); err != nil {
		return fmt.Errorf("open calendar: %w", err)
	}
	if _, _, err := d.resolve(ctx, page, targetCalendar, d.timings.Field); err != nil {
		return err
	}

	d.logger.Debugf("target date %s (picker month index %d)", date, date.Month)
	if err := d.setSelect(page, "select.ui-datepicker-year", strconv.Itoa(date.Year)); err != nil {
		return err
	}
	if err := d.setSelect(page, "select.ui-datepicker-month", strconv.Itoa(date.Month)); err != nil {
		return err
	}
	// The day grid re-renders after the month change.
	if err := sleep(ctx, d.timings.CalendarSettle); err != nil {
		return err
	}
	if _, _, err := d.resolve(ctx, page, targetDayCells, d.timings.Field); err != nil {
		return err
	}

	clicked, err := page.Evaluate(clickDayJS, map[string]interface{}{
		"day":   date.Day,
		"month": date.Month,
		"year":  date.Year,
	})
	if err == nil {
		if ok, _ := clicked.(bool); ok {
			return nil
		}
	}

	d.logger.Warnf("could not click %s via script, trying locator", date)
	cell := page.Locator(date.cellSelector()).First()
	if !matches(cell, true) {
		return fmt.Errorf("no calendar cell for %s", date)
	}
	if err := cell.Click(); err != nil {
		return fmt.Errorf("click calendar cell %s: %w", date, err)
	}
	return nil
}

func (d *Driver) setSelect(page Page, selector, value string) error {
	ok, err := page.Evaluate(setSelectJS, map[string]interface{}{
		"selector": selector,
		"value":    value,
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", selector, err)
	}
	if found, _ := ok.(bool); !found {
		return fmt.Errorf("%s not found", selector)
	}
	return nil
}
