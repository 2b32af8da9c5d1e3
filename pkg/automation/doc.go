// Package automation drives the Darwinbox expense form in a live page.
//
// A Driver holds the portal-specific knowledge: the selectors of every
// control on the way to the form, the order fields are filled in, and the
// waits between steps. Waits are condition based (poll until a target is
// visible) except for the named settle delays in Timings, which cover
// widgets that re-render without any observable signal.
//
// Usage:
//
//	d := automation.NewDriver(homeURL, automation.WithLogger(logger))
//	flow := d.On(handle.ActivePage())
//	if err := flow.Navigate(ctx); err != nil {
//		return err
//	}
//	if err := flow.SelectCategory(ctx, rec.CategoryValue, rec.ExpenseTypeValue); err != nil {
//		return err
//	}
//	if err := flow.Fill(ctx, rec); err != nil {
//		return err
//	}
//	return flow.Save(ctx)
package automation
