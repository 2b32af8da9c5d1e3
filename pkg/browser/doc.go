// Package browser owns the live, headed browser behind each portal session.
//
// Every session gets one persistent browser profile under the configured
// profile root, so a login performed by a human in the visible window
// survives process restarts. The Manager hands out a Handle per session and
// guarantees at most one live handle per session id:
//
//	mgr := browser.NewManager(browser.NewPlaywrightLauncher(config.EngineFirefox), opts)
//	h, err := mgr.EnsureContext(ctx, sessionID, rec.Cookies)
//	if err != nil {
//	    // types.IsFatal(err): no browser could be obtained
//	}
//	page := h.ActivePage()
//
// Handles are process-local. They cannot be persisted or shared between
// processes; a deployment with several workers must pin a session to one
// worker or accept that a failover recreates the browser.
//
// EnsureContext validates an existing handle before reusing it: the context
// must expose at least one open page and that page must answer a trivial
// script within the liveness timeout. A dead handle is closed and dropped
// before a replacement is launched.
package browser
