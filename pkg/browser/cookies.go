package browser

import (
	"net/url"
	"strings"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/net/publicsuffix"

	"github.com/entrhq/reimburse/pkg/session"
)

// registrableDomain returns the eTLD+1 of host, or host itself when it has none.
func registrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), ".")
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// FilterCookies keeps the cookies belonging to the same registrable domain
// as homeURL. Cookies captured from third-party frames are dropped so they
// cannot inflate the idempotence count.
func FilterCookies(homeURL string, cookies []session.Cookie) []session.Cookie {
	u, err := url.Parse(homeURL)
	if err != nil || u.Hostname() == "" {
		return cookies
	}
	site := registrableDomain(u.Hostname())

	kept := make([]session.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Domain == "" || registrableDomain(c.Domain) == site {
			kept = append(kept, c)
		}
	}
	return kept
}

func toOptionalCookies(homeURL string, cookies []session.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Domain != "" {
			oc.Domain = playwright.String(c.Domain)
			path := c.Path
			if path == "" {
				path = "/"
			}
			oc.Path = playwright.String(path)
		} else {
			// Playwright requires either url or domain+path.
			oc.URL = playwright.String(homeURL)
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			ss := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &ss
		}
		out = append(out, oc)
	}
	return out
}

// FromPlaywright converts context cookies to their persisted form.
func FromPlaywright(cookies []playwright.Cookie) []session.Cookie {
	out := make([]session.Cookie, 0, len(cookies))
	for _, c := range cookies {
		sc := session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			sc.SameSite = string(*c.SameSite)
		}
		out = append(out, sc)
	}
	return out
}
