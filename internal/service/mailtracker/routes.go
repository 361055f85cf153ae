package mailtracker

import (
	"net/url"
	"strings"
)

// Route paths served by the tracking HTTP handler.
const (
	RedirectPath = "/redirect"
	BeaconPath   = "/beacon"
	WebhookPath  = "/webhook"
)

// Routes builds the public tracking URLs embedded into messages.
type Routes struct {
	base string
}

// NewRoutes returns a Routes rooted at baseURL (scheme and host, optionally
// with a path prefix).
func NewRoutes(baseURL string) Routes {
	return Routes{base: strings.TrimRight(baseURL, "/")}
}

// Redirect returns the compact redirect URL for a link id and token.
func (r Routes) Redirect(linkID, token string) string {
	return r.base + RedirectPath + "/" + url.PathEscape(linkID) + "/" + url.PathEscape(token)
}

// DirectRedirect returns the redirect URL that carries the destination
// itself instead of a link id.
func (r Routes) DirectRedirect(dest, token string) string {
	q := url.Values{}
	q.Set("l", dest)
	q.Set("h", token)
	return r.base + RedirectPath + "?" + q.Encode()
}

// Beacon returns the open-tracking image URL for a token.
func (r Routes) Beacon(token string) string {
	return r.base + BeaconPath + "/" + url.PathEscape(token)
}

// Owns reports whether href already points at one of our tracking routes.
func (r Routes) Owns(href string) bool {
	if r.base == "" {
		return false
	}
	return strings.HasPrefix(href, r.base+RedirectPath) || strings.HasPrefix(href, r.base+BeaconPath)
}
