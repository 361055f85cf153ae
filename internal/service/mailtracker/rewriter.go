package mailtracker

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

// Rewriter turns an HTML body into its tracked form. It is pure: it performs
// no I/O and returns the links it created so the caller can persist them.
type Rewriter struct {
	routes      Routes
	trackLinks  bool
	injectPixel bool
}

// NewRewriter creates a rewriter emitting URLs under routes.
func NewRewriter(routes Routes, trackLinks, injectPixel bool) *Rewriter {
	return &Rewriter{routes: routes, trackLinks: trackLinks, injectPixel: injectPixel}
}

// RewrittenLink is a destination found while rewriting.
type RewrittenLink struct {
	ID  string
	URL string
}

// hrefAttr matches the href attribute inside a single raw start tag.
var hrefAttr = regexp.MustCompile(`(?i)(\shref\s*=\s*)("[^"]*"|'[^']*'|[^\s"'>]+)`)

// Rewrite returns body with trackable anchors pointing at the redirect route
// and, if enabled, a beacon image injected before </body>. Bytes outside the
// rewritten href values are preserved as-is. Anchors inside conditional
// comments (<!--[if mso]>...<![endif]-->) are rewritten too. Links are
// returned in document order, each distinct destination once.
func (rw *Rewriter) Rewrite(body, token string) (string, []RewrittenLink, error) {
	var out bytes.Buffer
	out.Grow(len(body) + 256)

	st := &rewriteState{
		seen:     make(map[string]bool),
		injected: !rw.injectPixel || strings.Contains(body, rw.routes.Beacon(token)),
	}
	if err := rw.rewriteMarkup(&out, body, token, st); err != nil {
		return "", nil, err
	}
	if !st.injected {
		out.WriteString(rw.pixel(token))
	}
	return out.String(), st.links, nil
}

type rewriteState struct {
	links    []RewrittenLink
	seen     map[string]bool
	injected bool
}

func (rw *Rewriter) rewriteMarkup(out *bytes.Buffer, body, token string, st *rewriteState) error {
	z := xhtml.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			out.Write(z.Raw())
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return fmt.Errorf("tokenize html: %w", err)
			}
			return nil
		}

		raw := z.Raw()
		if tt == xhtml.CommentToken {
			if inner, ok := conditionalComment(raw); ok && rw.trackLinks {
				// the pixel never goes inside a comment
				nested := &rewriteState{links: st.links, seen: st.seen, injected: true}
				out.WriteString(commentOpen)
				if err := rw.rewriteMarkup(out, inner, token, nested); err != nil {
					return err
				}
				out.WriteString(commentClose)
				st.links = nested.links
				continue
			}
		}
		if tt != xhtml.StartTagToken && tt != xhtml.EndTagToken {
			out.Write(raw)
			continue
		}
		// TagName and TagAttr lowercase the tokenizer buffer in place.
		raw = bytes.Clone(raw)
		name, hasAttr := z.TagName()

		switch {
		case tt == xhtml.StartTagToken && rw.trackLinks && hasAttr && string(name) == "a":
			href, found := anchorHref(z)
			if !found {
				break
			}
			tag, link, ok := rw.rewriteAnchor(raw, href, token)
			if ok {
				out.Write(tag)
				if !st.seen[link.URL] {
					st.seen[link.URL] = true
					st.links = append(st.links, link)
				}
				continue
			}
		case tt == xhtml.EndTagToken && !st.injected && string(name) == "body":
			out.WriteString(rw.pixel(token))
			st.injected = true
		}
		out.Write(raw)
	}
}

const (
	commentOpen  = "<!--"
	commentClose = "-->"
)

// conditionalComment returns the markup between the delimiters of a
// downlevel-hidden conditional comment such as <!--[if mso]>...<![endif]-->.
func conditionalComment(raw []byte) (string, bool) {
	s := string(raw)
	if len(s) < len(commentOpen)+len(commentClose) ||
		!strings.HasPrefix(s, commentOpen) || !strings.HasSuffix(s, commentClose) {
		return "", false
	}
	inner := s[len(commentOpen) : len(s)-len(commentClose)]
	lower := strings.ToLower(inner)
	if !strings.HasPrefix(strings.TrimSpace(lower), "[if") || !strings.Contains(lower, "<a") {
		return "", false
	}
	return inner, true
}

// anchorHref returns the decoded href of the current start tag.
func anchorHref(z *xhtml.Tokenizer) (string, bool) {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "href" {
			return string(val), true
		}
		if !more {
			return "", false
		}
	}
}

// rewriteAnchor swaps the href value of one raw <a> start tag. href is the
// decoded attribute value reported by the tokenizer.
func (rw *Rewriter) rewriteAnchor(raw []byte, href, token string) ([]byte, RewrittenLink, bool) {
	dest := strings.TrimSpace(href)
	if !rw.trackable(dest) {
		return nil, RewrittenLink{}, false
	}

	matches := hrefAttr.FindAllSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil, RewrittenLink{}, false
	}
	loc := matches[0]
	for _, m := range matches {
		value := strings.Trim(string(raw[m[4]:m[5]]), `"'`)
		if html.UnescapeString(value) == href {
			loc = m
			break
		}
	}

	id := DeriveLinkID(dest, token)
	replacement := `"` + html.EscapeString(rw.routes.Redirect(id, token)) + `"`

	var tag bytes.Buffer
	tag.Grow(len(raw) + len(replacement))
	tag.Write(raw[:loc[4]])
	tag.WriteString(replacement)
	tag.Write(raw[loc[5]:])
	return tag.Bytes(), RewrittenLink{ID: id, URL: dest}, true
}

func (rw *Rewriter) trackable(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	if rw.routes.Owns(href) {
		return false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "sms:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

func (rw *Rewriter) pixel(token string) string {
	return `<img border=0 width=1 alt="" height=1 src="` + html.EscapeString(rw.routes.Beacon(token)) + `" />`
}
