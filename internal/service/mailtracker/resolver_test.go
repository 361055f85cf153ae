package mailtracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

func TestResolveClick_CompactForm(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, token := h.send(t, htmlMessage(`<a href="http://www.google.com?q=foo&amp;x=bar">g</a>`))

	links, err := h.tracker.LinksFor(ctx, token)
	require.NoError(t, err)
	require.Len(t, links, 1)

	dest, err := h.tracker.ResolveClick(ctx, mailtracker.ClickRequest{
		Token:     token,
		LinkID:    links[0].Hash,
		IPAddress: "203.0.113.9",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://www.google.com?q=foo&x=bar", dest)

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Clicks)

	link, err := h.repo.LinkByHash(ctx, token, links[0].Hash)
	require.NoError(t, err)
	assert.EqualValues(t, 1, link.Clicks)

	clicked := h.events.ofType(domain.EventLinkClicked)
	require.Len(t, clicked, 1)
	assert.Equal(t, dest, clicked[0].URL)
	assert.Equal(t, "203.0.113.9", clicked[0].IPAddress)
	assert.Equal(t, "To Name <destination@example.com>", clicked[0].EmailAddress)
}

func TestResolveClick_DirectForm(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, token := h.send(t, htmlMessage(`<p>no links</p>`))

	dest, err := h.tracker.ResolveClick(ctx, mailtracker.ClickRequest{Token: token, URL: "https://example.com/direct"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/direct", dest)

	_, err = h.tracker.ResolveClick(ctx, mailtracker.ClickRequest{Token: token, URL: "https://example.com/direct"})
	require.NoError(t, err)

	links, err := h.tracker.LinksFor(ctx, token)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.EqualValues(t, 2, links[0].Clicks)
	assert.Equal(t, mailtracker.DeriveLinkID("https://example.com/direct", token), links[0].Hash)
}

func TestResolveClick_BadLinks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, token := h.send(t, htmlMessage(`<a href="http://example.com">x</a>`))

	cases := []struct {
		name string
		req  mailtracker.ClickRequest
	}{
		{"unknown token", mailtracker.ClickRequest{Token: "bad-hash", LinkID: "x"}},
		{"unknown link", mailtracker.ClickRequest{Token: token, LinkID: "random-link"}},
		{"empty", mailtracker.ClickRequest{}},
		{"direct non-http", mailtracker.ClickRequest{Token: token, URL: "javascript:alert(1)"}},
		{"direct relative", mailtracker.ClickRequest{Token: token, URL: "/relative"}},
		{"direct unknown token", mailtracker.ClickRequest{Token: "bad-hash", URL: "https://example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.tracker.ResolveClick(ctx, tc.req)
			if !errors.Is(err, mailtracker.ErrBadURLLink) {
				t.Fatalf("ResolveClick: got %v, want ErrBadURLLink", err)
			}
		})
	}

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	assert.Zero(t, rec.Clicks)
}

func TestResolveClick_ConcurrentClicksAllCounted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, token := h.send(t, htmlMessage(`<a href="http://example.com">x</a>`))
	links, err := h.tracker.LinksFor(ctx, token)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.tracker.ResolveClick(ctx, mailtracker.ClickRequest{Token: token, LinkID: links[0].Hash}); err != nil {
				t.Errorf("ResolveClick: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	assert.EqualValues(t, n, rec.Clicks)
}
