package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/mail-tracker/internal/pkg/httpretry"
)

// HTTPConfirmer confirms SNS subscriptions by fetching the SubscribeURL.
type HTTPConfirmer struct {
	client httpretry.HTTPDoer
}

// NewHTTPConfirmer wraps client with retries. A nil client gets a default
// with a 10s timeout.
func NewHTTPConfirmer(client httpretry.HTTPDoer) *HTTPConfirmer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPConfirmer{client: httpretry.NewRetryClient(client, 3)}
}

func (c *HTTPConfirmer) Confirm(ctx context.Context, subscribeURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("build confirmation request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("confirm subscription: unexpected status %d", resp.StatusCode)
	}
	return nil
}
