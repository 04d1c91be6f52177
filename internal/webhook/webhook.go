// Package webhook posts the updated user document to an external
// integration after ledger changes. Delivery is best-effort.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/metrics"
)

var ErrDeliveryFailed = errors.New("webhook delivery failed")

const defaultTimeout = 10 * time.Second

type Client struct {
	url  string
	http *http.Client
}

// New returns nil when url is empty; a nil Client's Send is a no-op.
func New(url string) *Client {
	if url == "" {
		return nil
	}
	return &Client{url: url, http: &http.Client{Timeout: defaultTimeout}}
}

func (c *Client) Send(ctx context.Context, u ledger.User) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%w: encode user %d: %v", ErrDeliveryFailed, u.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}

	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	return nil
}
