// Package webpush implements the push delivery interface over the web-push HTTP protocol. The notification payload
// is POSTed straight to the subscription endpoint; payload encryption is left to a fronting push proxy.
package webpush

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cryptomap/pulse/lib/push"
	"github.com/cryptomap/pulse/lib/store"
)

const (
	sendTimeout = 10 * time.Second
	ttl         = "86400" // seconds the push service may retain an undelivered notification
)

// WebPush delivers notifications by POSTing to the subscription endpoints.
type WebPush struct {
	c *http.Client
}

// New returns a WebPush sender.
func New() *WebPush {
	return &WebPush{c: &http.Client{Timeout: sendTimeout}}
}

// Send POSTs the notification to the endpoint. A 404 or 410 response means the subscription is gone for good and
// yields push.ErrEndpointGone; any other non-2xx status or transport error is a transient failure.
func (w *WebPush) Send(ep store.PushEndpoint, n push.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("cannot encode notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ep.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot build push request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TTL", ttl)

	res, err := w.c.Do(req)
	if err != nil {
		return fmt.Errorf("push delivery failed: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return push.ErrEndpointGone
	case res.StatusCode < 200 || res.StatusCode > 299:
		return fmt.Errorf("push endpoint replied %d", res.StatusCode)
	}

	return nil
}
