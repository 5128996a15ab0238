// Package push defines the interface for push notification delivery transports.
package push

import (
	"errors"

	"github.com/cryptomap/pulse/lib/store"
)

// Errors returned
var (
	// ErrEndpointGone signals a permanent delivery failure: the endpoint subscription has expired or been revoked
	// and its row should be removed from the datastore.
	ErrEndpointGone = errors.New("push endpoint is gone")
)

// Notification is the payload delivered to a subscriber's endpoints.
type Notification struct {
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	ProjectID string  `json:"projectId"`
	Volume    uint64  `json:"volume"`
	Change    float64 `json:"change"`
}

// Sender delivers one notification to one endpoint. Delivery is at-least-once: a transient failure returns an
// ordinary error and is not retried within the same fan-out pass; a permanent failure returns ErrEndpointGone.
type Sender interface {
	Send(ep store.PushEndpoint, n Notification) error
}
