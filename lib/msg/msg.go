// Package msg defines the interface for different message brokers.
//
package msg

import (
	"sync"

	"github.com/cryptomap/pulse/lib/chain/types"
)

// VolumeAlert is published whenever a project's volume change qualified for notification, so front-ends can update
// in real time without polling the datastore.
type VolumeAlert struct {
	ProjectID string `json:"projectId"`
	Volume    uint64 `json:"volume"`   // unique-wallet count at the time of the alert
	Notified  int    `json:"notified"` // deliveries made for this change
}

type Broker interface {
	Setup(interface{}) error
	Close() error

	// GetEvents consumes externally produced contract events for the named network. The returned mutex discipline
	// follows the tracker's pace: a consumed message is only acknowledged once the mutex is unlocked.
	GetEvents(net string, mut *sync.Mutex) (<-chan types.ContractEvent, <-chan error, error)
	// SendAlert publishes a qualifying volume change.
	SendAlert(a VolumeAlert) error
}
