// Package store defines the interface for remote datastore implementations used by the tracker microservice.
package store

import (
	"errors"
)

// DB defines the required methods on the remote datastore: the tracked project registry, the volume fields synced
// from the wallet store, and the subscriber preference / push endpoint rows driving notification fan-out.
type DB interface {
	// project registry and volume sync
	ListProjects() ([]Project, error)
	BatchUpsertVolumes([]VolumeUpdate) error
	RecalculateRankings() error
	// subscriber preferences
	Preferences(projectID string) ([]SubscriberPreference, error)
	SavePreference(SubscriberPreference) error
	DeletePreference(userID, projectID string) error
	SetLastNotified(userID, projectID string, volume uint64) error
	// push endpoints
	Endpoints(userIDs []string) ([]PushEndpoint, error)
	SaveEndpoint(PushEndpoint) error
	RemoveEndpoint(endpoint string) error
	// chain watcher scan positions
	LoadWatch(net string) (WatchState, error)
	SaveWatch(net string, ws WatchState) error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("data was not found in store")
)
