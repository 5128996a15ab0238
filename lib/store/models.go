package store

import "time"

// Project contains the fields of a tracked project saved to DB. Rank and Country are assigned by the ranking
// recalculation and are opaque to the tracker.
type Project struct {
	ID              string `json:"id" bson:"_id"`
	Name            string `json:"name" bson:"name"`
	ContractAddress string `json:"contractAddress" bson:"contractAddress"`
	Network         string `json:"network" bson:"network"`
	Rank            int    `json:"rank" bson:"rank"`
	Country         string `json:"country,omitempty" bson:"country,omitempty"`
}

// VolumeUpdate carries one project's aggregate counters to the datastore.
type VolumeUpdate struct {
	ProjectID         string    `json:"projectId" bson:"projectId"`
	UniqueWallets     int       `json:"uniqueWallets" bson:"uniqueWallets"`
	TotalTransactions uint64    `json:"totalTransactions" bson:"totalTransactions"`
	LastInteraction   time.Time `json:"lastInteractionAt" bson:"lastInteractionAt"`
}

// SubscriberPreference contains one user's notification settings for one project. At most one row exists per
// (UserID, ProjectID) pair. LastNotifiedVolume is the unique-wallet count at the time of the last qualifying
// notification and is the baseline for the next percentage-change evaluation.
type SubscriberPreference struct {
	UserID             string  `json:"userId" bson:"userId"`
	ProjectID          string  `json:"projectId" bson:"projectId"`
	Threshold          float64 `json:"threshold" bson:"threshold"` // minimum percentage change to notify
	Enabled            bool    `json:"enabled" bson:"enabled"`
	LastNotifiedVolume uint64  `json:"lastNotifiedVolume" bson:"lastNotifiedVolume"`
}

// PushEndpoint contains the fields of one push subscription saved to DB. A user may have several endpoints, one per
// device. Endpoints reported permanently gone by the delivery transport are removed.
type PushEndpoint struct {
	Endpoint   string `json:"endpoint" bson:"endpoint"`
	PublicKey  string `json:"publicKey" bson:"publicKey"`
	AuthSecret string `json:"authSecret" bson:"authSecret"`
	UserID     string `json:"userId" bson:"userId"`
}

// WatchState contains the fields of a chain watcher's scan position saved to DB, so a restarted tracker resumes
// where it left off.
type WatchState struct {
	Block uint64   `json:"block" bson:"block"` // last block parsed
	Bh    []string `json:"bh" bson:"bh"`       // last block hashes (from Block-1 to Block-maxBlocks)
	Bhi   int      `json:"bhi" bson:"bhi"`     // index to last block's hash in Bh
}
