// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cryptomap/pulse/lib/store"
)

// Mongo implements a connection to a MongoDB database. The tracker uses database "pulse" with collections
// "projects", "prefs", "endpoints" and "watch".
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// ListProjects returns all the tracked projects registered in the datastore.
func (m *Mongo) ListProjects() ([]store.Project, error) {
	docs, err := m.c.Database("pulse").Collection("projects").Find(context.Background(), bson.M{})
	if err != nil {
		return nil, fmt.Errorf("could not list projects: %w", err)
	}

	var pl []store.Project

	for docs.Next(context.Background()) {
		var p store.Project
		if err = bson.Unmarshal(docs.Current, &p); err != nil {
			return nil, fmt.Errorf("could not decode project: %w", err)
		}

		pl = append(pl, p)
	}

	return pl, nil
}

// BatchUpsertVolumes writes the volume fields of every update, keyed by project id.
func (m *Mongo) BatchUpsertVolumes(updates []store.VolumeUpdate) error {
	col := m.c.Database("pulse").Collection("projects")

	for _, u := range updates {
		_, err := col.UpdateOne(context.Background(),
			bson.M{"_id": u.ProjectID},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "uniqueWallets", Value: u.UniqueWallets},
				{Key: "totalTransactions", Value: int64(u.TotalTransactions)},
				{Key: "lastInteractionAt", Value: u.LastInteraction},
			}}},
			options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("could not upsert volume for %s: %w", u.ProjectID, err)
		}
	}

	return nil
}

// projectVolume is the projection used by RecalculateRankings.
type projectVolume struct {
	ID            string `bson:"_id"`
	UniqueWallets int    `bson:"uniqueWallets"`
}

// RecalculateRankings re-sorts all projects by unique-wallet volume and reassigns their rank fields.
func (m *Mongo) RecalculateRankings() error {
	col := m.c.Database("pulse").Collection("projects")

	docs, err := col.Find(context.Background(), bson.M{})
	if err != nil {
		return fmt.Errorf("could not read projects for ranking: %w", err)
	}

	var pl []projectVolume

	for docs.Next(context.Background()) {
		var p projectVolume
		if err = bson.Unmarshal(docs.Current, &p); err != nil {
			return fmt.Errorf("could not decode project for ranking: %w", err)
		}

		pl = append(pl, p)
	}

	sort.Slice(pl, func(i, j int) bool { return pl[i].UniqueWallets > pl[j].UniqueWallets })

	for i, p := range pl {
		_, err = col.UpdateOne(context.Background(),
			bson.M{"_id": p.ID},
			bson.D{{Key: "$set", Value: bson.D{{Key: "rank", Value: i + 1}}}})
		if err != nil {
			return fmt.Errorf("could not update rank of %s: %w", p.ID, err)
		}
	}

	return nil
}

// Preferences returns all enabled subscriber preferences for the given project.
func (m *Mongo) Preferences(projectID string) ([]store.SubscriberPreference, error) {
	docs, err := m.c.Database("pulse").Collection("prefs").Find(context.Background(),
		bson.M{"projectId": projectID, "enabled": true})
	if err != nil {
		return nil, fmt.Errorf("could not read preferences: %w", err)
	}

	var prefs []store.SubscriberPreference

	for docs.Next(context.Background()) {
		var p store.SubscriberPreference
		if err = bson.Unmarshal(docs.Current, &p); err != nil {
			return nil, fmt.Errorf("could not decode preference: %w", err)
		}

		prefs = append(prefs, p)
	}

	return prefs, nil
}

// SavePreference upserts the preference row for its (userId, projectId) pair.
func (m *Mongo) SavePreference(p store.SubscriberPreference) error {
	_, err := m.c.Database("pulse").Collection("prefs").UpdateOne(context.Background(),
		bson.M{"userId": p.UserID, "projectId": p.ProjectID},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "threshold", Value: p.Threshold},
			{Key: "enabled", Value: p.Enabled},
		}}, {Key: "$setOnInsert", Value: bson.D{
			{Key: "lastNotifiedVolume", Value: int64(p.LastNotifiedVolume)},
		}}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save preference: %w", err)
	}

	return nil
}

// DeletePreference removes the preference row for the (userId, projectId) pair.
func (m *Mongo) DeletePreference(userID, projectID string) error {
	res, err := m.c.Database("pulse").Collection("prefs").DeleteOne(context.Background(),
		bson.M{"userId": userID, "projectId": projectID})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrDataNotFound
	}

	return err
}

// SetLastNotified updates the notification baseline of the (userId, projectId) pair.
func (m *Mongo) SetLastNotified(userID, projectID string, volume uint64) error {
	_, err := m.c.Database("pulse").Collection("prefs").UpdateOne(context.Background(),
		bson.M{"userId": userID, "projectId": projectID},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastNotifiedVolume", Value: int64(volume)}}}})
	if err != nil {
		return fmt.Errorf("could not update lastNotifiedVolume: %w", err)
	}

	return nil
}

// Endpoints returns the push endpoints registered by the given users.
func (m *Mongo) Endpoints(userIDs []string) ([]store.PushEndpoint, error) {
	docs, err := m.c.Database("pulse").Collection("endpoints").Find(context.Background(),
		bson.M{"userId": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("could not read endpoints: %w", err)
	}

	var eps []store.PushEndpoint

	for docs.Next(context.Background()) {
		var e store.PushEndpoint
		if err = bson.Unmarshal(docs.Current, &e); err != nil {
			return nil, fmt.Errorf("could not decode endpoint: %w", err)
		}

		eps = append(eps, e)
	}

	return eps, nil
}

// SaveEndpoint upserts a push endpoint row keyed by its endpoint url.
func (m *Mongo) SaveEndpoint(e store.PushEndpoint) error {
	_, err := m.c.Database("pulse").Collection("endpoints").UpdateOne(context.Background(),
		bson.M{"endpoint": e.Endpoint},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "publicKey", Value: e.PublicKey},
			{Key: "authSecret", Value: e.AuthSecret},
			{Key: "userId", Value: e.UserID},
		}}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save endpoint: %w", err)
	}

	return nil
}

// RemoveEndpoint deletes a push endpoint row, used when the delivery transport reports the endpoint gone.
func (m *Mongo) RemoveEndpoint(endpoint string) error {
	res, err := m.c.Database("pulse").Collection("endpoints").DeleteOne(context.Background(),
		bson.M{"endpoint": endpoint})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrDataNotFound
	}

	return err
}

// LoadWatch loads from db the WatchState for the indicated blockchain.
func (m *Mongo) LoadWatch(net string) (ws store.WatchState, err error) {
	sr := m.c.Database("pulse").Collection("watch").FindOne(context.Background(), bson.M{"_id": net})
	if err = sr.Decode(&ws); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveWatch saves to db the WatchState for the indicated blockchain.
func (m *Mongo) SaveWatch(net string, ws store.WatchState) (err error) {
	_, err = m.c.Database("pulse").Collection("watch").UpdateOne(context.Background(),
		bson.M{"_id": net},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "block", Value: int64(ws.Block)},
			{Key: "bh", Value: ws.Bh},
			{Key: "bhi", Value: ws.Bhi},
		}}},
		options.Update().SetUpsert(true))

	return
}
