// Package postgres implements the interface for PostgreSQL.
//
// Expected schema:
//
//	projects (id text primary key, name text, contract_address text, network text, rank int default 0,
//	          country text default '', unique_wallets int default 0, total_transactions bigint default 0,
//	          last_interaction_at timestamptz)
//	prefs (user_id text, project_id text, threshold double precision, enabled boolean,
//	       last_notified_volume bigint default 0, primary key (user_id, project_id))
//	endpoints (endpoint text primary key, public_key text, auth_secret text, user_id text)
//	watch (net text primary key, block bigint, bh text[], bhi int)
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cryptomap/pulse/lib/store"
)

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// ListProjects returns all the tracked projects registered in the datastore.
func (p *Postgres) ListProjects() ([]store.Project, error) {
	rows, err := p.db.Query("SELECT id, name, contract_address, network, rank, country FROM projects")
	if err != nil {
		return nil, fmt.Errorf("could not list projects: %w", err)
	}
	defer rows.Close()

	var pl []store.Project

	for rows.Next() {
		var pr store.Project
		if err = rows.Scan(&pr.ID, &pr.Name, &pr.ContractAddress, &pr.Network, &pr.Rank, &pr.Country); err != nil {
			return nil, fmt.Errorf("could not scan project: %w", err)
		}

		pl = append(pl, pr)
	}

	return pl, rows.Err()
}

// BatchUpsertVolumes writes the volume fields of every update in one transaction.
func (p *Postgres) BatchUpsertVolumes(updates []store.VolumeUpdate) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin volume upsert: %w", err)
	}

	for _, u := range updates {
		_, err = tx.Exec(`INSERT INTO projects (id, unique_wallets, total_transactions, last_interaction_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET unique_wallets = $2, total_transactions = $3, last_interaction_at = $4`,
			u.ProjectID, u.UniqueWallets, int64(u.TotalTransactions), u.LastInteraction)
		if err != nil {
			tx.Rollback()

			return fmt.Errorf("could not upsert volume for %s: %w", u.ProjectID, err)
		}
	}

	return tx.Commit()
}

// RecalculateRankings re-sorts all projects by unique-wallet volume and reassigns their rank fields.
func (p *Postgres) RecalculateRankings() error {
	_, err := p.db.Exec(`UPDATE projects SET rank = r.rank FROM
		(SELECT id, ROW_NUMBER() OVER (ORDER BY unique_wallets DESC) AS rank FROM projects) r
		WHERE projects.id = r.id`)
	if err != nil {
		return fmt.Errorf("could not recalculate rankings: %w", err)
	}

	return nil
}

// Preferences returns all enabled subscriber preferences for the given project.
func (p *Postgres) Preferences(projectID string) ([]store.SubscriberPreference, error) {
	rows, err := p.db.Query(`SELECT user_id, project_id, threshold, enabled, last_notified_volume
		FROM prefs WHERE project_id = $1 AND enabled`, projectID)
	if err != nil {
		return nil, fmt.Errorf("could not read preferences: %w", err)
	}
	defer rows.Close()

	var prefs []store.SubscriberPreference

	for rows.Next() {
		var pr store.SubscriberPreference
		var vol int64
		if err = rows.Scan(&pr.UserID, &pr.ProjectID, &pr.Threshold, &pr.Enabled, &vol); err != nil {
			return nil, fmt.Errorf("could not scan preference: %w", err)
		}

		pr.LastNotifiedVolume = uint64(vol)
		prefs = append(prefs, pr)
	}

	return prefs, rows.Err()
}

// SavePreference upserts the preference row for its (userId, projectId) pair.
func (p *Postgres) SavePreference(pr store.SubscriberPreference) error {
	_, err := p.db.Exec(`INSERT INTO prefs (user_id, project_id, threshold, enabled, last_notified_volume)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, project_id) DO UPDATE SET threshold = $3, enabled = $4`,
		pr.UserID, pr.ProjectID, pr.Threshold, pr.Enabled, int64(pr.LastNotifiedVolume))
	if err != nil {
		return fmt.Errorf("could not save preference: %w", err)
	}

	return nil
}

// DeletePreference removes the preference row for the (userId, projectId) pair.
func (p *Postgres) DeletePreference(userID, projectID string) error {
	res, err := p.db.Exec("DELETE FROM prefs WHERE user_id = $1 AND project_id = $2", userID, projectID)
	if err != nil {
		return fmt.Errorf("could not delete preference: %w", err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrDataNotFound
	}

	return nil
}

// SetLastNotified updates the notification baseline of the (userId, projectId) pair.
func (p *Postgres) SetLastNotified(userID, projectID string, volume uint64) error {
	_, err := p.db.Exec("UPDATE prefs SET last_notified_volume = $3 WHERE user_id = $1 AND project_id = $2",
		userID, projectID, int64(volume))
	if err != nil {
		return fmt.Errorf("could not update lastNotifiedVolume: %w", err)
	}

	return nil
}

// Endpoints returns the push endpoints registered by the given users.
func (p *Postgres) Endpoints(userIDs []string) ([]store.PushEndpoint, error) {
	rows, err := p.db.Query(`SELECT endpoint, public_key, auth_secret, user_id
		FROM endpoints WHERE user_id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("could not read endpoints: %w", err)
	}
	defer rows.Close()

	var eps []store.PushEndpoint

	for rows.Next() {
		var e store.PushEndpoint
		if err = rows.Scan(&e.Endpoint, &e.PublicKey, &e.AuthSecret, &e.UserID); err != nil {
			return nil, fmt.Errorf("could not scan endpoint: %w", err)
		}

		eps = append(eps, e)
	}

	return eps, rows.Err()
}

// SaveEndpoint upserts a push endpoint row keyed by its endpoint url.
func (p *Postgres) SaveEndpoint(e store.PushEndpoint) error {
	_, err := p.db.Exec(`INSERT INTO endpoints (endpoint, public_key, auth_secret, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE SET public_key = $2, auth_secret = $3, user_id = $4`,
		e.Endpoint, e.PublicKey, e.AuthSecret, e.UserID)
	if err != nil {
		return fmt.Errorf("could not save endpoint: %w", err)
	}

	return nil
}

// RemoveEndpoint deletes a push endpoint row, used when the delivery transport reports the endpoint gone.
func (p *Postgres) RemoveEndpoint(endpoint string) error {
	res, err := p.db.Exec("DELETE FROM endpoints WHERE endpoint = $1", endpoint)
	if err != nil {
		return fmt.Errorf("could not delete endpoint: %w", err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrDataNotFound
	}

	return nil
}

// LoadWatch loads from db the WatchState for the indicated blockchain.
func (p *Postgres) LoadWatch(net string) (ws store.WatchState, err error) {
	var block int64
	var bh pq.StringArray

	err = p.db.QueryRow("SELECT block, bh, bhi FROM watch WHERE net = $1", net).Scan(&block, &bh, &ws.Bhi)
	if errors.Is(err, sql.ErrNoRows) {
		return ws, store.ErrDataNotFound
	}

	if err != nil {
		return ws, fmt.Errorf("could not load watch state: %w", err)
	}

	ws.Block = uint64(block)
	ws.Bh = bh

	return ws, nil
}

// SaveWatch saves to db the WatchState for the indicated blockchain.
func (p *Postgres) SaveWatch(net string, ws store.WatchState) error {
	_, err := p.db.Exec(`INSERT INTO watch (net, block, bh, bhi) VALUES ($1, $2, $3, $4)
		ON CONFLICT (net) DO UPDATE SET block = $2, bh = $3, bhi = $4`,
		net, int64(ws.Block), pq.StringArray(ws.Bh), ws.Bhi)
	if err != nil {
		return fmt.Errorf("could not save watch state: %w", err)
	}

	return nil
}
