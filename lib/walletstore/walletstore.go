// Package walletstore implements the durable store of per-project wallet interactions. The store keeps, for every
// tracked project, the set of wallet addresses seen within the retention window and a monotonic transaction counter.
// State lives in a single JSON snapshot file; every mutation rewrites the snapshot atomically (temp file + rename) so
// a crash mid-write never corrupts the canonical file. A lock file next to the snapshot serializes writers across
// processes; a lock older than the staleness threshold is treated as abandoned by a crashed holder and removed.
package walletstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Errors returned
var (
	ErrLockTimeout     = errors.New("could not acquire snapshot lock")
	ErrSnapshotCorrupt = errors.New("snapshot file is corrupt")
)

// Lock acquisition tuning.
const (
	lockRetries = 100
	lockBackoff = 50 * time.Millisecond
)

// aggregate is the on-disk shape of one project entry in the snapshot file.
type aggregate struct {
	Wallets           map[string]time.Time `json:"wallets"`
	TotalTransactions uint64               `json:"total_transactions"`
	LastInteractionAt time.Time            `json:"last_interaction_at"`
}

// snapshot is the full on-disk state, keyed by project id.
type snapshot map[string]*aggregate

// ProjectStats is the read-only projection of one project's aggregate.
type ProjectStats struct {
	ProjectID         string    `json:"projectId"`
	UniqueWallets     int       `json:"uniqueWallets"`
	TotalTransactions uint64    `json:"totalTransactions"`
	LastInteraction   time.Time `json:"lastInteractionAt"`
}

// CleanupResult reports the outcome of an eviction sweep. Projects only contains entries for projects that changed.
type CleanupResult struct {
	Removed  int
	Projects map[string]ProjectStats
}

// Store owns the snapshot file. All access goes through an in-process mutex plus the on-disk lock file, so several
// Store instances (or processes) pointed at the same path never interleave writes.
type Store struct {
	mu       sync.Mutex
	path     string
	lockPath string
	stale    time.Duration
}

// New returns a Store persisting to path. The lock file is path + ".lock". A lock file older than stale is considered
// abandoned and force-cleared.
func New(path string, stale time.Duration) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		stale:    stale,
	}
}

// RecordInteraction registers one interaction of walletAddr with projectID. The address is lower-cased before use so
// repeated interactions of the same wallet under different casings collapse into one entry. It returns whether the
// wallet was new for the project, the project's unique-wallet count and its total transaction count after the update.
func (s *Store) RecordInteraction(projectID, walletAddr string) (isNew bool, unique int, total uint64, err error) {
	addr := strings.ToLower(walletAddr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.acquireLock(); err != nil {
		return false, 0, 0, err
	}
	defer s.releaseLock()

	snap, err := s.load()
	if err != nil {
		return false, 0, 0, err
	}

	now := time.Now().UTC()

	agg, ok := snap[projectID]
	if !ok {
		agg = &aggregate{Wallets: make(map[string]time.Time)}
		snap[projectID] = agg
	}

	_, seen := agg.Wallets[addr]
	agg.Wallets[addr] = now
	agg.TotalTransactions++
	agg.LastInteractionAt = now

	if err = s.persist(snap); err != nil {
		return false, 0, 0, err
	}

	return !seen, len(agg.Wallets), agg.TotalTransactions, nil
}

// CleanupOldWallets removes every wallet entry whose last interaction is older than now - retention, across all
// projects. Transaction counters are untouched: transactions are permanent, unique-wallet membership is windowed.
// The snapshot is only rewritten when at least one entry was removed.
func (s *Store) CleanupOldWallets(retention time.Duration) (CleanupResult, error) {
	res := CleanupResult{Projects: make(map[string]ProjectStats)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(); err != nil {
		return res, err
	}
	defer s.releaseLock()

	snap, err := s.load()
	if err != nil {
		return res, err
	}

	cutoff := time.Now().UTC().Add(-retention)

	for id, agg := range snap {
		removed := 0

		for addr, seen := range agg.Wallets {
			if seen.Before(cutoff) {
				delete(agg.Wallets, addr)
				removed++
			}
		}

		if removed > 0 {
			res.Removed += removed
			res.Projects[id] = ProjectStats{
				ProjectID:         id,
				UniqueWallets:     len(agg.Wallets),
				TotalTransactions: agg.TotalTransactions,
				LastInteraction:   agg.LastInteractionAt,
			}
		}
	}

	if res.Removed == 0 {
		return res, nil
	}

	if err = s.persist(snap); err != nil {
		return CleanupResult{Projects: make(map[string]ProjectStats)}, err
	}

	return res, nil
}

// AllStats returns the stats of every project in the snapshot, sorted by project id. Used for the periodic full
// resync to the remote datastore.
func (s *Store) AllStats() ([]ProjectStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	defer s.releaseLock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}

	stats := make([]ProjectStats, 0, len(snap))

	for id, agg := range snap {
		stats = append(stats, ProjectStats{
			ProjectID:         id,
			UniqueWallets:     len(agg.Wallets),
			TotalTransactions: agg.TotalTransactions,
			LastInteraction:   agg.LastInteractionAt,
		})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].ProjectID < stats[j].ProjectID })

	return stats, nil
}

// load reads the snapshot file. A missing file is a first run and yields an empty snapshot; any other failure is a
// data-integrity problem and is propagated.
func (s *Store) load() (snapshot, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, nil
		}

		return nil, fmt.Errorf("cannot read snapshot %s: %w", s.path, err)
	}

	var snap snapshot
	if err = json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotCorrupt, s.path, err)
	}

	for _, agg := range snap {
		if agg.Wallets == nil {
			agg.Wallets = make(map[string]time.Time)
		}
	}

	return snap, nil
}

// persist writes the snapshot to a temp file in the same directory and renames it over the canonical path. The
// rename is the only state transition other readers can observe.
func (s *Store) persist(snap snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cannot encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("cannot create snapshot temp file: %w", err)
	}

	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("cannot write snapshot temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("cannot close snapshot temp file: %w", err)
	}

	if err = os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("cannot replace snapshot file: %w", err)
	}

	return nil
}

// acquireLock creates the lock file with the holder's pid. On contention it checks the lock's age: one older than
// the staleness threshold belonged to a crashed holder, is broken and the acquisition retried immediately;
// otherwise the acquirer backs off. Acquisition is bounded, never waits indefinitely.
func (s *Store) acquireLock() error {
	for i := 0; i < lockRetries; i++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.WriteString(strconv.Itoa(os.Getpid()))
			f.Close()

			return nil
		}

		if !os.IsExist(err) {
			return fmt.Errorf("cannot create lock file %s: %w", s.lockPath, err)
		}

		fi, errStat := os.Stat(s.lockPath)
		if errStat == nil && time.Since(fi.ModTime()) > s.stale {
			// abandoned by a crashed holder
			s.breakLock(fi.ModTime())

			continue
		}

		time.Sleep(lockBackoff)
	}

	return fmt.Errorf("%w after %d attempts: %s", ErrLockTimeout, lockRetries, s.lockPath)
}

// breakLock clears a lock abandoned by a crashed holder. The lock is claimed by renaming it first, so when several
// contenders observe the same stale lock only one of them wins the claim and a fresh lock recreated in between is
// handed back instead of removed.
func (s *Store) breakLock(seen time.Time) {
	claim := s.lockPath + ".stale"
	if os.Rename(s.lockPath, claim) != nil {
		return
	}

	fi, err := os.Stat(claim)
	if err == nil && !fi.ModTime().Equal(seen) {
		// the lock was replaced since it was observed stale
		os.Rename(claim, s.lockPath)

		return
	}

	os.Remove(claim)
}

// releaseLock removes the lock file.
func (s *Store) releaseLock() {
	os.Remove(s.lockPath)
}
