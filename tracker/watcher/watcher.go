// Package watcher keeps the scanning state of one network: the last parsed block, a revolving window of recent block
// hashes for orphan detection, and the map of monitored contract addresses to their project ids.
package watcher

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cryptomap/pulse/lib/chain/types"
	"github.com/cryptomap/pulse/lib/store"
)

// Status possible values, control whether a Watcher is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// Watcher contains the fields and data structures required to manage the scanning of a network or blockchain.
type Watcher struct {
	l      sync.Mutex // l is a mutex to ensure concurrent updating of contracts in the map
	status int
	Block  uint64            // last block parsed
	Bh     []string          // contains the last blocks hashes (from Block-1 to Block-maxBlocks)
	Bhi    int               // index to last block's hash in Bh
	Map    map[string]string // monitored contract address (lower-cased) to project id
}

// New loads the watcher's scan position for net from the db and returns a Watcher. If the db has no state for the
// network yet, scanning starts from block 0.
func New(net string, max int, db store.DB) (*Watcher, error) {
	var w Watcher

	s, err := db.LoadWatch(net)
	if err != nil {
		if err == store.ErrDataNotFound {
			// no watch state in DB yet, start from block 0
			w.Block = 0
			w.Bhi = 0
			w.Bh = make([]string, max)
			err = nil
		} else {
			return nil, err
		}
	} else {
		w.FromStore(s)
	}

	w.status = WORK
	w.Map = make(map[string]string)

	log.Printf("[%s] watcher.New %+v", net, &w)

	return &w, err
}

// ScanTxs matches the transactions against the monitored contract map and returns one contract event per transaction
// addressed to a monitored contract. The interacting wallet is the transaction sender.
func (w *Watcher) ScanTxs(txs []types.Trans, blockNum uint64, ts time.Time) []types.ContractEvent {
	r := make([]types.ContractEvent, 0, 4) // capacity = 4 is more than enough for a block!

	w.l.Lock()
	defer w.l.Unlock()

	for _, tx := range txs {
		projectID, ok := w.Map[strings.ToLower(tx.To)]
		if !ok {
			continue
		}

		r = append(r, types.ContractEvent{
			ProjectID:       projectID,
			ContractAddress: tx.To,
			EventName:       tx.Method,
			WalletAddress:   tx.From,
			BlockNumber:     blockNum,
			TransactionHash: tx.Hash,
			TS:              ts,
		})
	}

	return r
}

// Chained checks if the supplied hash is the last block's hash
func (w *Watcher) Chained(hash string) bool {
	w.l.Lock()
	defer w.l.Unlock()
	return w.Bh[w.Bhi] == hash || w.Bh[w.Bhi] == ""
}

// UpdateChain updates Watcher fields with new block hash
func (w *Watcher) UpdateChain(hash string, maxBlocks int) {
	w.l.Lock()
	defer w.l.Unlock()
	w.Block++
	w.Bhi++
	w.Bhi %= maxBlocks
	w.Bh[w.Bhi] = hash
}

// Watch adds a contract to the monitoring map.
func (w *Watcher) Watch(projectID, contract string) {
	w.l.Lock()
	defer w.l.Unlock()
	w.Map[strings.ToLower(contract)] = projectID
}

// Unwatch deletes a monitored contract from the map returning its project id and an ok flag.
func (w *Watcher) Unwatch(contract string) (projectID string, ok bool) {
	w.l.Lock()
	defer w.l.Unlock()
	projectID, ok = w.Map[strings.ToLower(contract)]
	delete(w.Map, strings.ToLower(contract))
	return
}

// Watching returns how many contracts are monitored.
func (w *Watcher) Watching() int {
	w.l.Lock()
	defer w.l.Unlock()
	return len(w.Map)
}

// ToStore returns a store.WatchState struct to be saved to store
func (w *Watcher) ToStore() store.WatchState {
	w.l.Lock()
	defer w.l.Unlock()
	return store.WatchState{
		Block: w.Block,
		Bh:    w.Bh,
		Bhi:   w.Bhi,
	}
}

// FromStore loads the Watcher with the values read from store
func (w *Watcher) FromStore(s store.WatchState) {
	w.Block = s.Block
	w.Bh = s.Bh
	w.Bhi = s.Bhi
}

// Stop sets status to STOP
func (w *Watcher) Stop() {
	w.l.Lock()
	w.status = STOP
	w.l.Unlock()
}

// Start sets status to WORK
func (w *Watcher) Start() {
	w.l.Lock()
	w.status = WORK
	w.l.Unlock()
}

// Status returns the current Watcher status
func (w *Watcher) Status() int {
	w.l.Lock()
	defer w.l.Unlock()
	return w.status
}
