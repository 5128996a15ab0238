// Package tracker implements the volume tracker microservice. The tracker ingests contract events for every project
// registered in the remote datastore, records interacting wallets in the durable wallet store, evicts wallets older
// than the retention window, syncs per-project aggregates to the datastore on a schedule, and fans out push
// notifications to subscribers whose percentage-change threshold is met.
package tracker

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cryptomap/pulse/lib/chain"
	"github.com/cryptomap/pulse/lib/chain/types"
	"github.com/cryptomap/pulse/lib/msg"
	"github.com/cryptomap/pulse/lib/push"
	"github.com/cryptomap/pulse/lib/store"
	"github.com/cryptomap/pulse/lib/util"
	"github.com/cryptomap/pulse/lib/walletstore"
	"github.com/cryptomap/pulse/tracker/watcher"
)

// Options carries the tracking schedule configuration.
type Options struct {
	Retention     time.Duration // rolling window for unique-wallet membership
	CleanupEvery  time.Duration // eviction sweep interval
	ResyncEvery   time.Duration // full datastore resync interval
	DiscoverEvery time.Duration // project discovery interval
	Debounce      time.Duration // ranking recalculation coalescing window
	BrokerNets    []string      // networks whose events arrive via the message broker instead of chain scanning
}

// subscription is the capability returned when a project is subscribed; releasing it stops event delivery for the
// project.
type subscription struct {
	contract string
	w        *watcher.Watcher // nil for broker-fed networks
}

func (s *subscription) unsubscribe() {
	if s.w != nil {
		s.w.Unwatch(s.contract)
	}
}

// Tracker contains the data necessary to deliver the service
type Tracker struct {
	dbtype string
	db     store.DB
	ws     *walletstore.Store
	mb     msg.Broker
	sender push.Sender
	bc     map[string]chain.Chain      // blockchain clients
	wm     map[string]*watcher.Watcher // chain watchers per network
	opts   Options

	subMu sync.Mutex
	subs  map[string]*subscription // subscribed projects, owned by this instance

	dmu     sync.Mutex
	pending *time.Timer // debounced ranking recalculation, nil when none scheduled

	s    *http.Server  // http server
	ss   *http.Server  // https server
	sc   chan struct{} // http server channel used for graceful shutdowns
	quit chan struct{}
}

// New returns a pointer to a new Tracker service
func New(dbtype string, db store.DB, ws *walletstore.Store, mb msg.Broker, sender push.Sender,
	bc map[string]chain.Chain, opts Options) *Tracker {
	return &Tracker{
		dbtype: dbtype,
		db:     db,
		ws:     ws,
		mb:     mb,
		sender: sender,
		bc:     bc,
		wm:     make(map[string]*watcher.Watcher),
		opts:   opts,
		subs:   make(map[string]*subscription),
		quit:   make(chan struct{}),
	}
}

// Track starts the tracker: the startup eviction sweep, a chain watcher go routine for each network with a node, a
// broker consumer for each broker-fed network, the project discovery loop and the resync/cleanup timers. It returns
// a channel that reports termination of all chain watchers so the calling routine can control graceful shutdown.
func (t *Tracker) Track() chan string {
	ret := make(chan string, 1)
	// channel to wait for chain watchers
	w := make(chan string, len(t.bc))

	// repair staleness accumulated while the process was down, then align the datastore
	t.runCleanup()
	t.resync()
	t.requestRankingRecalc()

	for net := range t.bc {
		wtc, err := watcher.New(net, t.bc[net].MaxBlocks(), t.db)
		if err != nil {
			log.Printf("[%s] watcher.New failed:%e", net, err)

			continue
		}

		t.wm[net] = wtc
		t.scanChain(net, w)
	}

	if t.mb != nil {
		for _, net := range t.opts.BrokerNets {
			if err := t.consumeBroker(net); err != nil {
				log.Printf("[%s] Cannot consume contract events from broker, err:%e", net, err)
			}
		}
	}

	go t.discoverLoop()
	go t.scheduleLoop()

	// routine to wait for all chains to complete scanning...
	go func() {
		for i := 1; i < len(t.wm)+1; i++ {
			log.Printf("Track, channel %d/%d returned: %s", i, len(t.wm), <-w)
		}
		if len(t.wm) == 0 {
			// broker-fed only, stay up until stopped
			<-t.quit
		}
		ret <- "Done!"
	}()

	return ret
}

// Stop will send termination signals to all watcher go routines and timers and shut the API servers down.
func (t *Tracker) Stop() {
	for _, w := range t.wm {
		w.Stop()
	}

	close(t.quit)

	t.dmu.Lock()
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.dmu.Unlock()

	t.stopAPI()
}

// discoverLoop diffs the datastore's project list against the subscribed set on every tick, subscribing the delta.
// Subscription failures are retried on the next tick, never treated as fatal.
func (t *Tracker) discoverLoop() {
	t.discover()

	tick := time.NewTicker(t.opts.DiscoverEvery)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			t.discover()
		case <-t.quit:
			return
		}
	}
}

func (t *Tracker) discover() {
	pl, err := t.db.ListProjects()
	if err != nil {
		log.Printf("Discovery: cannot list projects, err:%e", err)

		return
	}

	known := make(map[string]bool, len(pl))

	for _, p := range pl {
		known[p.ID] = true

		t.subMu.Lock()
		_, ok := t.subs[p.ID]
		t.subMu.Unlock()

		if ok {
			continue
		}

		sub, err := t.subscribe(p)
		if err != nil {
			// stays unsubscribed, retried next tick
			log.Printf("[%s] Cannot subscribe project %s:%e", p.Network, p.ID, err)

			continue
		}

		t.subMu.Lock()
		t.subs[p.ID] = sub
		t.subMu.Unlock()

		log.Printf("[%s] Subscribed project %s contract %s", p.Network, p.ID, p.ContractAddress)
	}

	// drop subscriptions of projects removed upstream
	t.subMu.Lock()
	for id, sub := range t.subs {
		if !known[id] {
			sub.unsubscribe()
			delete(t.subs, id)
			log.Printf("Unsubscribed removed project %s", id)
		}
	}
	t.subMu.Unlock()
}

// subscribe wires a project's contract into its network's event source and returns the release capability.
func (t *Tracker) subscribe(p store.Project) (*subscription, error) {
	if w, ok := t.wm[p.Network]; ok {
		w.Watch(p.ID, p.ContractAddress)

		return &subscription{contract: p.ContractAddress, w: w}, nil
	}

	if util.In(t.opts.BrokerNets, p.Network) {
		// broker-fed networks deliver events for every contract, matching happens upstream
		return &subscription{contract: p.ContractAddress}, nil
	}

	return nil, fmt.Errorf("no event source for network %s", p.Network)
}

// Subscribed returns how many projects are currently subscribed.
func (t *Tracker) Subscribed() int {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	return len(t.subs)
}

// scanChain starts a watcher go routine for blockchain named 'net'. When the routine ends, returns its error status
// via the 'ret' channel given so the calling routine can control graceful termination. When a network does not have
// any monitored contracts, the watcher will keep waiting and will not scan any mined blocks.
func (t *Tracker) scanChain(net string, ret chan string) {
	w := t.wm[net]

	log.Printf("[%s] Scanning at block %d... ", net, w.Block)

	go func() {
		var err error

		c := t.bc[net]

		defer func() {
			// save watch state to DB
			errSave := t.db.SaveWatch(net, w.ToStore())
			// write into channel
			ret <- "[" + net + "] Done!" + fmt.Sprintf(" err:%e", err) + fmt.Sprintf(" err2:%e", errSave)
		}()

		for w.Status() == watcher.WORK {
			if w.Watching() == 0 {
				// wait until there is something to watch for
				log.Printf("[%s] Waiting for something to watch", net)
				time.Sleep(time.Duration(c.AvgBlock()) * time.Second)

				continue
			}
			// get next block's data
			var b map[string]interface{}

			time.Sleep(1 * time.Second) // limit rate at max. 1 block per second!

			if err = c.GetBlock(w.Block+1, true, &b); err != nil {
				if errors.Is(err, types.ErrNoBlock) {
					// lets wait for a new block to be mined
					time.Sleep(time.Duration(c.AvgBlock()) * time.Second)

					continue
				} else {
					log.Printf("[%s] scanChain GetBlock b:%+v err:%e", net, b, err)
					w.Stop()

					return
				}
			}

			var blk types.Block
			if blk, err = c.DecodeBlock(b); err != nil {
				log.Printf("[%s] scanChain DecodeBlock b:%+v err:%e", net, b, err)
				w.Stop()

				return
			}

			log.Printf("[%s] Parsing block %d hash:%s pHash:%s", net, w.Block+1, blk.Hash, blk.PHash)
			// check block is chained
			if !w.Chained(blk.PHash) {
				log.Printf("[%s] Block %d is not chained!! \n%+v\n%d", net, w.Block+1, w.Bh, w.Bhi)
				w.Stop()

				return
			}

			// decode transactions
			if blk.Tx, err = c.DecodeTxs(b); err != nil {
				log.Printf("[%s] scanChain DecodeTxs err:%e", net, err)
				w.Stop()

				return
			}

			num, _ := strconv.ParseUint(blk.Number, 0, 64)
			ts, _ := strconv.ParseInt(blk.TS, 0, 64)

			// sync'ed - store hash and update other data
			w.UpdateChain(blk.Hash, c.MaxBlocks())
			// scan transactions for monitored contracts
			events := w.ScanTxs(blk.Tx, num, time.Unix(ts, 0).UTC())
			for _, eve := range events {
				t.handleEvent(eve)
			}
			// save watch state to DB
			if errSave := t.db.SaveWatch(net, w.ToStore()); errSave != nil {
				log.Printf("[%s] Error saving watch state to DB, err:%e", net, errSave)

				break
			}
		}
	}()
}

// consumeBroker starts a go routine to receive contract events for the blockchain named 'net' from the message
// broker.
func (t *Tracker) consumeBroker(net string) error {
	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	eveCh, errCh, err := t.mb.GetEvents(net, mut)
	if err != nil {
		return fmt.Errorf("tracker: cannot get events: %w", err)
	}

	// launch event channel reader
	go func() {
		log.Printf("[%s] Start listening to contract event channel", net)

		for eve := range eveCh {
			t.handleEvent(eve)
			mut.Unlock()
		}

		log.Printf("[%s] Stop listening to contract event channel", net)
	}()

	// launch error channel reader
	go func() {
		for e := range errCh {
			log.Printf("[%s] Received broker error %+v", net, e)
		}
	}()

	return nil
}

// handleEvent records one contract interaction and triggers the downstream reactions: threshold evaluation for every
// subscriber of the project, and a debounced ranking recalculation when the wallet is new. Notification fan-out talks
// to the remote datastore and must not block event processing, so it runs in its own routine.
func (t *Tracker) handleEvent(eve types.ContractEvent) {
	isNew, unique, total, err := t.ws.RecordInteraction(eve.ProjectID, eve.WalletAddress)
	if err != nil {
		log.Printf("[%s] Cannot record interaction of %s:%e", eve.ProjectID, eve.WalletAddress, err)

		return
	}

	eventsProcessed.Inc()

	log.Printf("[%s] Recorded %s wallet %s tx %s (unique:%d total:%d)",
		eve.ProjectID, eve.EventName, eve.WalletAddress, eve.TransactionHash, unique, total)

	go func() {
		f := t.notifyVolumeChange(eve.ProjectID, uint64(unique))
		if f.Sent > 0 && t.mb != nil {
			if err := t.mb.SendAlert(msg.VolumeAlert{ProjectID: eve.ProjectID, Volume: uint64(unique), Notified: f.Sent}); err != nil {
				log.Printf("[%s] Cannot publish volume alert:%e", eve.ProjectID, err)
			}
		}
	}()

	if isNew {
		t.requestRankingRecalc()
	}
}

// scheduleLoop owns the background timers: the unconditional full resync and the eviction sweep.
func (t *Tracker) scheduleLoop() {
	resync := time.NewTicker(t.opts.ResyncEvery)
	cleanup := time.NewTicker(t.opts.CleanupEvery)

	defer resync.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-resync.C:
			t.resync()
		case <-cleanup.C:
			t.runCleanup()
			t.resync()
			t.requestRankingRecalc()
		case <-t.quit:
			return
		}
	}
}

// resync pushes every project's aggregate to the remote datastore, unconditionally.
func (t *Tracker) resync() {
	stats, err := t.ws.AllStats()
	if err != nil {
		log.Printf("Resync: cannot read wallet store:%e", err)
		resyncErrors.Inc()

		return
	}

	if len(stats) == 0 {
		return
	}

	updates := make([]store.VolumeUpdate, len(stats))
	for i, s := range stats {
		updates[i] = store.VolumeUpdate{
			ProjectID:         s.ProjectID,
			UniqueWallets:     s.UniqueWallets,
			TotalTransactions: s.TotalTransactions,
			LastInteraction:   s.LastInteraction,
		}
	}

	if err = t.db.BatchUpsertVolumes(updates); err != nil {
		// retried on the next tick
		log.Printf("Resync: cannot upsert volumes:%e", err)
		resyncErrors.Inc()

		return
	}

	log.Printf("Resync: %d projects synced", len(updates))
}

// runCleanup sweeps wallets older than the retention window out of the store. Aggregates of the projects that
// changed are synced right away; a sweep that removed nothing skips the datastore entirely.
func (t *Tracker) runCleanup() {
	res, err := t.ws.CleanupOldWallets(t.opts.Retention)
	if err != nil {
		log.Printf("Cleanup: eviction sweep failed:%e", err)

		return
	}

	if res.Removed == 0 {
		log.Printf("Cleanup: nothing to evict")

		return
	}

	walletsEvicted.Add(float64(res.Removed))
	log.Printf("Cleanup: evicted %d wallets across %d projects", res.Removed, len(res.Projects))

	updates := make([]store.VolumeUpdate, 0, len(res.Projects))
	for _, s := range res.Projects {
		updates = append(updates, store.VolumeUpdate{
			ProjectID:         s.ProjectID,
			UniqueWallets:     s.UniqueWallets,
			TotalTransactions: s.TotalTransactions,
			LastInteraction:   s.LastInteraction,
		})
	}

	if err = t.db.BatchUpsertVolumes(updates); err != nil {
		log.Printf("Cleanup: cannot upsert volumes:%e", err)
		resyncErrors.Inc()
	}
}

// requestRankingRecalc schedules a ranking recalculation in the datastore. Requests arriving while one is already
// pending coalesce into the single scheduled run, so bursts of new-wallet events cause one recalculation, not one
// each.
func (t *Tracker) requestRankingRecalc() {
	t.dmu.Lock()
	defer t.dmu.Unlock()

	if t.pending != nil {
		return
	}

	t.pending = time.AfterFunc(t.opts.Debounce, func() {
		t.dmu.Lock()
		t.pending = nil
		t.dmu.Unlock()

		if err := t.db.RecalculateRankings(); err != nil {
			log.Printf("Cannot recalculate rankings:%e", err)

			return
		}

		log.Printf("Rankings recalculated")
	})
}
