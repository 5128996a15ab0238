package tracker

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cryptomap/pulse/lib/chain"
	"github.com/cryptomap/pulse/lib/chain/types"
	"github.com/cryptomap/pulse/lib/push"
	"github.com/cryptomap/pulse/lib/store"
	"github.com/cryptomap/pulse/lib/walletstore"
	"github.com/cryptomap/pulse/tracker/watcher"
)

// mockDB is an in-memory datastore used by the package tests.
type mockDB struct {
	mu        sync.Mutex
	projects  []store.Project
	prefs     []store.SubscriberPreference
	endpoints []store.PushEndpoint
	watch     map[string]store.WatchState
	recalcs   int
	upserts   int
	failPrefs bool // inject a preference fetch failure
	failEps   bool // inject an endpoint fetch failure
}

var errMock = errors.New("mock datastore failure")

func newMockDB() *mockDB {
	return &mockDB{watch: make(map[string]store.WatchState)}
}

func (d *mockDB) ListProjects() ([]store.Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]store.Project{}, d.projects...), nil
}

func (d *mockDB) BatchUpsertVolumes([]store.VolumeUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upserts++
	return nil
}

func (d *mockDB) RecalculateRankings() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recalcs++
	return nil
}

func (d *mockDB) Recalcs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recalcs
}

func (d *mockDB) Preferences(projectID string) ([]store.SubscriberPreference, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPrefs {
		return nil, errMock
	}
	var r []store.SubscriberPreference
	for _, p := range d.prefs {
		if p.ProjectID == projectID && p.Enabled {
			r = append(r, p)
		}
	}
	return r, nil
}

func (d *mockDB) SavePreference(p store.SubscriberPreference) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.prefs {
		if v.UserID == p.UserID && v.ProjectID == p.ProjectID {
			d.prefs[i].Threshold = p.Threshold
			d.prefs[i].Enabled = p.Enabled
			return nil
		}
	}
	d.prefs = append(d.prefs, p)
	return nil
}

func (d *mockDB) DeletePreference(userID, projectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.prefs {
		if v.UserID == userID && v.ProjectID == projectID {
			d.prefs = append(d.prefs[:i], d.prefs[i+1:]...)
			return nil
		}
	}
	return store.ErrDataNotFound
}

func (d *mockDB) SetLastNotified(userID, projectID string, volume uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.prefs {
		if v.UserID == userID && v.ProjectID == projectID {
			d.prefs[i].LastNotifiedVolume = volume
			return nil
		}
	}
	return store.ErrDataNotFound
}

func (d *mockDB) LastNotified(userID, projectID string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.prefs {
		if v.UserID == userID && v.ProjectID == projectID {
			return v.LastNotifiedVolume
		}
	}
	return 0
}

func (d *mockDB) Endpoints(userIDs []string) ([]store.PushEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failEps {
		return nil, errMock
	}
	var r []store.PushEndpoint
	for _, e := range d.endpoints {
		for _, u := range userIDs {
			if e.UserID == u {
				r = append(r, e)
			}
		}
	}
	return r, nil
}

func (d *mockDB) SaveEndpoint(e store.PushEndpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.endpoints {
		if v.Endpoint == e.Endpoint {
			d.endpoints[i] = e
			return nil
		}
	}
	d.endpoints = append(d.endpoints, e)
	return nil
}

func (d *mockDB) RemoveEndpoint(endpoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.endpoints {
		if v.Endpoint == endpoint {
			d.endpoints = append(d.endpoints[:i], d.endpoints[i+1:]...)
			return nil
		}
	}
	return store.ErrDataNotFound
}

func (d *mockDB) LoadWatch(net string) (store.WatchState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.watch[net]
	if !ok {
		return s, store.ErrDataNotFound
	}
	return s, nil
}

func (d *mockDB) SaveWatch(net string, ws store.WatchState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watch[net] = ws
	return nil
}

// fakeSender records deliveries and fails the endpoints it is told to.
type fakeSender struct {
	mu   sync.Mutex
	sent []string          // endpoints delivered to
	fail map[string]error  // endpoint -> error to return
	last push.Notification // last notification delivered
}

func (s *fakeSender) Send(ep store.PushEndpoint, n push.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[ep.Endpoint]; ok {
		return err
	}
	s.sent = append(s.sent, ep.Endpoint)
	s.last = n
	return nil
}

func newTestTracker(t *testing.T, db *mockDB, sender push.Sender) *Tracker {
	t.Helper()

	ws := walletstore.New(filepath.Join(t.TempDir(), "tracking.json"), 30*time.Second)

	return New("mock", db, ws, nil, sender, nil, Options{
		Retention:     24 * time.Hour,
		CleanupEvery:  time.Hour,
		ResyncEvery:   5 * time.Minute,
		DiscoverEvery: 30 * time.Second,
		Debounce:      20 * time.Millisecond,
		BrokerNets:    []string{"brokernet"},
	})
}

// fakeChain serves blocks whose data cannot be decoded.
type fakeChain struct{}

func (c *fakeChain) MaxBlocks() int { return 4 }
func (c *fakeChain) AvgBlock() int  { return 1 }
func (c *fakeChain) Close()         {}

func (c *fakeChain) GetBlock(block uint64, full bool, response interface{}) error {
	*(response.(*map[string]interface{})) = map[string]interface{}{"bogus": true}
	return nil
}

func (c *fakeChain) DecodeBlock(b interface{}) (types.Block, error) {
	return types.Block{}, types.ErrNoHash
}

func (c *fakeChain) DecodeTxs(t interface{}) ([]types.Trans, error) { return nil, nil }

// TestDiscover checks the subscription state machine: projects on known networks get subscribed, projects on unknown
// networks stay unsubscribed and are retried, and projects removed upstream are unsubscribed.
func TestDiscover(t *testing.T) {
	db := newMockDB()
	db.projects = []store.Project{
		{ID: "p1", ContractAddress: "0xaaa", Network: "brokernet"},
		{ID: "p2", ContractAddress: "0xbbb", Network: "nowhere"},
	}

	tr := newTestTracker(t, db, &fakeSender{})

	tr.discover()
	if tr.Subscribed() != 1 {
		t.Errorf("expected 1 subscribed project, got %d", tr.Subscribed())
	}

	// failed subscription is retried once the network becomes known
	db.mu.Lock()
	db.projects[1].Network = "brokernet"
	db.mu.Unlock()

	tr.discover()
	if tr.Subscribed() != 2 {
		t.Errorf("expected 2 subscribed projects, got %d", tr.Subscribed())
	}

	// removed projects are unsubscribed
	db.mu.Lock()
	db.projects = db.projects[:1]
	db.mu.Unlock()

	tr.discover()
	if tr.Subscribed() != 1 {
		t.Errorf("expected 1 subscribed project after removal, got %d", tr.Subscribed())
	}
}

// TestDebounce checks that a burst of ranking recalculation requests coalesces into a single run.
func TestDebounce(t *testing.T) {
	db := newMockDB()
	tr := newTestTracker(t, db, &fakeSender{})

	for i := 0; i < 10; i++ {
		tr.requestRankingRecalc()
	}

	time.Sleep(100 * time.Millisecond)

	if n := db.Recalcs(); n != 1 {
		t.Errorf("expected 1 recalculation, got %d", n)
	}

	// a request after the window elapsed schedules a new run
	tr.requestRankingRecalc()
	time.Sleep(100 * time.Millisecond)

	if n := db.Recalcs(); n != 2 {
		t.Errorf("expected 2 recalculations, got %d", n)
	}
}

// TestTrackStartup checks the startup pass: eviction sweep, resync and a ranking recalculation before the first
// scheduled tick.
func TestTrackStartup(t *testing.T) {
	db := newMockDB()
	tr := newTestTracker(t, db, &fakeSender{})

	done := tr.Track()
	time.Sleep(100 * time.Millisecond)

	if n := db.Recalcs(); n != 1 {
		t.Errorf("expected 1 ranking recalculation at startup, got %d", n)
	}

	tr.Stop()
	<-done
}

// TestScanDecodeFailure checks that a block decode failure stops the network scanner and reports through the
// completion channel instead of dying silently.
func TestScanDecodeFailure(t *testing.T) {
	db := newMockDB()
	tr := newTestTracker(t, db, &fakeSender{})
	tr.bc = map[string]chain.Chain{"net": &fakeChain{}}

	w, err := watcher.New("net", 4, db)
	if err != nil {
		t.Fatalf("watcher.New error:%e", err)
	}
	w.Watch("p1", "0xaaa1")
	tr.wm["net"] = w

	done := make(chan string, 1)
	tr.scanChain("net", done)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not stop on decode failure")
	}

	if w.Status() != watcher.STOP {
		t.Errorf("watcher still working after decode failure")
	}
}

// TestRunCleanup checks the no-op optimization: a sweep that evicts nothing never reaches the datastore.
func TestRunCleanup(t *testing.T) {
	db := newMockDB()
	tr := newTestTracker(t, db, &fakeSender{})

	if _, _, _, err := tr.ws.RecordInteraction("p1", "0xabc"); err != nil {
		t.Fatalf("RecordInteraction error:%e", err)
	}

	tr.runCleanup()

	db.mu.Lock()
	upserts := db.upserts
	db.mu.Unlock()
	if upserts != 0 {
		t.Errorf("no-op cleanup reached the datastore, upserts:%d", upserts)
	}

	// the unconditional resync path always syncs
	tr.resync()

	db.mu.Lock()
	upserts = db.upserts
	db.mu.Unlock()
	if upserts != 1 {
		t.Errorf("expected 1 upsert from resync, got %d", upserts)
	}
}
