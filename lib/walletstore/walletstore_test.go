package walletstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// TestRecordInteraction covers wallet newness, address normalization and counter behaviour on repeat interactions.
func TestRecordInteraction(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tracking.json"), 30*time.Second)

	cases := []struct {
		name, project, addr string
		isNew               bool
		unique              int
		total               uint64
	}{
		{"first wallet", "p1", "0xAbC1", true, 1, 1},
		{"repeat, different casing", "p1", "0xabc1", false, 1, 2},
		{"second wallet", "p1", "0xdef2", true, 2, 3},
		{"same wallet, other project", "p2", "0xabc1", true, 1, 1},
		{"repeat exact", "p1", "0xdef2", false, 2, 4},
	}

	for _, c := range cases {
		isNew, unique, total, err := s.RecordInteraction(c.project, c.addr)
		if err != nil {
			t.Fatalf("%s: RecordInteraction error:%e", c.name, err)
		}
		if isNew != c.isNew || unique != c.unique || total != c.total {
			t.Errorf("%s: got isNew=%v unique=%d total=%d, want isNew=%v unique=%d total=%d",
				c.name, isNew, unique, total, c.isNew, c.unique, c.total)
		}
	}
}

// TestPersistence makes sure a second Store instance pointed at the same file sees the persisted state, and that a
// stray temp file left by a crashed writer does not affect the canonical snapshot.
func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking.json")

	s := New(path, 30*time.Second)
	if _, _, _, err := s.RecordInteraction("p1", "0xabc"); err != nil {
		t.Fatalf("RecordInteraction error:%e", err)
	}

	// simulate a crash between temp-file write and rename
	if err := os.WriteFile(filepath.Join(dir, "tracking.json.tmp123"), []byte("{partial"), 0o644); err != nil {
		t.Fatalf("cannot write stray temp file:%e", err)
	}

	s2 := New(path, 30*time.Second)
	stats, err := s2.AllStats()
	if err != nil {
		t.Fatalf("AllStats error:%e", err)
	}
	if len(stats) != 1 || stats[0].ProjectID != "p1" || stats[0].UniqueWallets != 1 || stats[0].TotalTransactions != 1 {
		t.Errorf("unexpected stats after reload:%+v", stats)
	}
}

// TestCorruptSnapshot makes sure a mangled snapshot file is reported, not silently reset to empty state.
func TestCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("cannot write snapshot:%e", err)
	}

	s := New(path, 30*time.Second)
	if _, _, _, err := s.RecordInteraction("p1", "0xabc"); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got:%v", err)
	}
	if _, err := s.AllStats(); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got:%v", err)
	}
}

// writeSnapshot writes a snapshot file with the given wallet ages so eviction can be tested without waiting.
func writeSnapshot(t *testing.T, path string, wallets map[string]time.Duration, total uint64) {
	t.Helper()

	now := time.Now().UTC()
	agg := &aggregate{Wallets: make(map[string]time.Time), TotalTransactions: total, LastInteractionAt: now}
	for addr, age := range wallets {
		agg.Wallets[addr] = now.Add(-age)
	}

	b, err := json.Marshal(snapshot{"p1": agg})
	if err != nil {
		t.Fatalf("cannot marshal snapshot:%e", err)
	}
	if err = os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("cannot write snapshot:%e", err)
	}
}

// TestCleanup checks that exactly the entries older than the retention window are evicted, that transaction counters
// survive eviction, and that a sweep removing nothing does not rewrite the snapshot file.
func TestCleanup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.json")
	writeSnapshot(t, path, map[string]time.Duration{
		"0xold": 25 * time.Hour,
		"0xnew": 1 * time.Hour,
	}, 7)

	s := New(path, 30*time.Second)

	res, err := s.CleanupOldWallets(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldWallets error:%e", err)
	}
	if res.Removed != 1 || len(res.Projects) != 1 {
		t.Fatalf("unexpected cleanup result:%+v", res)
	}
	if p := res.Projects["p1"]; p.UniqueWallets != 1 || p.TotalTransactions != 7 {
		t.Errorf("unexpected post-cleanup stats:%+v", p)
	}

	// second sweep is a no-op and must not touch the file
	fi, _ := os.Stat(path)
	before := fi.ModTime()
	time.Sleep(20 * time.Millisecond)

	res, err = s.CleanupOldWallets(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldWallets error:%e", err)
	}
	if res.Removed != 0 || len(res.Projects) != 0 {
		t.Errorf("expected no-op sweep, got:%+v", res)
	}

	fi, _ = os.Stat(path)
	if !fi.ModTime().Equal(before) {
		t.Errorf("no-op sweep rewrote the snapshot file")
	}
}

// TestStaleLock checks that a lock file older than the staleness threshold is cleared and the writer proceeds.
func TestStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.json")
	lock := path + ".lock"

	if err := os.WriteFile(lock, []byte("12345"), 0o644); err != nil {
		t.Fatalf("cannot write lock file:%e", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lock, old, old); err != nil {
		t.Fatalf("cannot backdate lock file:%e", err)
	}

	s := New(path, 30*time.Second)
	if _, _, _, err := s.RecordInteraction("p1", "0xabc"); err != nil {
		t.Errorf("writer did not recover from stale lock:%e", err)
	}
	if _, err := os.Stat(lock); !os.IsNotExist(err) {
		t.Errorf("lock file was not released")
	}
}

// TestFreshLockWait checks that a lock within the staleness threshold is waited out, never broken: the writer only
// proceeds once the holder releases it.
func TestFreshLockWait(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.json")
	lock := path + ".lock"

	if err := os.WriteFile(lock, []byte("12345"), 0o644); err != nil {
		t.Fatalf("cannot write lock file:%e", err)
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		os.Remove(lock)
	}()

	s := New(path, time.Minute)
	start := time.Now()
	if _, _, _, err := s.RecordInteraction("p1", "0xabc"); err != nil {
		t.Fatalf("RecordInteraction error:%e", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Errorf("fresh lock was broken instead of waited out")
	}
}

// TestConcurrentWriters fires concurrent interactions at one project and checks the final counters.
func TestConcurrentWriters(t *testing.T) {
	const n = 20

	s := New(filepath.Join(t.TempDir(), "tracking.json"), 30*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// half the writers reuse an address
			addr := fmt.Sprintf("0x%04d", i%10)
			if _, _, _, err := s.RecordInteraction("p1", addr); err != nil {
				t.Errorf("RecordInteraction error:%e", err)
			}
		}(i)
	}
	wg.Wait()

	stats, err := s.AllStats()
	if err != nil {
		t.Fatalf("AllStats error:%e", err)
	}
	if len(stats) != 1 || stats[0].UniqueWallets != 10 || stats[0].TotalTransactions != n {
		t.Errorf("unexpected final stats:%+v", stats)
	}
}
