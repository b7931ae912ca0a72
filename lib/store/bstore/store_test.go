package bstore

import (
	"github.com/ValentinKolb/kvlog/lib/store"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func strPtr(s string) *string { return &s }
func u64Ptr(v uint64) *uint64 { return &v }
func entry(key *string, version *uint64, value string) store.Entry {
	return store.Entry{Key: key, Version: version, Value: []byte(value)}
}

// newTestStore opens a fresh database in a temp dir
func newTestStore(t *testing.T) (*Manager, store.IStore) {
	t.Helper()
	m := NewManager(t.TempDir(), &Options{NoSync: true, Timeout: DefaultOptions().Timeout})
	t.Cleanup(func() { _ = m.Close() })
	s, err := m.Open("test-db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return m, s
}

// learn writes an accepted entry and marks the row learned
func learn(t *testing.T, s store.IStore, logSeq uint64, e store.Entry) {
	t.Helper()
	if err := s.UpdatePromise(logSeq, 1); err != nil {
		t.Fatalf("UpdatePromise(%d) failed: %v", logSeq, err)
	}
	if err := s.UpdateAccept(logSeq, 1, e); err != nil {
		t.Fatalf("UpdateAccept(%d) failed: %v", logSeq, err)
	}
	if err := s.MarkLearned(logSeq); err != nil {
		t.Fatalf("MarkLearned(%d) failed: %v", logSeq, err)
	}
}

func TestDatabasePath(t *testing.T) {
	path := DatabasePath("/data", "db1")
	h := HashName("db1")

	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	expected := filepath.Join("/data", "db", h[:3], h[3:6], h+".bolt")
	if path != expected {
		t.Errorf("DatabasePath() = %s, want %s", path, expected)
	}
	if DatabasePath("/data", "db2") == path {
		t.Errorf("different names must map to different files")
	}
}

func TestOpenCreatesSentinel(t *testing.T) {
	m, s := newTestStore(t)

	if _, err := os.Stat(DatabasePath(m.DataDir(), "test-db")); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	row, err := s.ReadRow(0)
	if err != nil {
		t.Fatalf("ReadRow(0) failed: %v", err)
	}
	if row == nil {
		t.Fatalf("sentinel row missing")
	}
	if row.Learned || row.PromisedSeq != 0 || row.AcceptedSeq != 0 || !row.IsNull() {
		t.Errorf("unexpected sentinel row: %+v", row)
	}

	maxSeq, err := s.MaxLogSeq()
	if err != nil || maxSeq != 0 {
		t.Errorf("MaxLogSeq() = %d, %v; want 0", maxSeq, err)
	}

	// no temp files are left behind
	entries, _ := os.ReadDir(filepath.Dir(DatabasePath(m.DataDir(), "test-db")))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestOpenIsCachedAndConcurrent(t *testing.T) {
	m := NewManager(t.TempDir(), &Options{NoSync: true, Timeout: DefaultOptions().Timeout})
	defer m.Close()

	var wg sync.WaitGroup
	results := make([]store.IStore, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Open("shared")
			if err != nil {
				t.Errorf("Open failed: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("Open returned different stores for the same name")
		}
	}
}

func TestReopenKeepsRows(t *testing.T) {
	dir := t.TempDir()
	opts := &Options{NoSync: true, Timeout: DefaultOptions().Timeout}

	m := NewManager(dir, opts)
	s, err := m.Open("persist")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	learn(t, s, 7, entry(strPtr("k"), u64Ptr(3), "v"))
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m = NewManager(dir, opts)
	defer m.Close()
	s, err = m.Open("persist")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	row, err := s.ReadRow(7)
	if err != nil || row == nil {
		t.Fatalf("ReadRow(7) = %v, %v", row, err)
	}
	if !row.Learned || *row.Key != "k" || *row.Version != 3 || string(row.Value) != "v" {
		t.Errorf("unexpected row after reopen: %+v", row)
	}
}

func TestRowLifecycle(t *testing.T) {
	_, s := newTestStore(t)

	if row, err := s.ReadRow(5); err != nil || row != nil {
		t.Fatalf("ReadRow on missing row = %v, %v; want nil, nil", row, err)
	}

	// insert is idempotent
	for i := 0; i < 2; i++ {
		if err := s.InsertOpenRow(5); err != nil {
			t.Fatalf("InsertOpenRow failed: %v", err)
		}
	}
	row, _ := s.ReadRow(5)
	if row == nil || row.Learned || row.PromisedSeq != 0 || row.AcceptedSeq != 0 {
		t.Fatalf("unexpected open row: %+v", row)
	}

	if err := s.UpdatePromise(5, 10); err != nil {
		t.Fatalf("UpdatePromise failed: %v", err)
	}
	if err := s.UpdateAccept(5, 10, entry(strPtr("a"), nil, "x")); err != nil {
		t.Fatalf("UpdateAccept failed: %v", err)
	}
	row, _ = s.ReadRow(5)
	if row.PromisedSeq != 10 || row.AcceptedSeq != 10 || *row.Key != "a" || row.Version != nil {
		t.Fatalf("unexpected accepted row: %+v", row)
	}

	if err := s.MarkLearned(5); err != nil {
		t.Fatalf("MarkLearned failed: %v", err)
	}
	row, _ = s.ReadRow(5)
	if !row.Learned || string(row.Value) != "x" {
		t.Fatalf("unexpected learned row: %+v", row)
	}

	// learned rows are immutable
	if err := s.UpdatePromise(5, 20); store.CodeOf(err) != store.RetCInvalidSeqOrUnknown {
		t.Errorf("UpdatePromise on learned row: got %v", err)
	}
	if err := s.UpdateAccept(5, 20, entry(nil, nil, "y")); store.CodeOf(err) != store.RetCInvalidSeqOrUnknown {
		t.Errorf("UpdateAccept on learned row: got %v", err)
	}

	if maxSeq, _ := s.MaxLogSeq(); maxSeq != 5 {
		t.Errorf("MaxLogSeq() = %d, want 5", maxSeq)
	}
}

func TestNullAndEmptyValuesDiffer(t *testing.T) {
	_, s := newTestStore(t)

	learn(t, s, 1, store.Entry{Value: []byte{}})
	learn(t, s, 2, store.Entry{})

	row1, _ := s.ReadRow(1)
	row2, _ := s.ReadRow(2)
	if row1.Value == nil || len(row1.Value) != 0 {
		t.Errorf("empty value not preserved: %#v", row1.Value)
	}
	if row2.Value != nil {
		t.Errorf("null value not preserved: %#v", row2.Value)
	}
}

func TestUpdateRejectionKeepsRow(t *testing.T) {
	_, s := newTestStore(t)

	rejected := store.NewError(store.RetCInvalidSeqOrUnknown, "nope")
	_, err := s.Update(9, func(row *store.Row) (bool, error) {
		row.PromisedSeq = 99
		return true, rejected
	})
	if err != rejected {
		t.Fatalf("Update returned %v, want the mutator error", err)
	}

	row, _ := s.ReadRow(9)
	if row == nil {
		t.Fatalf("row must exist after first reference")
	}
	if row.PromisedSeq != 0 {
		t.Errorf("rejected mutation was persisted: %+v", row)
	}
}

func TestKeyLatestSeq(t *testing.T) {
	tests := []struct {
		name     string
		rows     map[uint64]store.Entry
		key      string
		expected uint64
	}{
		{
			name:     "Unknown key",
			rows:     map[uint64]store.Entry{3: entry(strPtr("other"), nil, "x")},
			key:      "k",
			expected: 0,
		},
		{
			name: "Highest version wins over later seq",
			rows: map[uint64]store.Entry{
				3: entry(strPtr("k"), u64Ptr(2), "b"),
				6: entry(strPtr("k"), u64Ptr(1), "a"),
			},
			key:      "k",
			expected: 3,
		},
		{
			name: "Smallest seq among highest version",
			rows: map[uint64]store.Entry{
				4: entry(strPtr("k"), u64Ptr(5), "a"),
				7: entry(strPtr("k"), u64Ptr(5), "b"),
				9: entry(strPtr("k"), u64Ptr(4), "c"),
			},
			key:      "k",
			expected: 4,
		},
		{
			name: "Greatest null version seq",
			rows: map[uint64]store.Entry{
				2: entry(strPtr("k"), nil, "a"),
				8: entry(strPtr("k"), nil, "b"),
			},
			key:      "k",
			expected: 8,
		},
		{
			name: "Max of both arms",
			rows: map[uint64]store.Entry{
				2:  entry(strPtr("k"), u64Ptr(9), "a"),
				10: entry(strPtr("k"), nil, "b"),
				5:  entry(strPtr("k"), u64Ptr(1), "c"),
			},
			key:      "k",
			expected: 10,
		},
		{
			name: "Key prefixes do not collide",
			rows: map[uint64]store.Entry{
				3: entry(strPtr("ab"), nil, "a"),
				4: entry(strPtr("a"), nil, "b"),
				5: entry(strPtr("abc"), nil, "c"),
			},
			key:      "a",
			expected: 4,
		},
		{
			name:     "Null key rows are ignored",
			rows:     map[uint64]store.Entry{3: entry(nil, nil, "blob")},
			key:      "",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, s := newTestStore(t)
			for seq, e := range tt.rows {
				learn(t, s, seq, e)
			}
			got, err := s.KeyLatestSeq(tt.key)
			if err != nil {
				t.Fatalf("KeyLatestSeq failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("KeyLatestSeq(%q) = %d, want %d", tt.key, got, tt.expected)
			}
		})
	}
}

func TestIndexFollowsReaccept(t *testing.T) {
	_, s := newTestStore(t)

	// a later accept replaces the entry of an unlearned row
	_ = s.UpdatePromise(4, 1)
	_ = s.UpdateAccept(4, 1, entry(strPtr("old"), nil, "x"))
	_ = s.UpdatePromise(4, 2)
	_ = s.UpdateAccept(4, 2, entry(strPtr("new"), nil, "y"))

	if seq, _ := s.KeyLatestSeq("old"); seq != 0 {
		t.Errorf("stale index entry for old key: %d", seq)
	}
	if seq, _ := s.KeyLatestSeq("new"); seq != 4 {
		t.Errorf("KeyLatestSeq(new) = %d, want 4", seq)
	}
}

func TestCountKeysPendingAccept(t *testing.T) {
	_, s := newTestStore(t)

	learn(t, s, 1, entry(strPtr("k"), nil, "a"))
	_ = s.UpdatePromise(2, 1)
	_ = s.UpdateAccept(2, 1, entry(strPtr("k"), nil, "b"))
	_ = s.UpdatePromise(3, 1)
	_ = s.UpdateAccept(3, 1, entry(strPtr("k"), u64Ptr(1), "c"))

	count, err := s.CountKeysPendingAccept("k")
	if err != nil {
		t.Fatalf("CountKeysPendingAccept failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountKeysPendingAccept() = %d, want 2", count)
	}
}
