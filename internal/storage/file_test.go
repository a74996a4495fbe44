package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scibot/internal/feed"
)

func openTestFile(t *testing.T, path string, compactEvery int) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "file", Path: path, CompactEvery: compactEvery}, testLogger())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", path, err)
	}
	return st
}

func TestFileLedgerSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "publications.json")

	st := openTestFile(t, path, 0)
	for _, k := range []string{"https://a.example/1", "https://a.example/2"} {
		if err := st.Record(ctx, k); err != nil {
			t.Fatalf("Record(%s) error: %v", k, err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st = openTestFile(t, path, 0)
	defer st.Close()
	for _, k := range []string{"https://a.example/1", "https://a.example/2"} {
		ok, err := st.Contains(ctx, k)
		if err != nil {
			t.Fatalf("Contains(%s) error: %v", k, err)
		}
		if !ok {
			t.Fatalf("Contains(%s) = false after reopen", k)
		}
	}
	if ok, _ := st.Contains(ctx, "https://a.example/3"); ok {
		t.Fatal("unexpected key present")
	}
}

func TestFileLedgerMissingStoreIsEmpty(t *testing.T) {
	t.Parallel()
	st := openTestFile(t, filepath.Join(t.TempDir(), "nested", "dir", "ledger.json"), 0)
	defer st.Close()
	ok, err := st.Contains(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Contains error: %v", err)
	}
	if ok {
		t.Fatal("fresh ledger must be empty")
	}
}

func TestFileLedgerRecordIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestFile(t, filepath.Join(t.TempDir(), "ledger.json"), 0)
	defer st.Close()

	for i := 0; i < 3; i++ {
		if err := st.Record(ctx, " k1 "); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}
	n, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestFileLedgerCompactsIntoSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	st := openTestFile(t, path, 2)
	for _, k := range []string{"a", "b", "c"} {
		if err := st.Record(ctx, k); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}
	_ = st.Close()

	if _, err := os.Stat(filepath.Join(dir, "ledger.ledger.snapshot.json")); err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}
	journal, err := os.ReadFile(filepath.Join(dir, "ledger.ledger.journal.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if got := strings.Count(string(journal), "\n"); got != 1 {
		t.Fatalf("journal lines after compaction = %d, want 1", got)
	}

	st = openTestFile(t, path, 2)
	defer st.Close()
	if n, _ := st.Count(ctx); n != 3 {
		t.Fatalf("Count after reopen = %d, want 3", n)
	}
}

func TestFileLedgerTornTailIsDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	journal := filepath.Join(dir, "ledger.ledger.journal.jsonl")

	content := `{"key":"good","at":1}` + "\n" + `{"key":"to`
	if err := os.WriteFile(journal, []byte(content), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	st := openTestFile(t, path, 0)
	if ok, _ := st.Contains(ctx, "good"); !ok {
		t.Fatal("expected complete record to load")
	}
	if err := st.Record(ctx, "next"); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	_ = st.Close()

	st = openTestFile(t, path, 0)
	defer st.Close()
	for _, k := range []string{"good", "next"} {
		if ok, _ := st.Contains(ctx, k); !ok {
			t.Fatalf("Contains(%s) = false after torn-tail recovery", k)
		}
	}
}

func TestFileLedgerCorruptJournalIsStorageError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "ledger.ledger.journal.jsonl")
	content := `{"key":"a","at":1}` + "\n" + "garbage\n" + `{"key":"b","at":2}` + "\n"
	if err := os.WriteFile(journal, []byte(content), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	_, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(dir, "ledger.json")}, testLogger())
	if err == nil {
		t.Fatal("expected error for corrupt journal")
	}
	if !IsStorageError(err) {
		t.Fatalf("error %T is not a storage error", err)
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("error %v does not wrap ErrCorrupt", err)
	}
}

func TestFileLedgerAcceptsLegacyArraySnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	snap := filepath.Join(dir, "ledger.ledger.snapshot.json")
	if err := os.WriteFile(snap, []byte(`["https://x.example/1","https://x.example/2"]`), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	st := openTestFile(t, filepath.Join(dir, "ledger.json"), 0)
	defer st.Close()
	if n, _ := st.Count(context.Background()); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestFileLedgerClosedReturnsErrClosed(t *testing.T) {
	t.Parallel()
	st := openTestFile(t, filepath.Join(t.TempDir(), "ledger.json"), 0)
	_ = st.Close()
	if _, err := st.Contains(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Contains after Close error = %v, want ErrClosed", err)
	}
	if err := st.Record(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Record after Close error = %v, want ErrClosed", err)
	}
}

func TestImportKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "publications.json")
	if err := os.WriteFile(src, []byte(`["a","b"," ","a"]`), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	mem := NewMemory()
	_ = mem.Record(ctx, "b")
	added, err := ImportKeys(ctx, mem, src, nil)
	if err != nil {
		t.Fatalf("ImportKeys error: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if ok, _ := mem.Contains(ctx, "a"); !ok {
		t.Fatal("expected imported key")
	}
}

func TestAuditAppendsJSONLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	st := openTestFile(t, filepath.Join(dir, "ledger.json"), 0)
	if err := st.AppendAudit(ctx, AuditEntry{Job: "rss", Key: "k1", OK: true}); err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Job: "rss", Key: "k2", Error: "boom"}); err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
	_ = st.Close()

	b, err := os.ReadFile(filepath.Join(dir, "ledger.audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[1], `"error":"boom"`) {
		t.Fatalf("unexpected audit line: %s", lines[1])
	}
}

// faultyJournal cuts the next write short and can refuse to truncate.
type faultyJournal struct {
	journal
	shortWrite   bool
	failTruncate bool
}

func (f *faultyJournal) Write(b []byte) (int, error) {
	if !f.shortWrite {
		return f.journal.Write(b)
	}
	f.shortWrite = false
	n, _ := f.journal.Write(b[:len(b)/2])
	return n, errors.New("no space left on device")
}

func (f *faultyJournal) Truncate(size int64) error {
	if f.failTruncate {
		return errors.New("input/output error")
	}
	return f.journal.Truncate(size)
}

func TestFileLedgerShortWriteIsRolledBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	st := openTestFile(t, path, 0)
	if err := st.Record(ctx, "a"); err != nil {
		t.Fatalf("Record(a) error: %v", err)
	}
	fs := st.(*fileStore)
	fs.journalFile = &faultyJournal{journal: fs.journalFile, shortWrite: true}
	if err := st.Record(ctx, "b"); err == nil || !IsStorageError(err) {
		t.Fatalf("Record(b) error = %v, want storage error", err)
	}
	if ok, _ := st.Contains(ctx, "b"); ok {
		t.Fatal("failed record must not be visible")
	}
	if err := st.Record(ctx, "c"); err != nil {
		t.Fatalf("Record(c) error: %v", err)
	}
	_ = st.Close()

	st = openTestFile(t, path, 0)
	defer st.Close()
	for k, want := range map[string]bool{"a": true, "b": false, "c": true} {
		if ok, _ := st.Contains(ctx, k); ok != want {
			t.Fatalf("Contains(%s) = %v after reopen, want %v", k, ok, want)
		}
	}
}

func TestFileLedgerRefusesWritesAfterFailedRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestFile(t, filepath.Join(t.TempDir(), "ledger.json"), 0)
	defer st.Close()
	if err := st.Record(ctx, "a"); err != nil {
		t.Fatalf("Record(a) error: %v", err)
	}
	fs := st.(*fileStore)
	fs.journalFile = &faultyJournal{journal: fs.journalFile, shortWrite: true, failTruncate: true}

	if err := st.Record(ctx, "b"); err == nil {
		t.Fatal("expected Record(b) error")
	}
	err := st.Record(ctx, "c")
	if !IsStorageError(err) || !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Record(c) error = %v, want storage error wrapping ErrCorrupt", err)
	}
	if ok, err := st.Contains(ctx, "a"); err != nil || !ok {
		t.Fatalf("Contains(a) = %v, %v; reads must keep working", ok, err)
	}
}

func TestFileLedgerSecondOpenIsLocked(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.json")
	st := openTestFile(t, path, 0)

	_, err := Open(context.Background(), Config{Driver: "file", Path: path}, testLogger())
	if !IsStorageError(err) || !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open error = %v, want storage error wrapping ErrLocked", err)
	}

	_ = st.Close()
	st = openTestFile(t, path, 0)
	_ = st.Close()
}

func TestImportKeysMatchesFeedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	raw := "https://pubmed.ncbi.nlm.nih.gov/33830021/?utm_source=Feed&utm_medium=rss&utm_campaign=pubmed-2"
	src := filepath.Join(t.TempDir(), "publications.json")
	if err := os.WriteFile(src, []byte(`["`+raw+`"]`), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	mem := NewMemory()
	if _, err := ImportKeys(ctx, mem, src, feed.CanonicalURL); err != nil {
		t.Fatalf("ImportKeys error: %v", err)
	}
	key := feed.Item{Link: raw}.Key()
	if ok, _ := mem.Contains(ctx, key); !ok {
		t.Fatalf("imported link not found under feed key %q", key)
	}
}
