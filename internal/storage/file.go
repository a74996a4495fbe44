package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	logx "scibot/pkg/logx"
)

const (
	fileDriver          = "file"
	defaultCompactEvery = 1000
)

// fileStore is a dependency-free ledger backend.
//
// Files:
//   - <prefix>.ledger.snapshot.json (atomic-rename snapshot)
//   - <prefix>.ledger.journal.jsonl (append-only journal, fsynced per record)
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.ledger.lock          (exclusive lock held while open)
//
// The journal is periodically compacted into the snapshot. A crash between
// the snapshot rename and the journal truncate only replays keys twice.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	lock      *flock.Flock
	auditFile *os.File

	snapshotPath string
	journalFile  journal
	journalSize  int64 // end of the last complete record
	broken       error // set when a failed append could not be rolled back
	keys         map[string]struct{}

	writes       int
	compactEvery int
}

// journal is the subset of *os.File the store writes through.
type journal interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

type journalRecord struct {
	Key string `json:"key"`
	At  int64  `json:"at"` // unix milli
}

type snapshotFile struct {
	Version int      `json:"version"`
	Keys    []string `json:"keys"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, &Error{Op: "open", Driver: fileDriver, Err: errors.New("storage.path is required for file driver")}
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap(fileDriver, "open", "", err)
	}

	lock := flock.New(prefix + ".ledger.lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, wrap(fileDriver, "open", "", err)
	}
	if !locked {
		return nil, wrap(fileDriver, "open", "", fmt.Errorf("%w: %s", ErrLocked, lock.Path()))
	}
	st, err := openFileLocked(cfg, prefix, log)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	st.lock = lock
	return st, nil
}

func openFileLocked(cfg Config, prefix string, log logx.Logger) (*fileStore, error) {
	snapPath := prefix + ".ledger.snapshot.json"
	journalPath := prefix + ".ledger.journal.jsonl"
	auditPath := prefix + ".audit.jsonl"

	keys := map[string]struct{}{}
	if err := loadSnapshot(snapPath, keys); err != nil {
		return nil, wrap(fileDriver, "open", "", err)
	}
	goodLen, err := replayJournal(journalPath, keys)
	if err != nil {
		return nil, wrap(fileDriver, "open", "", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrap(fileDriver, "open", "", err)
	}
	// Drop a torn trailing record so the next append starts on a clean line.
	if st, err := jf.Stat(); err == nil && st.Size() > goodLen {
		log.Warn("ledger journal had a torn tail; truncating", logx.String("path", journalPath), logx.Int64("size", st.Size()), logx.Int64("good", goodLen))
		if err := jf.Truncate(goodLen); err != nil {
			_ = jf.Close()
			return nil, wrap(fileDriver, "open", "", err)
		}
	}
	if _, err := jf.Seek(0, io.SeekEnd); err != nil {
		_ = jf.Close()
		return nil, wrap(fileDriver, "open", "", err)
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, wrap(fileDriver, "open", "", err)
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	log.Debug("ledger loaded", logx.String("path", prefix), logx.Int("keys", len(keys)))

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		journalSize:  goodLen,
		keys:         keys,
		compactEvery: every,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) Contains(ctx context.Context, key string) (bool, error) {
	_ = ctx
	key = normalizeKey(key)
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, wrap(fileDriver, "contains", key, ErrClosed)
	}
	_, ok := s.keys[key]
	return ok, nil
}

func (s *fileStore) Record(ctx context.Context, key string) error {
	_ = ctx
	key = normalizeKey(key)
	if key == "" {
		return wrap(fileDriver, "record", key, errors.New("empty key"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return wrap(fileDriver, "record", key, ErrClosed)
	}
	if _, ok := s.keys[key]; ok {
		return nil
	}
	if s.broken != nil {
		return wrap(fileDriver, "record", key, s.broken)
	}

	b, err := json.Marshal(journalRecord{Key: key, At: time.Now().UnixMilli()})
	if err != nil {
		return wrap(fileDriver, "record", key, err)
	}
	b = append(b, '\n')
	if err := s.appendLocked(b); err != nil {
		return wrap(fileDriver, "record", key, err)
	}
	s.keys[key] = struct{}{}

	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact; the journal alone is already durable.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("ledger compact failed", logx.Err(err))
		}
	}
	return nil
}

// appendLocked writes one journal line. On failure the journal is cut back to
// the last complete record so a partial line is never followed by a new one.
func (s *fileStore) appendLocked(b []byte) error {
	_, werr := s.journalFile.Write(b)
	if werr == nil {
		werr = s.journalFile.Sync()
	}
	if werr == nil {
		s.journalSize += int64(len(b))
		return nil
	}
	if err := s.rewindLocked(); err != nil {
		s.broken = fmt.Errorf("%w: rollback after %v: %v", ErrCorrupt, werr, err)
		s.log.Error("ledger journal rollback failed; refusing further writes", logx.Err(s.broken))
	}
	return werr
}

func (s *fileStore) rewindLocked() error {
	if err := s.journalFile.Truncate(s.journalSize); err != nil {
		return err
	}
	_, err := s.journalFile.Seek(s.journalSize, io.SeekStart)
	return err
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, wrap(fileDriver, "count", "", ErrClosed)
	}
	return len(s.keys), nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return wrap(fileDriver, "audit", e.Key, ErrClosed)
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return wrap(fileDriver, "audit", e.Key, err)
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshotFile{Version: 1, Keys: make([]string, 0, len(s.keys))}
	for k := range s.keys {
		snap.Keys = append(snap.Keys, k)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return wrap(fileDriver, "compact", "", err)
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return wrap(fileDriver, "compact", "", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return wrap(fileDriver, "compact", "", err)
	}
	if err := f.Close(); err != nil {
		return wrap(fileDriver, "compact", "", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return wrap(fileDriver, "compact", "", err)
	}
	// The rename must be durable before the journal it replaces is emptied.
	if err := syncDir(filepath.Dir(s.snapshotPath)); err != nil {
		return wrap(fileDriver, "compact", "", err)
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return wrap(fileDriver, "compact", "", err)
	}
	s.journalSize = 0
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return wrap(fileDriver, "compact", "", err)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// loadSnapshot accepts both the versioned snapshot and a plain JSON array of keys
// (the format of older publications files).
func loadSnapshot(path string, out map[string]struct{}) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	keys, err := decodeKeys(b)
	if err != nil {
		return fmt.Errorf("%w: snapshot %s: %v", ErrCorrupt, path, err)
	}
	for _, k := range keys {
		if k = normalizeKey(k); k != "" {
			out[k] = struct{}{}
		}
	}
	return nil
}

func decodeKeys(b []byte) ([]string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	if b[0] == '[' {
		var keys []string
		if err := json.Unmarshal(b, &keys); err != nil {
			return nil, err
		}
		return keys, nil
	}
	var snap snapshotFile
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return snap.Keys, nil
}

// replayJournal loads journal records into out and returns the byte length of
// the valid prefix. An unterminated final line is a torn write and is ignored;
// a malformed complete line means the journal is corrupt.
func replayJournal(path string, out map[string]struct{}) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var good int64
	line := 0
	for {
		b, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// len(b) > 0 here means a torn tail without newline.
			return good, nil
		}
		if err != nil {
			return good, err
		}
		line++
		trimmed := bytes.TrimSpace(b)
		if len(trimmed) > 0 {
			var rec journalRecord
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				return good, fmt.Errorf("%w: journal %s line %d: %v", ErrCorrupt, path, line, err)
			}
			if k := normalizeKey(rec.Key); k != "" {
				out[k] = struct{}{}
			}
		}
		good += int64(len(b))
	}
}

// ImportKeys reads a JSON array (or snapshot) of keys from path and records each one.
// canon maps every key to the form the jobs look up; nil only trims space.
// It returns how many keys were new.
func ImportKeys(ctx context.Context, l Ledger, path string, canon func(string) string) (int, error) {
	if canon == nil {
		canon = normalizeKey
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, wrap("import", "read", "", err)
	}
	keys, err := decodeKeys(b)
	if err != nil {
		return 0, wrap("import", "decode", "", fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	added := 0
	for _, k := range keys {
		k = canon(k)
		if k == "" {
			continue
		}
		ok, err := l.Contains(ctx, k)
		if err != nil {
			return added, err
		}
		if ok {
			continue
		}
		if err := l.Record(ctx, k); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
