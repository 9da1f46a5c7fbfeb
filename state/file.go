package state

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

const (
	revisionFile = ".revision"
	lockFile     = ".lock"
)

// FileStore implements StateStore with one file per key in a directory.
//
// A record file holds exactly the value, with no trailing newline, so other
// programs can read the active task key straight from it. Revision and expiry
// live in a hidden sidecar next to it:
//
//	state.txt         music
//	.state.txt.meta   rev=42
//	                  exp=1700000000000000000
//
// Both files are written under the same lock, sidecar first. Writes go to a
// temp file that is renamed over the target, so readers never observe a
// partial record. Writers serialize through an exclusive flock on the
// directory's lock file, shared with other processes.
type FileStore struct {
	fs     afero.Fs
	dir    string
	lock   *flock.Flock // nil when fs is not backed by the OS
	mu     sync.Mutex
	poll   time.Duration
	closed atomic.Bool
	done   chan struct{}
}

// FileStoreConfig holds file store configuration.
type FileStoreConfig struct {
	// Fs is the filesystem to use. Default: the OS filesystem.
	Fs afero.Fs

	// Dir is the directory holding record files.
	Dir string

	// WatchInterval is how often watchers rescan the directory.
	// Default: 500ms
	WatchInterval time.Duration
}

// NewFileStore creates a file-backed store, creating Dir if needed.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("state directory required")
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 500 * time.Millisecond
	}
	if err := cfg.Fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &FileStore{
		fs:   cfg.Fs,
		dir:  cfg.Dir,
		poll: cfg.WatchInterval,
		done: make(chan struct{}),
	}
	if _, ok := cfg.Fs.(*afero.OsFs); ok {
		s.lock = flock.New(filepath.Join(cfg.Dir, lockFile))
	}
	return s, nil
}

// Path returns the file path of a key's record.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key)
}

// Get retrieves a value by key.
func (s *FileStore) Get(key string) ([]byte, error) {
	kv, err := s.GetKeyValue(key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue retrieves the full KeyValue entry.
func (s *FileStore) GetKeyValue(key string) (*KeyValue, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rec, err := s.read(key)
	if err != nil {
		return nil, err
	}
	if rec.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return rec.keyValue(key), nil
}

// Put atomically replaces the record for key.
func (s *FileStore) Put(key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}
	if bytes.ContainsAny(value, "\r\n") {
		return 0, ErrInvalidValue
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}

	unlock, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer unlock()

	rev, err := s.nextRevision()
	if err != nil {
		return 0, err
	}

	var meta bytes.Buffer
	fmt.Fprintf(&meta, "rev=%d\n", rev)
	if ttl > 0 {
		fmt.Fprintf(&meta, "exp=%d\n", time.Now().Add(ttl).UnixNano())
	}

	if err := s.writeAtomic(metaName(key), meta.Bytes()); err != nil {
		return 0, err
	}
	if err := s.writeAtomic(key, value); err != nil {
		return 0, err
	}
	return rev, nil
}

// Delete removes a key.
func (s *FileStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	return s.remove(key)
}

// remove deletes a record and its sidecar.
func (s *FileStore) remove(key string) error {
	if err := s.fs.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if err := s.fs.Remove(s.Path(metaName(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", metaName(key), err)
	}
	return nil
}

// Keys returns all keys matching a pattern. Expired records are removed.
func (s *FileStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	names, err := s.list()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var keys []string
	for _, name := range names {
		if !MatchPattern(pattern, name) {
			continue
		}
		rec, err := s.read(name)
		if err != nil {
			continue
		}
		if rec.expired(now) {
			_ = s.remove(name)
			continue
		}
		keys = append(keys, name)
	}
	return keys, nil
}

// Watch polls the directory and reports changed revisions for matching keys.
func (s *FileStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	seen := s.snapshot(pattern)
	ch := make(chan *KeyValue, 64)
	go s.watchLoop(ctx, pattern, seen, ch)
	return ch, nil
}

func (s *FileStore) watchLoop(ctx context.Context, pattern string, seen map[string]uint64, ch chan *KeyValue) {
	defer close(ch)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		names, err := s.list()
		if err != nil {
			continue
		}

		now := time.Now()
		current := make(map[string]uint64, len(names))
		for _, name := range names {
			if !MatchPattern(pattern, name) {
				continue
			}
			rec, err := s.read(name)
			if err != nil || rec.expired(now) {
				continue
			}
			current[name] = rec.revision
			if seen[name] != rec.revision {
				s.emit(ch, rec.keyValue(name))
			}
		}
		for name := range seen {
			if _, ok := current[name]; !ok {
				s.emit(ch, &KeyValue{Key: name, Operation: OpDelete, Modified: now})
			}
		}
		seen = current
	}
}

func (s *FileStore) emit(ch chan *KeyValue, kv *KeyValue) {
	select {
	case ch <- kv:
	default:
		// Channel full, drop notification
	}
}

func (s *FileStore) snapshot(pattern string) map[string]uint64 {
	seen := make(map[string]uint64)
	names, err := s.list()
	if err != nil {
		return seen
	}
	for _, name := range names {
		if !MatchPattern(pattern, name) {
			continue
		}
		if rec, err := s.read(name); err == nil {
			seen[name] = rec.revision
		}
	}
	return seen
}

// Close stops all watchers.
func (s *FileStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}

// acquire takes the in-process mutex and, on the OS filesystem, the
// cross-process flock.
func (s *FileStore) acquire() (func(), error) {
	s.mu.Lock()
	if s.lock == nil {
		return s.mu.Unlock, nil
	}
	if err := s.lock.Lock(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("lock state dir: %w", err)
	}
	return func() {
		_ = s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}

// nextRevision bumps the directory-wide revision counter.
// Must be called with the write lock held.
func (s *FileStore) nextRevision() (uint64, error) {
	var current uint64
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, revisionFile))
	switch {
	case err == nil:
		current, _ = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	case !os.IsNotExist(err):
		return 0, fmt.Errorf("read revision: %w", err)
	}

	next := current + 1
	if err := s.writeAtomic(revisionFile, []byte(strconv.FormatUint(next, 10)+"\n")); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := afero.TempFile(s.fs, s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) list() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("list state dir: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

// record is a parsed record file.
type record struct {
	value    []byte
	revision uint64
	expires  time.Time
	modified time.Time
}

func (r *record) expired(now time.Time) bool {
	return !r.expires.IsZero() && now.After(r.expires)
}

func (r *record) keyValue(key string) *KeyValue {
	return &KeyValue{
		Key:       key,
		Value:     r.value,
		Revision:  r.revision,
		Operation: OpPut,
		Created:   r.modified,
		Modified:  r.modified,
	}
}

func (s *FileStore) read(key string) (*record, error) {
	path := s.Path(key)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	rec := &record{value: bytes.TrimRight(data, "\r\n")}
	if rec.value == nil {
		rec.value = []byte{}
	}
	if info, err := s.fs.Stat(path); err == nil {
		rec.modified = info.ModTime()
	}
	if meta, err := afero.ReadFile(s.fs, s.Path(metaName(key))); err == nil {
		parseMeta(rec, meta)
	}
	return rec, nil
}

// metaName is the hidden sidecar holding a record's revision and expiry.
func metaName(key string) string {
	return "." + key + ".meta"
}

// parseMeta reads rev= and exp= lines. Records written by hand have no
// sidecar and keep revision 0.
func parseMeta(rec *record, data []byte) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch name {
		case "rev":
			rec.revision, _ = strconv.ParseUint(val, 10, 64)
		case "exp":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				rec.expires = time.Unix(0, n)
			}
		}
	}
}
