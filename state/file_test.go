package state

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestFileStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(FileStoreConfig{Fs: fs, Dir: "/var/lib/inkpanel", WatchInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fs
}

func TestFileStore_PutGet(t *testing.T) {
	s, fs := newTestFileStore(t)

	rev, err := s.Put("state.txt", []byte("music"), 0)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	kv, err := s.GetKeyValue("state.txt")
	if err != nil {
		t.Fatalf("GetKeyValue failed: %v", err)
	}
	if string(kv.Value) != "music" || kv.Revision != rev {
		t.Errorf("got %s rev %d, want music rev %d", kv.Value, kv.Revision, rev)
	}

	raw, err := afero.ReadFile(fs, "/var/lib/inkpanel/state.txt")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if string(raw) != "music" {
		t.Errorf("record file = %q, want exactly the key", raw)
	}
	meta, err := afero.ReadFile(fs, "/var/lib/inkpanel/.state.txt.meta")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if !strings.Contains(string(meta), "rev=") {
		t.Errorf("sidecar = %q, want a revision line", meta)
	}
}

func TestFileStore_SidecarNotListed(t *testing.T) {
	s, _ := newTestFileStore(t)
	s.Put("state.txt", []byte("music"), time.Hour)

	keys, err := s.Keys("*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "state.txt" {
		t.Errorf("keys = %v, want [state.txt]", keys)
	}
}

func TestFileStore_DeleteRemovesSidecar(t *testing.T) {
	s, fs := newTestFileStore(t)
	s.Put("state.txt", []byte("music"), 0)

	if err := s.Delete("state.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/var/lib/inkpanel/.state.txt.meta"); ok {
		t.Error("sidecar left behind")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	s, fs := newTestFileStore(t)

	for _, v := range []string{"music", "weather", "clean"} {
		if _, err := s.Put("state.txt", []byte(v), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	infos, _ := afero.ReadDir(fs, "/var/lib/inkpanel")
	for _, info := range infos {
		if strings.Contains(info.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", info.Name())
		}
	}
}

func TestFileStore_RevisionIncreasesAcrossKeys(t *testing.T) {
	s, _ := newTestFileStore(t)

	r1, _ := s.Put("state.txt", []byte("music"), 0)
	r2, _ := s.Put("runs.a", []byte("{}"), 0)
	r3, _ := s.Put("state.txt", []byte("music"), 0)
	if !(r1 < r2 && r2 < r3) {
		t.Errorf("revisions not increasing: %d %d %d", r1, r2, r3)
	}
}

func TestFileStore_RejectsMultilineValue(t *testing.T) {
	s, _ := newTestFileStore(t)

	if _, err := s.Put("state.txt", []byte("a\nb"), 0); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestFileStore_HandWrittenRecord(t *testing.T) {
	s, fs := newTestFileStore(t)

	afero.WriteFile(fs, "/var/lib/inkpanel/state.txt", []byte("Weather\n"), 0o644)

	kv, err := s.GetKeyValue("state.txt")
	if err != nil {
		t.Fatalf("GetKeyValue failed: %v", err)
	}
	if string(kv.Value) != "Weather" || kv.Revision != 0 {
		t.Errorf("got %q rev %d", kv.Value, kv.Revision)
	}

	// Overwriting a managed record by hand keeps the sidecar's revision.
	rev, _ := s.Put("state.txt", []byte("music"), 0)
	afero.WriteFile(fs, "/var/lib/inkpanel/state.txt", []byte("clean\n"), 0o644)
	kv, err = s.GetKeyValue("state.txt")
	if err != nil {
		t.Fatalf("GetKeyValue failed: %v", err)
	}
	if string(kv.Value) != "clean" || kv.Revision != rev {
		t.Errorf("got %q rev %d, want clean rev %d", kv.Value, kv.Revision, rev)
	}
}

func TestFileStore_Expiry(t *testing.T) {
	s, _ := newTestFileStore(t)

	s.Put("runs.old", []byte("{}"), time.Nanosecond)
	s.Put("runs.new", []byte("{}"), time.Hour)
	time.Sleep(time.Millisecond)

	if _, err := s.Get("runs.old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	keys, _ := s.Keys("runs.*")
	if len(keys) != 1 || keys[0] != "runs.new" {
		t.Errorf("keys = %v, want [runs.new]", keys)
	}
}

func TestFileStore_DeleteMissing(t *testing.T) {
	s, _ := newTestFileStore(t)

	if err := s.Delete("state.txt"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestFileStore_Watch(t *testing.T) {
	s, _ := newTestFileStore(t)
	s.Put("state.txt", []byte("music"), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "state.txt")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	rev, _ := s.Put("state.txt", []byte("weather"), 0)

	select {
	case kv := <-ch:
		if string(kv.Value) != "weather" || kv.Revision != rev {
			t.Errorf("got %s rev %d, want weather rev %d", kv.Value, kv.Revision, rev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}

	cancel()
	for range ch {
	}
}

func TestParseMeta(t *testing.T) {
	rec := &record{}
	parseMeta(rec, []byte("rev=7\nexp=1700000000000000000\njunk\n"))
	if rec.revision != 7 {
		t.Errorf("revision = %d", rec.revision)
	}
	if rec.expires.UnixNano() != 1700000000000000000 {
		t.Errorf("expires = %v", rec.expires)
	}

	empty := &record{}
	parseMeta(empty, nil)
	if empty.revision != 0 || !empty.expires.IsZero() {
		t.Errorf("empty meta parsed as %+v", empty)
	}
}
