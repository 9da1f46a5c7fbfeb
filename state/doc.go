// Package state provides the revisioned key-value store behind the panel's
// active-task record and run ledger.
//
// Every successful Put yields a revision that only grows for a given key, so
// a reader holding an older revision can tell it has been superseded without
// comparing values. Watch delivers changes to subscribers as they happen.
//
// # Backends
//
//   - FileStore: one file per key, written to a temp file and renamed into
//     place under an exclusive flock. Works across processes on one host.
//   - NATSStore: NATS JetStream KV bucket, for setups where the control plane
//     and the task processes do not share a filesystem.
//   - MemoryStore: single process, used by tests and the in-process launcher.
//
// # Usage
//
//	store, _ := state.NewFileStore(state.FileStoreConfig{Dir: "/var/lib/inkpanel"})
//	rev, _ := store.Put("state.txt", []byte("music"), 0)
//
//	ch, _ := store.Watch(ctx, "state.txt")
//	for kv := range ch {
//	    fmt.Printf("%s -> %s (rev %d)\n", kv.Key, kv.Value, kv.Revision)
//	}
package state
