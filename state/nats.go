package state

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStoreConfig selects the JetStream KV bucket behind a NATSStore.
type NATSStoreConfig struct {
	// Conn is owned by the caller and is not closed by the store.
	Conn *nats.Conn

	Bucket string

	// TTL applies to the whole bucket. JetStream KV has no per-key expiry,
	// so the ttl argument of Put is validated and then ignored.
	TTL time.Duration

	// History is how many revisions of each key the bucket retains.
	History int

	MaxValueSize int32

	// OpTimeout bounds each KV request.
	OpTimeout time.Duration
}

// DefaultNATSStoreConfig returns the values used for unset fields.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "inkpanel",
		History:      1,
		MaxValueSize: 64 << 10,
		OpTimeout:    5 * time.Second,
	}
}

// NATSStore keeps records in a JetStream KV bucket so that the control plane
// and task processes on different hosts share one active-task record. Put
// revisions are the bucket's stream sequence numbers.
type NATSStore struct {
	kv      jetstream.KeyValue
	timeout time.Duration

	closeOnce sync.Once
	quit      chan struct{}
}

// NewNATSStore binds to cfg.Bucket, creating or updating it as needed.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, errors.New("state: nats store needs a connection")
	}
	def := DefaultNATSStoreConfig()
	cfg.Bucket = cmp.Or(cfg.Bucket, def.Bucket)
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("state: jetstream context: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.OpTimeout)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		Description:  "inkpanel active task and run ledger",
		TTL:          cfg.TTL,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("state: bucket %s: %w", cfg.Bucket, err)
	}
	return &NATSStore{kv: kv, timeout: cfg.OpTimeout, quit: make(chan struct{})}, nil
}

func (s *NATSStore) isClosed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// request returns a context for one KV round trip, or ErrClosed.
func (s *NATSStore) request(key string) (context.Context, context.CancelFunc, error) {
	if key != "" {
		if err := ValidateKey(key); err != nil {
			return nil, nil, err
		}
	}
	if s.isClosed() {
		return nil, nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	return ctx, cancel, nil
}

// Get returns the latest value of key.
func (s *NATSStore) Get(key string) ([]byte, error) {
	kv, err := s.GetKeyValue(key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue returns the latest entry of key.
func (s *NATSStore) GetKeyValue(key string) (*KeyValue, error) {
	ctx, cancel, err := s.request(key)
	if err != nil {
		return nil, err
	}
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("state: get %s: %w", key, err)
	}
	return fromEntry(entry), nil
}

// fromEntry converts a JetStream entry. The bucket only records when a
// revision was written, so Created and Modified are the same instant.
func fromEntry(e jetstream.KeyValueEntry) *KeyValue {
	return &KeyValue{
		Key:       e.Key(),
		Value:     e.Value(),
		Revision:  e.Revision(),
		Operation: opFromNATS(e.Operation()),
		Created:   e.Created(),
		Modified:  e.Created(),
	}
}

func opFromNATS(op jetstream.KeyValueOp) Operation {
	if op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
		return OpDelete
	}
	return OpPut
}

// Put writes value and returns the new stream sequence.
func (s *NATSStore) Put(key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}
	ctx, cancel, err := s.request(key)
	if err != nil {
		return 0, err
	}
	defer cancel()

	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("state: put %s: %w", key, err)
	}
	return rev, nil
}

// Delete places a delete marker on key.
func (s *NATSStore) Delete(key string) error {
	ctx, cancel, err := s.request(key)
	if err != nil {
		return err
	}
	defer cancel()

	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the bucket's live keys that match pattern.
func (s *NATSStore) Keys(pattern string) ([]string, error) {
	ctx, cancel, err := s.request("")
	if err != nil {
		return nil, err
	}
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	switch {
	case errors.Is(err, jetstream.ErrNoKeysFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("state: list %s: %w", pattern, err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// natsPattern turns "prefix.*" into the subject filter "prefix.>".
func natsPattern(pattern string) string {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return prefix + ">"
	}
	return pattern
}

// Watch streams updates made after the call. History is not replayed.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	w, err := s.kv.Watch(ctx, natsPattern(pattern), jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("state: watch %s: %w", pattern, err)
	}

	out := make(chan *KeyValue, 64)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			var entry jetstream.KeyValueEntry
			select {
			case <-ctx.Done():
				return
			case <-s.quit:
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				entry = e
			}
			// nil marks the end of the initial replay.
			if entry == nil || !MatchPattern(pattern, entry.Key()) {
				continue
			}
			select {
			case out <- fromEntry(entry):
			default:
			}
		}
	}()
	return out, nil
}

// Close ends all watches. It leaves the connection open.
func (s *NATSStore) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}
