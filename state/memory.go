package state

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Expired keys are dropped
// lazily on access and by a sweep that also tells watchers about them.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memRecord
	subs    map[*memSub]struct{}
	seq     uint64
	closed  bool
	stop    chan struct{}
}

type memRecord struct {
	kv       KeyValue
	deadline time.Time
}

func (r *memRecord) live(now time.Time) bool {
	return r.deadline.IsZero() || !now.After(r.deadline)
}

type memSub struct {
	pattern string
	out     chan *KeyValue
}

const memSweepEvery = time.Second

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*memRecord),
		subs:    make(map[*memSub]struct{}),
		stop:    make(chan struct{}),
	}
	go s.sweeper()
	return s
}

func (s *MemoryStore) sweeper() {
	t := time.NewTicker(memSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			for key, r := range s.records {
				if !r.live(now) {
					s.removeLocked(key, now)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	kv, err := s.GetKeyValue(key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue returns a copy of the record stored under key.
func (s *MemoryStore) GetKeyValue(key string) (*KeyValue, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.records[key]
	if !ok || !r.live(time.Now()) {
		return nil, ErrNotFound
	}
	kv := r.kv
	kv.Value = slices.Clone(r.kv.Value)
	return &kv, nil
}

// Put stores a copy of value. Revisions come from one counter shared by all
// keys, so they also order writes across keys.
func (s *MemoryStore) Put(key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	now := time.Now()
	s.seq++
	r := &memRecord{kv: KeyValue{
		Key:       key,
		Value:     slices.Clone(value),
		Revision:  s.seq,
		Operation: OpPut,
		Created:   now,
		Modified:  now,
	}}
	if prev, ok := s.records[key]; ok && prev.live(now) {
		r.kv.Created = prev.kv.Created
	}
	if ttl > 0 {
		r.deadline = now.Add(ttl)
	}
	s.records[key] = r

	event := r.kv
	s.publishLocked(&event)
	return r.kv.Revision, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[key]; ok {
		s.removeLocked(key, time.Now())
	}
	return nil
}

func (s *MemoryStore) removeLocked(key string, now time.Time) {
	delete(s.records, key)
	s.seq++
	s.publishLocked(&KeyValue{Key: key, Revision: s.seq, Operation: OpDelete, Modified: now})
}

// Keys lists live keys matching pattern in sorted order.
func (s *MemoryStore) Keys(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := time.Now()
	var keys []string
	for key, r := range s.records {
		if r.live(now) && MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Watch subscribes to changes on keys matching pattern.
func (s *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	sub := &memSub{pattern: pattern, out: make(chan *KeyValue, 64)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.out)
		}
	})
	return sub.out, nil
}

func (s *MemoryStore) publishLocked(kv *KeyValue) {
	for sub := range s.subs {
		if !MatchPattern(sub.pattern, kv.Key) {
			continue
		}
		select {
		case sub.out <- kv:
		default:
		}
	}
}

// Close drops all records and ends every watch.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	for sub := range s.subs {
		close(sub.out)
	}
	s.subs = nil
	s.records = nil
	return nil
}
