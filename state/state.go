package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for keys that were never written, were deleted
	// or have expired.
	ErrNotFound = errors.New("state: no such key")

	// ErrClosed is returned by every call on a closed store.
	ErrClosed = errors.New("state: store is closed")

	ErrInvalidKey   = errors.New("state: invalid key")
	ErrInvalidTTL   = errors.New("state: negative ttl")
	ErrInvalidValue = errors.New("state: value not storable")
)

// Operation tells a watcher what happened to a key.
type Operation int

const (
	OpPut Operation = iota
	OpDelete
)

var opNames = [...]string{OpPut: "put", OpDelete: "delete"}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "unknown"
	}
	return opNames[o]
}

// KeyValue is one record as read from a store or delivered by Watch. For
// deletions Value is nil.
type KeyValue struct {
	Key       string
	Value     []byte
	Revision  uint64
	Operation Operation
	Created   time.Time
	Modified  time.Time
}

// StateStore holds the active-task record and the run ledger.
//
// Revisions returned by Put grow strictly for a key; the supervisor hands
// them to tasks as generation numbers. Keys are flat dotted names such as
// "state.txt" or "runs.<id>".
type StateStore interface {
	Get(key string) ([]byte, error)
	GetKeyValue(key string) (*KeyValue, error)

	// Put writes value and returns its revision. ttl 0 keeps the key until
	// it is overwritten or deleted.
	Put(key string, value []byte, ttl time.Duration) (uint64, error)

	// Delete is a no-op for a missing key.
	Delete(key string) error

	// Keys lists live keys matching pattern (exact, "*" or "prefix.*").
	Keys(pattern string) ([]string, error)

	// Watch streams changes to matching keys. The channel closes when ctx
	// ends or the store is closed. Slow readers lose events.
	Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error)

	Close() error
}

const maxKeyLen = 1024

// ValidateKey rejects keys that cannot be used as a file name or a NATS
// subject token.
func ValidateKey(key string) error {
	switch {
	case key == "", len(key) > maxKeyLen:
		return ErrInvalidKey
	case strings.ContainsAny(key, " /\\"):
		return ErrInvalidKey
	case key[0] == '.', key[len(key)-1] == '.':
		return ErrInvalidKey
	}
	return nil
}

// ValidateTTL rejects negative lifetimes.
func ValidateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}

// MatchPattern reports whether key is selected by pattern. A pattern is an
// exact key, "*" for everything, or a prefix ending in "*".
func MatchPattern(pattern, key string) bool {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	if !wildcard {
		return pattern == key
	}
	return strings.HasPrefix(key, prefix)
}
