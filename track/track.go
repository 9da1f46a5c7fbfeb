// Package track fetches what is currently playing and its album art.
package track

import "context"

// Snapshot is one observation of the listening state.
type Snapshot struct {
	Title   string
	Artist  string
	ArtURL  string // empty when the source has no art
	Playing bool
}

// Source returns the current snapshot. A source with nothing recent returns
// a zero Snapshot and no error.
type Source interface {
	Current(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Current implements Source.
func (f SourceFunc) Current(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}
