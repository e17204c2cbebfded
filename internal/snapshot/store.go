// Package snapshot holds the single live Snapshot shared between the poll
// loop and its readers.
package snapshot

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
)

// ErrStaleSnapshot is returned when a publish would move time backwards.
var ErrStaleSnapshot = errors.New("snapshot older than the published one")

// Store keeps the latest Snapshot. Publish and Latest copy, so a reader
// never shares memory with the writer.
type Store struct {
	current atomic.Pointer[protocol.Snapshot]
}

// NewStore returns a store seeded with an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(protocol.NewSnapshot())
	return s
}

func (s *Store) Name() string {
	return "memory"
}

// Publish swaps in a copy of snap.
func (s *Store) Publish(_ context.Context, snap *protocol.Snapshot) error {
	next := snap.Clone()
	next.Timestamp = next.Timestamp.Round(0)
	for {
		prev := s.current.Load()
		if prev != nil && next.Timestamp.Before(prev.Timestamp) {
			return ErrStaleSnapshot
		}
		if s.current.CompareAndSwap(prev, next) {
			return nil
		}
	}
}

// Latest returns a copy of the current snapshot.
func (s *Store) Latest(_ context.Context) (*protocol.Snapshot, error) {
	return s.current.Load().Clone(), nil
}

func (s *Store) Close() error {
	return nil
}
