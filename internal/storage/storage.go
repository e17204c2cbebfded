// Package storage publishes snapshots to places a dashboard can read them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
)

// ErrNoSnapshot is returned by Latest before anything was published.
var ErrNoSnapshot = errors.New("no snapshot published yet")

// Publisher is a snapshot sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snap *protocol.Snapshot) error
	Close() error
}

// Reader returns the most recently published snapshot.
type Reader interface {
	Latest(ctx context.Context) (*protocol.Snapshot, error)
}

func encode(snap *protocol.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*protocol.Snapshot, error) {
	snap := protocol.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.RawResponses == nil {
		snap.RawResponses = make(map[string]string)
	}
	return snap, nil
}
