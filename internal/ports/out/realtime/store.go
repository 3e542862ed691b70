package realtime

import (
	"context"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
)

// EventKind is the kind of an incremental change notification.
type EventKind string

const (
	ChildAdded   EventKind = "child_added"
	ChildChanged EventKind = "child_changed"
	ChildRemoved EventKind = "child_removed"
)

// Event is a single change to one child of a collection.
//
// Value is the new value for added/changed and the last value for removed.
// Key is never part of Value unless the writer put it there.
type Event struct {
	Collection domain.Collection
	Kind       EventKind
	Key        domain.RecordKey
	Value      domain.Record

	// Seq is the store's change sequence number, when the adapter keeps one.
	// Zero means unsequenced.
	Seq int64
}

// Store is the realtime data store the relay fronts.
//
// Semantics every adapter must honor (see contracttest.RunRealtimeStore):
// - every successful mutation emits exactly one Event to current subscribers
// - Set on a missing key creates it (ChildAdded); on an existing key it overwrites (ChildChanged)
// - Remove on a missing key is a no-op and emits nothing
// - Subscribe replays existing children as ChildAdded before live events
type Store interface {
	// Push inserts rec at a newly generated key and returns that key.
	Push(ctx context.Context, coll domain.Collection, rec domain.Record) (domain.RecordKey, error)
	// Set overwrites the value at key.
	Set(ctx context.Context, coll domain.Collection, key domain.RecordKey, rec domain.Record) error
	// Remove deletes the value at key.
	Remove(ctx context.Context, coll domain.Collection, key domain.RecordKey) error

	// Once reads the whole collection.
	Once(ctx context.Context, coll domain.Collection) (map[domain.RecordKey]domain.Record, error)

	// Subscribe streams change events for coll until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, coll domain.Collection) (<-chan Event, error)
}
