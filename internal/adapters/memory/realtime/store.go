package realtime

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/changefeed"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// Store is an in-memory implementation of realtime.Store.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	data map[domain.Collection]map[domain.RecordKey]domain.Record
	hub  *changefeed.Hub

	newKey func() domain.RecordKey
}

func NewStore() *Store {
	data := make(map[domain.Collection]map[domain.RecordKey]domain.Record, len(domain.Collections))
	for _, c := range domain.Collections {
		data[c] = make(map[domain.RecordKey]domain.Record)
	}
	return &Store{
		data:   data,
		hub:    changefeed.NewHub(),
		newKey: domain.NewRecordKey,
	}
}

func (s *Store) Push(ctx context.Context, coll domain.Collection, rec domain.Record) (domain.RecordKey, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	children, ok := s.data[coll]
	if !ok {
		return "", realtime.ErrUnknownCollection
	}
	key := s.newKey()
	children[key] = rec.Clone()
	s.hub.Publish(realtime.Event{Collection: coll, Kind: realtime.ChildAdded, Key: key, Value: rec.Clone()})
	return key, nil
}

func (s *Store) Set(ctx context.Context, coll domain.Collection, key domain.RecordKey, rec domain.Record) error {
	_ = ctx
	if key == "" {
		return realtime.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	children, ok := s.data[coll]
	if !ok {
		return realtime.ErrUnknownCollection
	}
	kind := realtime.ChildAdded
	if _, exists := children[key]; exists {
		kind = realtime.ChildChanged
	}
	children[key] = rec.Clone()
	s.hub.Publish(realtime.Event{Collection: coll, Kind: kind, Key: key, Value: rec.Clone()})
	return nil
}

func (s *Store) Remove(ctx context.Context, coll domain.Collection, key domain.RecordKey) error {
	_ = ctx
	if key == "" {
		return realtime.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	children, ok := s.data[coll]
	if !ok {
		return realtime.ErrUnknownCollection
	}
	last, exists := children[key]
	if !exists {
		return nil
	}
	delete(children, key)
	s.hub.Publish(realtime.Event{Collection: coll, Kind: realtime.ChildRemoved, Key: key, Value: last})
	return nil
}

func (s *Store) Once(ctx context.Context, coll domain.Collection) (map[domain.RecordKey]domain.Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	children, ok := s.data[coll]
	if !ok {
		return nil, realtime.ErrUnknownCollection
	}
	out := make(map[domain.RecordKey]domain.Record, len(children))
	for k, v := range children {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, coll domain.Collection) (<-chan realtime.Event, error) {
	// Holding the write lock keeps the replay and the live stream gap-free.
	s.mu.Lock()
	defer s.mu.Unlock()

	children, ok := s.data[coll]
	if !ok {
		return nil, realtime.ErrUnknownCollection
	}
	return s.hub.Subscribe(ctx, coll, changefeed.Replay(coll, children)), nil
}

// Subscribers reports the number of live subscriptions to coll.
func (s *Store) Subscribers(coll domain.Collection) int {
	return s.hub.Subscribers(coll)
}
