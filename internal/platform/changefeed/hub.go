// Package changefeed fans realtime store events out to in-process subscribers.
package changefeed

import (
	"context"
	"sort"
	"sync"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// Hub delivers published events to every subscriber of the event's collection.
//
// Publish never blocks on a slow subscriber: each subscriber owns an unbounded
// queue drained by its own goroutine. Events for one subscriber are delivered in
// publish order. It is safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[domain.Collection]map[uint64]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[domain.Collection]map[uint64]*subscriber)}
}

// Subscribe registers a subscriber for coll. The replay events are queued ahead
// of any event published after Subscribe returns, so callers that hold their own
// write lock while calling Subscribe get a gap-free stream.
//
// The returned channel is closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, coll domain.Collection, replay []realtime.Event) <-chan realtime.Event {
	return h.SubscribeAfter(ctx, coll, replay, 0)
}

// SubscribeAfter is Subscribe for sequenced stores: live events whose Seq is
// non-zero and at or below afterSeq are dropped for this subscriber, because
// the caller's replay already reflects them.
func (h *Hub) SubscribeAfter(ctx context.Context, coll domain.Collection, replay []realtime.Event, afterSeq int64) <-chan realtime.Event {
	s := newSubscriber(replay, afterSeq)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[coll] == nil {
		h.subs[coll] = make(map[uint64]*subscriber)
	}
	h.subs[coll][id] = s
	h.mu.Unlock()

	out := make(chan realtime.Event)
	go func() {
		defer close(out)
		defer h.remove(coll, id)
		s.pump(ctx, out)
	}()
	return out
}

// Publish queues evt for every current subscriber of evt.Collection.
func (h *Hub) Publish(evt realtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[evt.Collection] {
		s.enqueue(evt)
	}
}

// CloseAll ends every current subscription. Their channels close once the
// pump goroutines notice; queued events not yet delivered are dropped.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for _, s := range subs {
			s.stop()
		}
	}
}

// Subscribers reports the number of live subscribers for coll.
func (h *Hub) Subscribers(coll domain.Collection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[coll])
}

func (h *Hub) remove(coll domain.Collection, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[coll], id)
	if len(h.subs[coll]) == 0 {
		delete(h.subs, coll)
	}
}

type subscriber struct {
	after int64

	mu     sync.Mutex
	queue  []realtime.Event
	signal chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func newSubscriber(replay []realtime.Event, after int64) *subscriber {
	s := &subscriber{after: after, signal: make(chan struct{}, 1), stopped: make(chan struct{})}
	if len(replay) > 0 {
		s.queue = append(s.queue, replay...)
		s.signal <- struct{}{}
	}
	return s
}

func (s *subscriber) enqueue(evt realtime.Event) {
	if evt.Seq != 0 && evt.Seq <= s.after {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *subscriber) drain() []realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *subscriber) pump(ctx context.Context, out chan<- realtime.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-s.signal:
		}
		for _, evt := range s.drain() {
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			}
		}
	}
}

// Replay builds the ChildAdded events a new subscriber receives for the
// existing children of coll, in key order.
func Replay(coll domain.Collection, children map[domain.RecordKey]domain.Record) []realtime.Event {
	keys := make([]domain.RecordKey, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]realtime.Event, 0, len(keys))
	for _, k := range keys {
		out = append(out, realtime.Event{Collection: coll, Kind: realtime.ChildAdded, Key: k, Value: children[k].Clone()})
	}
	return out
}
