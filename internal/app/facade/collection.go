package facade

import (
	"context"
	"fmt"
	"sort"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// Collection is a named keyed collection in the store.
type Collection struct {
	name      domain.Collection
	store     realtime.Store
	deletable bool
}

func (c *Collection) Name() domain.Collection { return c.name }

// Add pushes rec unmodified at a new key and returns the key.
func (c *Collection) Add(ctx context.Context, rec domain.Record) (domain.RecordKey, error) {
	key, err := c.store.Push(ctx, c.name, rec)
	if err != nil {
		return "", fmt.Errorf("add %s: %w", c.name, err)
	}
	return key, nil
}

// Update overwrites the record stored at rec["id"] with rec.
func (c *Collection) Update(ctx context.Context, rec domain.Record) error {
	key, ok := rec.ID()
	if !ok {
		return fmt.Errorf("update %s: %w", c.name, ErrMissingID)
	}
	if err := c.store.Set(ctx, c.name, key, rec); err != nil {
		return fmt.Errorf("update %s %s: %w", c.name, key, err)
	}
	return nil
}

// Delete removes the record at rec["id"].
func (c *Collection) Delete(ctx context.Context, rec domain.Record) error {
	if !c.deletable {
		return fmt.Errorf("delete %s: %w", c.name, ErrDeleteNotSupported)
	}
	key, ok := rec.ID()
	if !ok {
		return fmt.Errorf("delete %s: %w", c.name, ErrMissingID)
	}
	if err := c.store.Remove(ctx, c.name, key); err != nil {
		return fmt.Errorf("delete %s %s: %w", c.name, key, err)
	}
	return nil
}

func (c *Collection) Ref() *Ref {
	return &Ref{name: c.name, store: c.store}
}

// Ref reads and watches a collection.
type Ref struct {
	name  domain.Collection
	store realtime.Store
}

// Child is one keyed entry of a collection.
type Child struct {
	Key   domain.RecordKey
	Value domain.Record
}

func (r *Ref) Once(ctx context.Context) (map[domain.RecordKey]domain.Record, error) {
	out, err := r.store.Once(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.name, err)
	}
	return out, nil
}

// List reads the collection ordered by key.
func (r *Ref) List(ctx context.Context) ([]Child, error) {
	all, err := r.Once(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Child, 0, len(all))
	for k, v := range all {
		out = append(out, Child{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Subscribe streams child events, starting with the existing children as
// ChildAdded. The channel is closed once ctx is done.
func (r *Ref) Subscribe(ctx context.Context) (<-chan realtime.Event, error) {
	ch, err := r.store.Subscribe(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", r.name, err)
	}
	return ch, nil
}
