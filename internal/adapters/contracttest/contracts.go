package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	accountrepoport "github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
	realtimeport "github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

type CleanupFunc = func()

type RealtimeStoreFactory func(t *testing.T) (realtimeport.Store, CleanupFunc)
type AccountRepoFactory func(t *testing.T) (accountrepoport.Repository, CleanupFunc)

const eventTimeout = 5 * time.Second

func nextEvent(t *testing.T, ch <-chan realtimeport.Event) realtimeport.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed, want event")
		}
		return evt
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for change event")
	}
	return realtimeport.Event{}
}

func RunRealtimeStore(t *testing.T, newStore RealtimeStoreFactory) {
	t.Helper()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Seed before subscribing so replay is exercised.
	seedKey, err := store.Push(ctx, domain.CollectionMembers, domain.Record{"name": "Seed"})
	if err != nil {
		t.Fatalf("Push seed: %v", err)
	}
	if seedKey == "" {
		t.Fatalf("Push returned empty key")
	}

	events, err := store.Subscribe(ctx, domain.CollectionMembers)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	replayed := nextEvent(t, events)
	if replayed.Kind != realtimeport.ChildAdded || replayed.Key != seedKey || replayed.Value["name"] != "Seed" {
		t.Fatalf("unexpected replay event: %#v", replayed)
	}

	// Push -> child_added with the unmodified body.
	k1, err := store.Push(ctx, domain.CollectionMembers, domain.Record{"name": "Alice", "dues": 10.0})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if k1 == seedKey {
		t.Fatalf("Push reused key %q", k1)
	}
	added := nextEvent(t, events)
	if added.Kind != realtimeport.ChildAdded || added.Key != k1 || added.Value["name"] != "Alice" || added.Value["dues"] != 10.0 {
		t.Fatalf("unexpected added event: %#v", added)
	}
	if _, ok := added.Value[domain.IDField]; ok {
		t.Fatalf("store must not inject the key into the body: %#v", added.Value)
	}

	// Set on existing key -> child_changed, full overwrite.
	if err := store.Set(ctx, domain.CollectionMembers, k1, domain.Record{"id": string(k1), "name": "Alice B"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	changed := nextEvent(t, events)
	if changed.Kind != realtimeport.ChildChanged || changed.Key != k1 || changed.Value["name"] != "Alice B" {
		t.Fatalf("unexpected changed event: %#v", changed)
	}
	if _, ok := changed.Value["dues"]; ok {
		t.Fatalf("Set must overwrite, not merge: %#v", changed.Value)
	}

	// Set on missing key -> child_added.
	fresh := domain.RecordKey(uuid.NewString())
	if err := store.Set(ctx, domain.CollectionMembers, fresh, domain.Record{"name": "Carol"}); err != nil {
		t.Fatalf("Set fresh: %v", err)
	}
	if evt := nextEvent(t, events); evt.Kind != realtimeport.ChildAdded || evt.Key != fresh {
		t.Fatalf("unexpected event for Set on missing key: %#v", evt)
	}

	// Remove -> child_removed with last value; removing again is a no-op.
	if err := store.Remove(ctx, domain.CollectionMembers, fresh); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	removed := nextEvent(t, events)
	if removed.Kind != realtimeport.ChildRemoved || removed.Key != fresh || removed.Value["name"] != "Carol" {
		t.Fatalf("unexpected removed event: %#v", removed)
	}
	if err := store.Remove(ctx, domain.CollectionMembers, fresh); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}

	// Once reflects current state.
	all, err := store.Once(ctx, domain.CollectionMembers)
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if len(all) != 2 || all[seedKey]["name"] != "Seed" || all[k1]["name"] != "Alice B" {
		t.Fatalf("unexpected Once result: %#v", all)
	}

	// Collections are independent.
	liKey, err := store.Push(ctx, domain.CollectionLineItems, domain.Record{"amount": 3.5})
	if err != nil {
		t.Fatalf("Push line item: %v", err)
	}
	items, err := store.Once(ctx, domain.CollectionLineItems)
	if err != nil {
		t.Fatalf("Once line items: %v", err)
	}
	if len(items) != 1 || items[liKey]["amount"] != 3.5 {
		t.Fatalf("unexpected line items: %#v", items)
	}
	select {
	case evt := <-events:
		t.Fatalf("members subscription saw foreign event: %#v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	// Input validation.
	if _, err := store.Push(ctx, domain.Collection("trips"), domain.Record{}); !errors.Is(err, realtimeport.ErrUnknownCollection) {
		t.Fatalf("Push unknown collection err=%v, want %v", err, realtimeport.ErrUnknownCollection)
	}
	if err := store.Set(ctx, domain.CollectionMembers, "", domain.Record{}); !errors.Is(err, realtimeport.ErrInvalidKey) {
		t.Fatalf("Set empty key err=%v, want %v", err, realtimeport.ErrInvalidKey)
	}
	if err := store.Remove(ctx, domain.CollectionLineItems, ""); !errors.Is(err, realtimeport.ErrInvalidKey) {
		t.Fatalf("Remove empty key err=%v, want %v", err, realtimeport.ErrInvalidKey)
	}

	// Cancelling the subscription closes the channel.
	cancel()
	deadline := time.After(eventTimeout)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed after cancel")
		}
	}
}

func RunAccountRepo(t *testing.T, newRepo AccountRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1000, 0).UTC()
	id := uuid.NewString()
	if err := repo.Create(ctx, accountrepoport.Account{
		ID:           id,
		Email:        "Treasurer@Example.com",
		PasswordHash: []byte("hash-1"),
		CreatedAt:    now,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByEmail(ctx, "  treasurer@example.COM")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != id || got.Email != "treasurer@example.com" || string(got.PasswordHash) != "hash-1" {
		t.Fatalf("unexpected account: %#v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt=%v, want %v", got.CreatedAt, now)
	}

	byID, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Email != got.Email {
		t.Fatalf("GetByID email=%q, want %q", byID.Email, got.Email)
	}

	// Email uniqueness (case-insensitive).
	if err := repo.Create(ctx, accountrepoport.Account{
		ID:           uuid.NewString(),
		Email:        "TREASURER@example.com",
		PasswordHash: []byte("hash-2"),
		CreatedAt:    now,
	}); !errors.Is(err, accountrepoport.ErrAlreadyExists) {
		t.Fatalf("Create duplicate email err=%v, want %v", err, accountrepoport.ErrAlreadyExists)
	}

	if _, err := repo.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, accountrepoport.ErrNotFound) {
		t.Fatalf("GetByEmail missing err=%v, want %v", err, accountrepoport.ErrNotFound)
	}
	if _, err := repo.GetByID(ctx, uuid.NewString()); !errors.Is(err, accountrepoport.ErrNotFound) {
		t.Fatalf("GetByID missing err=%v, want %v", err, accountrepoport.ErrNotFound)
	}
}
