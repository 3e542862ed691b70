package bridge

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	memaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/accountrepo"
	memclock "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/clock"
	memrealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/realtime"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/auth/sessiontoken"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/config"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/logging"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/frontend"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

const waitTimeout = 2 * time.Second

type recordingEmitter struct {
	mu     sync.Mutex
	events []frontend.Event
}

func (e *recordingEmitter) Emit(_ context.Context, evt frontend.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

func (e *recordingEmitter) ofType(typ string) []frontend.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []frontend.Event
	for _, evt := range e.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func (e *recordingEmitter) waitFor(t *testing.T, typ string, n int) []frontend.Event {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		got := e.ofType(typ)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events, have %d", n, typ, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// flakyStore fails mutations while failing is set.
type flakyStore struct {
	*memrealtime.Store

	mu      sync.Mutex
	failing bool
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *flakyStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	return nil
}

func (s *flakyStore) Push(ctx context.Context, coll domain.Collection, rec domain.Record) (domain.RecordKey, error) {
	if err := s.fail(); err != nil {
		return "", err
	}
	return s.Store.Push(ctx, coll, rec)
}

type harness struct {
	store   *flakyStore
	backend *facade.Backend
	auth    *facade.Auth
	emitter *recordingEmitter
	bridge  *Bridge
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := &flakyStore{Store: memrealtime.NewStore()}
	clk := memclock.NewManualClock(time.Now().UTC())
	tokens := sessiontoken.New(config.SessionConfig{
		Secret: []byte(strings.Repeat("b", 32)),
		Issuer: "bridge-test",
		TTL:    time.Hour,
	})
	backend := facade.New(store, memaccountrepo.NewRepo(), tokens, clk)
	if _, err := backend.CreateAccount(context.Background(), "treasurer@example.com", "ledger"); err != nil {
		t.Fatalf("CreateAccount() err=%v", err)
	}

	auth := backend.NewAuth()
	emitter := &recordingEmitter{}
	b := New(backend, auth, emitter, Options{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	b.Run(ctx)
	h := &harness{store: store, backend: backend, auth: auth, emitter: emitter, bridge: b, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		b.Wait()
	})
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	h.bridge.Handle(context.Background(), Command{Name: CommandLogin, Email: "treasurer@example.com", Password: "ledger"})
	if !h.auth.SignedIn() {
		t.Fatalf("login did not sign in")
	}
}

func TestBridge_RunEmitsInitialAuthState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got := h.emitter.waitFor(t, frontend.EventAuth, 1)
	if got[0].Payload != false {
		t.Fatalf("auth payload=%v, want false", got[0].Payload)
	}
}

func TestBridge_LoginFailureEmitsOnlyLoginFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.bridge.Handle(context.Background(), Command{Name: CommandLogin, Email: "treasurer@example.com", Password: "wrong"})

	if n := len(h.emitter.ofType(frontend.EventLoginFailed)); n != 1 {
		t.Fatalf("loginFailed events=%d, want 1", n)
	}
	if n := len(h.emitter.ofType(frontend.EventMembersRetrieved)) + len(h.emitter.ofType(frontend.EventLineItemsRetrieved)); n != 0 {
		t.Fatalf("retrieved events=%d, want 0", n)
	}
	if evt := h.emitter.ofType(frontend.EventLoginFailed)[0]; evt.Payload != nil {
		t.Fatalf("loginFailed payload=%v, want nil", evt.Payload)
	}
	if got := h.emitter.ofType(frontend.EventAuth); len(got) != 1 {
		t.Fatalf("auth events=%v, want only the initial one", got)
	}
}

func TestBridge_LoginSuccessRetrievesEachCollectionOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	var memberKeys []domain.RecordKey
	for _, name := range []string{"Ann", "Bo", "Cy"} {
		k, err := h.store.Push(ctx, domain.CollectionMembers, domain.Record{"name": name})
		if err != nil {
			t.Fatalf("Push() err=%v", err)
		}
		memberKeys = append(memberKeys, k)
	}
	if _, err := h.store.Push(ctx, domain.CollectionLineItems, domain.Record{"amount": 9.5}); err != nil {
		t.Fatalf("Push() err=%v", err)
	}

	h.login(t)

	members := h.emitter.ofType(frontend.EventMembersRetrieved)
	lineItems := h.emitter.ofType(frontend.EventLineItemsRetrieved)
	if len(members) != 1 || len(lineItems) != 1 {
		t.Fatalf("membersRetrieved=%d lineItemsRetrieved=%d, want 1 each", len(members), len(lineItems))
	}
	wantMembers := []domain.Record{{"name": "Ann"}, {"name": "Bo"}, {"name": "Cy"}}
	if !reflect.DeepEqual(members[0].Payload, wantMembers) {
		t.Fatalf("membersRetrieved=%v, want %v", members[0].Payload, wantMembers)
	}
	if !reflect.DeepEqual(lineItems[0].Payload, []domain.Record{{"amount": 9.5}}) {
		t.Fatalf("lineItemsRetrieved=%v", lineItems[0].Payload)
	}

	auth := h.emitter.waitFor(t, frontend.EventAuth, 2)
	if auth[1].Payload != true {
		t.Fatalf("auth payload=%v, want true", auth[1].Payload)
	}

	// Subscriptions replay existing children.
	added := h.emitter.waitFor(t, frontend.EventMemberAdded, 3)
	if got := added[0].Payload.(domain.Record)[domain.IDField]; got != string(memberKeys[0]) {
		t.Fatalf("first memberAdded id=%v, want %s", got, memberKeys[0])
	}
}

func TestBridge_EmptyCollectionsRetrieveEmptyLists(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	members := h.emitter.ofType(frontend.EventMembersRetrieved)
	if len(members) != 1 {
		t.Fatalf("membersRetrieved=%d, want 1", len(members))
	}
	if got, ok := members[0].Payload.([]domain.Record); !ok || got == nil || len(got) != 0 {
		t.Fatalf("payload=%#v, want empty non-nil list", members[0].Payload)
	}
}

func TestBridge_RecordCommandsDroppedWhileSignedOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bridge.Handle(ctx, Command{Name: CommandAddMember, Record: domain.Record{"name": "Ann"}})
	h.bridge.Handle(ctx, Command{Name: CommandAddLineItem, Record: domain.Record{"amount": 1.0}})

	for _, coll := range domain.Collections {
		all, err := h.store.Once(ctx, coll)
		if err != nil {
			t.Fatalf("Once() err=%v", err)
		}
		if len(all) != 0 {
			t.Fatalf("%s has %d records, want 0", coll, len(all))
		}
	}
}

func TestBridge_ForwardsChangesWithMergedID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	h.bridge.Handle(ctx, Command{Name: CommandAddMember, Record: domain.Record{"name": "Ann"}})
	added := h.emitter.waitFor(t, frontend.EventMemberAdded, 1)[0].Payload.(domain.Record)
	memberID, _ := added[domain.IDField].(string)
	if memberID == "" || added["name"] != "Ann" || len(added) != 2 {
		t.Fatalf("memberAdded=%v", added)
	}

	h.bridge.Handle(ctx, Command{Name: CommandUpdateMember, Record: domain.Record{"id": memberID, "name": "Anne"}})
	updated := h.emitter.waitFor(t, frontend.EventMemberUpdated, 1)[0].Payload.(domain.Record)
	if updated["id"] != memberID || updated["name"] != "Anne" {
		t.Fatalf("memberUpdated=%v", updated)
	}

	h.bridge.Handle(ctx, Command{Name: CommandAddLineItem, Record: domain.Record{"amount": 2.0}})
	li := h.emitter.waitFor(t, frontend.EventLineItemAdded, 1)[0].Payload.(domain.Record)
	liID, _ := li[domain.IDField].(string)
	if liID == "" || liID == memberID {
		t.Fatalf("lineItemAdded=%v", li)
	}

	h.bridge.Handle(ctx, Command{Name: CommandUpdateLineItem, Record: domain.Record{"id": liID, "amount": 3.0}})
	liUpdated := h.emitter.waitFor(t, frontend.EventLineItemUpdated, 1)[0].Payload.(domain.Record)
	if liUpdated["id"] != liID || liUpdated["amount"] != 3.0 {
		t.Fatalf("lineItemUpdated=%v, want id %s", liUpdated, liID)
	}

	h.bridge.Handle(ctx, Command{Name: CommandDeleteLineItem, Record: domain.Record{"id": liID}})
	deleted := h.emitter.waitFor(t, frontend.EventLineItemDeleted, 1)[0].Payload.(domain.Record)
	if deleted["id"] != liID || deleted["amount"] != 3.0 {
		t.Fatalf("lineItemDeleted=%v", deleted)
	}
}

func TestBridge_RejectedCommandsDoNotStopLaterOnes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	h.bridge.Handle(ctx, Command{Name: CommandUpdateMember, Record: domain.Record{"name": "no id"}})
	h.bridge.Handle(ctx, Command{Name: CommandDeleteLineItem, Record: nil})
	h.bridge.Handle(ctx, Command{Name: "launchRocket"})

	h.store.setFailing(true)
	h.bridge.Handle(ctx, Command{Name: CommandAddMember, Record: domain.Record{"name": "lost"}})
	h.store.setFailing(false)

	h.bridge.Handle(ctx, Command{Name: CommandAddMember, Record: domain.Record{"name": "kept"}})
	added := h.emitter.waitFor(t, frontend.EventMemberAdded, 1)
	if added[0].Payload.(domain.Record)["name"] != "kept" {
		t.Fatalf("memberAdded=%v", added[0].Payload)
	}

	all, err := h.store.Once(ctx, domain.CollectionMembers)
	if err != nil {
		t.Fatalf("Once() err=%v", err)
	}
	if len(all) != 1 {
		t.Fatalf("members=%v, want only the kept one", all)
	}
}

func TestBridge_LogoutCancelsSubscriptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.login(t)
	waitSubscribers(t, h.store.Store, 1)

	h.bridge.Handle(ctx, Command{Name: CommandLogout})
	auth := h.emitter.waitFor(t, frontend.EventAuth, 3)
	if auth[2].Payload != false {
		t.Fatalf("auth payload=%v, want false", auth[2].Payload)
	}
	waitSubscribers(t, h.store.Store, 0)

	h.bridge.Handle(ctx, Command{Name: CommandAddMember, Record: domain.Record{"name": "Ann"}})
	all, err := h.store.Once(ctx, domain.CollectionMembers)
	if err != nil {
		t.Fatalf("Once() err=%v", err)
	}
	if len(all) != 0 {
		t.Fatalf("command after logout reached the store: %v", all)
	}
}

func TestBridge_MemberRemovalIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	key, err := h.store.Push(ctx, domain.CollectionMembers, domain.Record{"name": "Ann"})
	if err != nil {
		t.Fatalf("Push() err=%v", err)
	}
	h.emitter.waitFor(t, frontend.EventMemberAdded, 1)
	if err := h.store.Remove(ctx, domain.CollectionMembers, key); err != nil {
		t.Fatalf("Remove() err=%v", err)
	}

	// Events arrive in order, so a later memberAdded means the removal was seen.
	if _, err := h.store.Push(ctx, domain.CollectionMembers, domain.Record{"name": "Bo"}); err != nil {
		t.Fatalf("Push() err=%v", err)
	}
	h.emitter.waitFor(t, frontend.EventMemberAdded, 2)
	for _, typ := range []string{frontend.EventMemberUpdated, frontend.EventLineItemDeleted} {
		if got := h.emitter.ofType(typ); len(got) != 0 {
			t.Fatalf("unexpected %s events: %v", typ, got)
		}
	}
}

func TestBridge_RunContextDoneReleasesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	waitSubscribers(t, h.store.Store, 1)

	h.cancel()
	done := make(chan struct{})
	go func() {
		h.bridge.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("Wait() did not return after cancel")
	}
	waitSubscribers(t, h.store.Store, 0)
}

func waitSubscribers(t *testing.T, s *memrealtime.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		m, li := s.Subscribers(domain.CollectionMembers), s.Subscribers(domain.CollectionLineItems)
		if m == want && li == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribers members=%d line_items=%d, want %d", m, li, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var _ realtime.Store = (*flakyStore)(nil)
