package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/metrics"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/frontend"
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Relay
}

// Bridge relays one front-end session: commands in, store changes out.
type Bridge struct {
	backend *facade.Backend
	auth    *facade.Auth
	emitter frontend.Emitter
	log     *slog.Logger
	metrics *metrics.Relay

	mu         sync.Mutex
	runCtx     context.Context
	cancelSubs context.CancelFunc
	wg         sync.WaitGroup
}

func New(backend *facade.Backend, auth *facade.Auth, emitter frontend.Emitter, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		backend: backend,
		auth:    auth,
		emitter: emitter,
		log:     logger,
		metrics: opts.Metrics,
	}
}

// Run starts watching the auth state and returns. The current state is
// emitted right away; collection subscriptions run while signed in. Everything
// is released once ctx is done; Wait blocks until then.
func (b *Bridge) Run(ctx context.Context) {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	unsubscribe := b.auth.OnAuthStateChanged(b.onAuthState)

	b.wg.Add(1)
	context.AfterFunc(ctx, func() {
		defer b.wg.Done()
		unsubscribe()
		b.stopSubscriptions()
	})
}

// Wait blocks until Run's context is done and all forwarders have exited.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Handle dispatches one command. Failures are logged and counted, never
// returned to the front-end.
func (b *Bridge) Handle(ctx context.Context, cmd Command) {
	switch cmd.Name {
	case CommandLogin:
		b.login(ctx, cmd.Email, cmd.Password)
		return
	case CommandLogout:
		b.auth.SignOut(ctx)
		b.metrics.CommandHandled(cmd.Name, metrics.ResultOK)
		return
	}

	if !IsRecordCommand(cmd.Name) {
		b.log.Warn("unknown command dropped", "command", cmd.Name)
		b.metrics.CommandHandled("unknown", metrics.ResultDropped)
		return
	}
	if !b.auth.SignedIn() {
		b.log.Warn("command dropped: not signed in", "command", cmd.Name)
		b.metrics.CommandHandled(cmd.Name, metrics.ResultDropped)
		return
	}

	var err error
	switch cmd.Name {
	case CommandAddMember:
		_, err = b.backend.Members().Add(ctx, cmd.Record)
	case CommandUpdateMember:
		err = b.backend.Members().Update(ctx, cmd.Record)
	case CommandAddLineItem:
		_, err = b.backend.LineItems().Add(ctx, cmd.Record)
	case CommandUpdateLineItem:
		err = b.backend.LineItems().Update(ctx, cmd.Record)
	case CommandDeleteLineItem:
		err = b.backend.LineItems().Delete(ctx, cmd.Record)
	}
	if err != nil {
		b.log.Error("command failed", "command", cmd.Name, "err", err)
		b.metrics.CommandHandled(cmd.Name, metrics.ResultRejected)
		return
	}
	b.metrics.CommandHandled(cmd.Name, metrics.ResultOK)
}

func (b *Bridge) login(ctx context.Context, email, password string) {
	if _, err := b.auth.SignIn(ctx, email, password); err != nil {
		b.log.Info("login failed", "err", err)
		b.metrics.LoginFailed()
		b.metrics.CommandHandled(CommandLogin, metrics.ResultRejected)
		b.emit(ctx, frontend.Event{Type: frontend.EventLoginFailed})
		return
	}
	b.metrics.CommandHandled(CommandLogin, metrics.ResultOK)

	b.retrieve(ctx, b.backend.Members(), frontend.EventMembersRetrieved)
	b.retrieve(ctx, b.backend.LineItems(), frontend.EventLineItemsRetrieved)
}

// retrieve emits every value of c, ordered by key, without ids.
func (b *Bridge) retrieve(ctx context.Context, c *facade.Collection, eventType string) {
	children, err := c.Ref().List(ctx)
	if err != nil {
		b.log.Error("read collection failed", "collection", c.Name(), "err", err)
		return
	}
	values := make([]domain.Record, 0, len(children))
	for _, child := range children {
		values = append(values, child.Value)
	}
	b.emit(ctx, frontend.Event{Type: eventType, Payload: values})
}

func (b *Bridge) onAuthState(signedIn bool) {
	b.mu.Lock()
	ctx := b.runCtx
	b.mu.Unlock()

	b.emit(ctx, frontend.Event{Type: frontend.EventAuth, Payload: signedIn})
	if signedIn {
		b.startSubscriptions()
	} else {
		b.stopSubscriptions()
	}
}

func (b *Bridge) startSubscriptions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelSubs != nil || b.runCtx.Err() != nil {
		return
	}

	subCtx, cancel := context.WithCancel(b.runCtx)
	b.cancelSubs = cancel
	for _, c := range []*facade.Collection{b.backend.Members(), b.backend.LineItems()} {
		ch, err := c.Ref().Subscribe(subCtx)
		if err != nil {
			b.log.Error("subscribe failed", "collection", c.Name(), "err", err)
			continue
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for evt := range ch {
				if subCtx.Err() != nil {
					continue
				}
				if fe, ok := MapEvent(evt); ok {
					b.emit(subCtx, fe)
				}
			}
			if subCtx.Err() == nil {
				b.log.Warn("subscription ended by store", "collection", c.Name())
			}
		}()
	}
}

func (b *Bridge) stopSubscriptions() {
	b.mu.Lock()
	cancel := b.cancelSubs
	b.cancelSubs = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Bridge) emit(ctx context.Context, evt frontend.Event) {
	if err := b.emitter.Emit(ctx, evt); err != nil {
		b.log.Warn("emit failed", "event", evt.Type, "err", err)
		return
	}
	b.metrics.EventForwarded(evt.Type)
}
