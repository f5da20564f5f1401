// Package pushbridge assembles the push bridge: the host-facing Bridge facade
// and the service that exposes it over HTTP and the invoke ingestion stream.
package pushbridge

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/tinywideclouds/go-push-bridge/internal/session"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// SessionController is the channel session as driven by the facade.
type SessionController interface {
	Subscribe(ctx context.Context) (string, error)
	Unsubscribe(ctx context.Context) error
	Token(ctx context.Context) (string, bool, error)
	State() session.State
}

// Bridge is the host-facing API. Every operation runs asynchronously and
// resolves its callback exactly once.
type Bridge struct {
	ctx     context.Context
	session SessionController
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu              sync.Mutex
	launchListeners []bridge.Callback[map[string]any]
	pushListeners   []func(map[string]any)
	pending         []map[string]any
	last            map[string]any
}

// NewBridge returns a facade whose operations run under ctx.
func NewBridge(ctx context.Context, s SessionController, logger *slog.Logger) *Bridge {
	return &Bridge{
		ctx:     ctx,
		session: s,
		logger:  logger.With("component", "Bridge"),
	}
}

// Subscribe resolves with the channel token once it is registered remotely.
func (b *Bridge) Subscribe(cb bridge.Callback[bridge.Status]) {
	b.run(func(ctx context.Context) {
		token, err := b.session.Subscribe(ctx)
		if err != nil {
			resolve(cb, err, bridge.Status{})
			return
		}
		resolve(cb, nil, bridge.Status{Enabled: true, Token: token})
	})
}

// Unsubscribe resolves with the remote deregistration result.
func (b *Bridge) Unsubscribe(cb bridge.Callback[bridge.Status]) {
	b.run(func(ctx context.Context) {
		if err := b.session.Unsubscribe(ctx); err != nil {
			resolve(cb, err, bridge.Status{})
			return
		}
		resolve(cb, nil, bridge.Status{Enabled: false})
	})
}

// SetUserNotificationsEnabled subscribes or unsubscribes.
func (b *Bridge) SetUserNotificationsEnabled(enabled bool, cb bridge.Callback[bridge.Status]) {
	if enabled {
		b.Subscribe(cb)
		return
	}
	b.Unsubscribe(cb)
}

// IsUserNotificationsEnabled reports whether a channel token is persisted.
func (b *Bridge) IsUserNotificationsEnabled(cb bridge.Callback[bool]) {
	b.run(func(ctx context.Context) {
		_, ok, err := b.session.Token(ctx)
		resolve(cb, err, ok && err == nil)
	})
}

// GetLaunchNotification registers cb for every opened notification.
// Notifications opened before the first registration are delivered to it immediately.
func (b *Bridge) GetLaunchNotification(cb bridge.Callback[map[string]any]) {
	if cb == nil {
		return
	}
	b.mu.Lock()
	b.launchListeners = append(b.launchListeners, cb)
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, fields := range pending {
		cb(nil, maps.Clone(fields))
	}
}

// OnPush registers fn for pushes that arrive while the app is foregrounded.
func (b *Bridge) OnPush(fn func(fields map[string]any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushListeners = append(b.pushListeners, fn)
}

// LastLaunchNotification returns the fields of the most recently opened notification.
func (b *Bridge) LastLaunchNotification() (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil, false
	}
	return maps.Clone(b.last), true
}

// State is the channel session state name.
func (b *Bridge) State() string {
	return b.session.State().String()
}

// HandleEvent is the pipeline's event sink.
func (b *Bridge) HandleEvent(e bridge.Event) {
	switch e.Kind {
	case bridge.EventOpened:
		b.mu.Lock()
		b.last = maps.Clone(e.Fields)
		listeners := append([]bridge.Callback[map[string]any]{}, b.launchListeners...)
		if len(listeners) == 0 {
			b.pending = append(b.pending, maps.Clone(e.Fields))
		}
		b.mu.Unlock()

		if len(listeners) == 0 {
			b.logger.Debug("Buffered launch notification until a listener registers")
		}
		for _, cb := range listeners {
			cb(nil, maps.Clone(e.Fields))
		}
	case bridge.EventPush:
		b.mu.Lock()
		listeners := append([]func(map[string]any){}, b.pushListeners...)
		b.mu.Unlock()

		for _, fn := range listeners {
			fn(maps.Clone(e.Fields))
		}
	default:
		b.logger.Debug("Ignoring event", "kind", e.Kind)
	}
}

// Wait blocks until every started operation has resolved.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) run(op func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		op(b.ctx)
	}()
}

func resolve[T any](cb bridge.Callback[T], err error, v T) {
	if cb == nil {
		return
	}
	if err != nil {
		var zero T
		cb(err, zero)
		return
	}
	cb(nil, v)
}
