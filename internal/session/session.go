// Package session owns the push channel lifecycle: the platform handle, the
// persisted channel token and their registration with the push provider.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-push-bridge/internal/credentials"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// TokenKey is the storage key of the channel token.
const TokenKey = "cordova.ua.bb10.token"

// LegacyTokenKey is the key used by the previous plugin generation.
const LegacyTokenKey = "be.samverschueren.push.bb_token"

// ErrOperationInProgress is returned when Subscribe or Unsubscribe is called
// while another one has not completed.
var ErrOperationInProgress = bridge.ErrOperationInProgress

// Registrar registers channel tokens with the push provider.
type Registrar interface {
	Register(ctx context.Context, token string, creds credentials.Credentials) error
	Deregister(ctx context.Context, token string, creds credentials.Credentials) error
}

// CredentialSource resolves provider credentials and push options.
type CredentialSource interface {
	Resolve() credentials.Credentials
	ResolvePushOptions() bridge.PushOptions
}

// ForegroundMarker is told when the application is foregrounded.
type ForegroundMarker interface {
	MarkForeground()
}

// Option configures a Session.
type Option func(*Session)

// WithTokenKey overrides TokenKey.
func WithTokenKey(key string) Option {
	return func(s *Session) {
		s.tokenKey = key
	}
}

// WithLegacyTokenKeys sets keys migrated to the token key on first read.
func WithLegacyTokenKeys(keys ...string) Option {
	return func(s *Session) {
		s.legacyKeys = keys
	}
}

// Session is the single owner of the push handle and the channel token.
type Session struct {
	service   bridge.PushService
	host      bridge.Host
	store     bridge.Storage
	registrar Registrar
	creds     CredentialSource
	guard     ForegroundMarker
	logger    *slog.Logger

	tokenKey   string
	legacyKeys []string

	init singleflight.Group

	mu              sync.Mutex
	state           State
	handle          bridge.PushHandle
	busy            bool
	resumeAttached  bool
	invokeAttached  bool
	invokeHandler   bridge.InvokeHandler
	foregroundCheck bool
	launching       bool
}

func New(
	service bridge.PushService,
	host bridge.Host,
	store bridge.Storage,
	registrar Registrar,
	creds CredentialSource,
	guard ForegroundMarker,
	logger *slog.Logger,
	opts ...Option,
) *Session {
	s := &Session{
		service:    service,
		host:       host,
		store:      store,
		registrar:  registrar,
		creds:      creds,
		guard:      guard,
		logger:     logger.With("component", "ChannelSession"),
		tokenKey:   TokenKey,
		legacyKeys: []string{LegacyTokenKey},
		state:      Uninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInvokeHandler sets the handler attached to the host on subscribe.
func (s *Session) SetInvokeHandler(h bridge.InvokeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokeHandler = h
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the live push handle, if any. The caller must not close it.
func (s *Session) Handle() (bridge.PushHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.handle != nil
}

// Token returns the persisted channel token.
func (s *Session) Token(ctx context.Context) (string, bool, error) {
	return s.loadToken(ctx)
}

// Initialize returns the shared push handle, creating it on first use.
// Concurrent callers wait for the same creation.
func (s *Session) Initialize(ctx context.Context) (bridge.PushHandle, error) {
	s.attachForeground()

	s.mu.Lock()
	if s.handle != nil {
		h := s.handle
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	v, err, _ := s.init.Do("handle", func() (any, error) {
		s.mu.Lock()
		if s.handle != nil {
			h := s.handle
			s.mu.Unlock()
			return h, nil
		}
		s.state = Initializing
		s.mu.Unlock()

		opts := s.creds.ResolvePushOptions()
		s.logger.Debug("Creating push service", "app_id", opts.AppID, "invoke_target", opts.InvokeTargetID)
		h, err := s.service.Create(ctx, opts)

		if err != nil {
			var platformErr *bridge.PlatformError
			if errors.As(err, &platformErr) {
				s.host.Alert(platformErr.Message())
			}
			s.setState(Uninitialized)
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.handle = h
		s.state = Ready
		return h, nil
	})
	if err != nil {
		s.logger.Error("Push service creation failed", "err", err)
		return nil, fmt.Errorf("failed to create push service: %w", err)
	}
	return v.(bridge.PushHandle), nil
}

// Subscribe makes sure a channel exists locally and is registered remotely.
// A persisted token is reused without creating a new channel.
func (s *Session) Subscribe(ctx context.Context) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	handle, err := s.Initialize(ctx)
	if err != nil {
		return "", err
	}
	s.attachInvoke()

	token, ok, err := s.loadToken(ctx)
	if err != nil {
		s.setState(Ready)
		return "", fmt.Errorf("failed to read channel token: %w", err)
	}

	if ok {
		s.logger.Debug("Channel token already persisted, skipping channel creation")
		s.enableLaunch(ctx, handle)
	} else {
		s.setState(SubscribingChannel)
		token, err = handle.CreateChannel(ctx)
		if err != nil {
			s.setState(Ready)
			s.logger.Error("Channel creation failed", "err", err)
			return "", fmt.Errorf("failed to create channel: %w", err)
		}
		s.enableLaunch(ctx, handle)
		if err := s.store.Set(ctx, s.tokenKey, token); err != nil {
			s.setState(Ready)
			return "", fmt.Errorf("failed to persist channel token: %w", err)
		}
	}

	s.setState(CreatingRemote)
	if err := s.registrar.Register(ctx, token, s.creds.Resolve()); err != nil {
		s.setState(Ready)
		s.logger.Warn("Remote registration failed; token kept locally for retry", "err", err)
		return "", err
	}

	s.setState(Subscribed)
	s.logger.Info("Channel subscribed")
	return token, nil
}

// Unsubscribe deregisters the persisted token and destroys the local channel
// independently. The token is cleared only when destruction succeeds. The
// returned error is the remote result.
func (s *Session) Unsubscribe(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	token, ok, err := s.loadToken(ctx)
	if err != nil {
		s.logger.Warn("Failed to read channel token; continuing with local cleanup", "err", err)
		ok = false
	}

	if ok {
		s.setState(UnsubscribingRemote)
	} else {
		s.setState(DestroyingChannel)
	}

	var wg sync.WaitGroup
	var remoteErr error
	if ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remoteErr = s.registrar.Deregister(ctx, token, s.creds.Resolve())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.destroyLocal(ctx)
	}()
	wg.Wait()

	s.mu.Lock()
	if s.handle != nil {
		s.state = Ready
	} else {
		s.state = Uninitialized
	}
	s.mu.Unlock()

	if remoteErr != nil {
		s.logger.Warn("Remote deregistration failed", "err", remoteErr)
		return remoteErr
	}
	return nil
}

func (s *Session) destroyLocal(ctx context.Context) {
	handle, err := s.Initialize(ctx)
	if err != nil {
		s.logger.Error("Cannot destroy channel without push service", "err", err)
		return
	}
	// the handle stops receiving even when the destroy itself fails
	s.mu.Lock()
	s.launching = false
	s.mu.Unlock()
	if err := handle.DestroyChannel(ctx); err != nil {
		s.logger.Error("Channel destruction failed; token kept", "err", err)
		return
	}
	if err := s.store.Remove(ctx, s.tokenKey); err != nil {
		s.logger.Error("Failed to clear channel token", "err", err)
		return
	}
	s.logger.Info("Channel destroyed")
}

// Teardown closes the handle and returns the session to Uninitialized.
// The persisted token and the host listeners are kept.
func (s *Session) Teardown() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.state = Uninitialized
	s.launching = false
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrOperationInProgress
	}
	s.busy = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// attachForeground runs the startup foreground check and registers the resume
// listener. Both happen once.
func (s *Session) attachForeground() {
	s.mu.Lock()
	check := !s.foregroundCheck
	attach := !s.resumeAttached
	s.foregroundCheck = true
	s.resumeAttached = true
	s.mu.Unlock()

	if check && s.host.IsForeground() {
		s.guard.MarkForeground()
	}
	if attach {
		s.host.OnResume(s.guard.MarkForeground)
	}
}

// attachInvoke registers the invoke handler with the host once per session.
func (s *Session) attachInvoke() {
	s.mu.Lock()
	if s.invokeAttached || s.invokeHandler == nil {
		s.mu.Unlock()
		return
	}
	s.invokeAttached = true
	h := s.invokeHandler
	s.mu.Unlock()

	s.host.OnInvoke(h)
}

// enableLaunch turns on launch-on-push once per handle. A token reused from a
// previous process still needs it, since the setting lives with the handle.
func (s *Session) enableLaunch(ctx context.Context, handle bridge.PushHandle) {
	s.mu.Lock()
	done := s.launching
	s.mu.Unlock()
	if done {
		return
	}
	if err := handle.LaunchApplicationOnPush(ctx, true); err != nil {
		s.logger.Warn("Failed to enable launch on push", "err", err)
		return
	}
	s.mu.Lock()
	s.launching = true
	s.mu.Unlock()
}

// loadToken reads the token, migrating a legacy key when the current one is absent.
func (s *Session) loadToken(ctx context.Context) (string, bool, error) {
	token, ok, err := s.store.Get(ctx, s.tokenKey)
	if err != nil || (ok && token != "") {
		return token, ok && token != "", err
	}

	for _, legacy := range s.legacyKeys {
		token, ok, err := s.store.Get(ctx, legacy)
		if err != nil {
			return "", false, err
		}
		if !ok || token == "" {
			continue
		}
		if err := s.store.Set(ctx, s.tokenKey, token); err != nil {
			return "", false, err
		}
		if err := s.store.Remove(ctx, legacy); err != nil {
			s.logger.Warn("Failed to remove legacy token key", "key", legacy, "err", err)
		}
		s.logger.Info("Migrated channel token from legacy key", "key", legacy)
		return token, true, nil
	}
	return "", false, nil
}
