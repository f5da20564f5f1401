// Package web forwards displayed notifications to browsers via VAPID Web Push.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-bridge/internal/display"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

// Forwarder sends every notification to a fixed set of browser subscriptions.
// Subscriptions answering 404 or 410 are dropped for the rest of the process.
type Forwarder struct {
	subscriber string
	privateKey string
	publicKey  string
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	targets []config.WebTarget
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.httpClient = c
	}
}

func NewForwarder(cfg config.VapidConfig, targets []config.WebTarget, logger *slog.Logger, opts ...Option) *Forwarder {
	f := &Forwarder{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		httpClient: &http.Client{},
		targets:    slices.Clone(targets),
		logger:     logger.With("component", "WebPushForwarder"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Forwarder) Name() string { return "web" }

// Targets returns the subscriptions still considered live.
func (f *Forwarder) Targets() []config.WebTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.targets)
}

func (f *Forwarder) Forward(ctx context.Context, n bridge.Notification) error {
	targets := f.Targets()
	if len(targets) == 0 {
		return nil
	}

	content := display.Content(n)
	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
		},
		"data": display.Data(n),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var dead []string
	sent, failed := 0, 0
	for _, target := range targets {
		status, err := f.send(ctx, payloadBytes, target)
		if err != nil {
			f.logger.Error("WebPush transport error", "endpoint", target.Endpoint, "err", err)
			failed++
			continue
		}
		switch status {
		case http.StatusCreated, http.StatusOK:
			sent++
		case http.StatusGone, http.StatusNotFound:
			dead = append(dead, target.Endpoint)
		default:
			f.logger.Warn("WebPush rejected", "status", status, "endpoint", target.Endpoint)
		}
	}

	if len(dead) > 0 {
		f.mu.Lock()
		f.targets = slices.DeleteFunc(f.targets, func(t config.WebTarget) bool {
			return slices.Contains(dead, t.Endpoint)
		})
		f.mu.Unlock()
		f.logger.Info("Dropped expired Web Push subscriptions", "count", len(dead))
	}
	f.logger.Debug("WebPush forwarded", "sent", sent, "expired", len(dead), "transport_failures", failed)
	if failed > 0 {
		return fmt.Errorf("web push transport failed for %d of %d subscriptions", failed, len(targets))
	}
	return nil
}

func (f *Forwarder) send(ctx context.Context, payload []byte, target config.WebTarget) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys: webpush.Keys{
			P256dh: target.P256dh,
			Auth:   target.Auth,
		},
	}, &webpush.Options{
		Subscriber:      f.subscriber,
		VAPIDPublicKey:  f.publicKey,
		VAPIDPrivateKey: f.privateKey,
		TTL:             60,
		HTTPClient:      f.httpClient,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
