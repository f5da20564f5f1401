// Package apns forwards displayed notifications through the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-bridge/internal/display"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// APNSClient is the subset of apns2.Client we use.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent string
}

// Forwarder sends every notification to a fixed set of device tokens.
type Forwarder struct {
	client APNSClient
	topic  string
	logger *slog.Logger

	mu     sync.Mutex
	tokens []string
}

// NewForwarder parses the P8 key up front so bad credentials fail at startup.
func NewForwarder(cfg Config, tokens []string, logger *slog.Logger) (*Forwarder, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	return newForwarder(client, cfg.BundleID, tokens, logger), nil
}

func newForwarder(client APNSClient, topic string, tokens []string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		topic:  topic,
		tokens: slices.Clone(tokens),
		logger: logger.With("component", "APNSForwarder"),
	}
}

func (f *Forwarder) Name() string { return "apns" }

// Forward pushes to each token in turn; APNs has no multicast endpoint.
// Transport failures are counted and reported after every token was tried.
func (f *Forwarder) Forward(ctx context.Context, n bridge.Notification) error {
	f.mu.Lock()
	tokens := slices.Clone(f.tokens)
	f.mu.Unlock()
	if len(tokens) == 0 {
		return nil
	}

	content := display.Content(n)
	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		Sound(content.Sound)
	for k, v := range display.Data(n) {
		builder.Custom(k, v)
	}

	var invalid []string
	sent, failed := 0, 0
	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := f.client.Push(&apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       f.topic,
			Payload:     builder,
		})
		if err != nil {
			f.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failed++
			continue
		}
		if res.Sent() {
			sent++
			continue
		}
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalid = append(invalid, deviceToken)
		default:
			f.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	if len(invalid) > 0 {
		f.mu.Lock()
		f.tokens = slices.DeleteFunc(f.tokens, func(t string) bool { return slices.Contains(invalid, t) })
		f.mu.Unlock()
		f.logger.Info("Dropped dead APNs tokens", "count", len(invalid))
	}
	f.logger.Debug("APNs forwarded", "sent", sent, "invalid", len(invalid), "transport_failures", failed)
	if failed > 0 {
		return fmt.Errorf("apns transport failed for %d of %d tokens", failed, len(tokens))
	}
	return nil
}

// Tokens returns the tokens still considered live.
func (f *Forwarder) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tokens)
}
