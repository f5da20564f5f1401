// Package fcm forwards displayed notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-bridge/internal/display"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// MessagingClient is the subset of the Firebase Messaging API we use.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Forwarder sends every notification to a fixed set of registration tokens.
// Tokens FCM reports as dead are dropped for the rest of the process.
type Forwarder struct {
	client MessagingClient
	logger *slog.Logger

	mu     sync.Mutex
	tokens []string
}

func NewForwarder(client MessagingClient, tokens []string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		tokens: slices.Clone(tokens),
		logger: logger.With("component", "FCMForwarder"),
	}
}

func (f *Forwarder) Name() string { return "fcm" }

// Tokens returns the tokens still considered live.
func (f *Forwarder) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tokens)
}

func (f *Forwarder) Forward(ctx context.Context, n bridge.Notification) error {
	tokens := f.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	content := display.Content(n)
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   display.Data(n),
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}

	br, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			f.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return nil
		}
		return fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalid []string
	retryable := 0
	for idx, resp := range br.Responses {
		if resp.Success {
			continue
		}
		if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			invalid = append(invalid, tokens[idx])
			continue
		}
		retryable++
	}

	if len(invalid) > 0 {
		f.drop(invalid)
		f.logger.Info("Dropped dead FCM tokens", "count", len(invalid))
	}
	if retryable > 0 {
		return fmt.Errorf("batch had %d retryable errors", retryable)
	}
	f.logger.Debug("FCM forwarded", "success", br.SuccessCount)
	return nil
}

func (f *Forwarder) drop(dead []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = slices.DeleteFunc(f.tokens, func(t string) bool {
		return slices.Contains(dead, t)
	})
}
