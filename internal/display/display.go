// Package display forwards notifications shown by the bridge to the devices
// configured to mirror them.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// PayloadKey is the data key carrying the encoded notification payload.
const PayloadKey = "payload"

// Forwarder delivers a displayed notification to one platform.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, n bridge.Notification) error
}

// Content converts a bridge notification to the shared platform content model.
func Content(n bridge.Notification) notification.NotificationContent {
	return notification.NotificationContent{
		Title: n.Title,
		Body:  n.Body,
		Sound: "default",
	}
}

// Data returns the data fields sent alongside the visible content.
func Data(n bridge.Notification) map[string]string {
	if n.Payload == "" {
		return map[string]string{}
	}
	return map[string]string{PayloadKey: n.Payload}
}

// Fanout sends to every forwarder. Each forwarder runs even if another fails.
type Fanout struct {
	forwarders []Forwarder
	logger     *slog.Logger
}

func NewFanout(logger *slog.Logger, forwarders ...Forwarder) *Fanout {
	return &Fanout{
		forwarders: forwarders,
		logger:     logger.With("component", "DisplayFanout"),
	}
}

// Len reports the number of configured forwarders.
func (f *Fanout) Len() int {
	return len(f.forwarders)
}

// Forward returns the joined errors of all failed forwarders.
func (f *Fanout) Forward(ctx context.Context, n bridge.Notification) error {
	var errs []error
	for _, fw := range f.forwarders {
		if err := fw.Forward(ctx, n); err != nil {
			f.logger.Warn("Forwarder failed", "forwarder", fw.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", fw.Name(), err))
		}
	}
	return errors.Join(errs...)
}
