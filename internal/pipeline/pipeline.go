// Package pipeline turns invoke requests into displayed notifications and
// structured application events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-bridge/internal/codec"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// ErrNotInitialized is returned when a push arrives before a push handle exists.
var ErrNotInitialized = errors.New("push service not initialized")

// HandleSource exposes the active push handle without transferring ownership.
type HandleSource interface {
	Handle() (bridge.PushHandle, bool)
}

// ExitGuard decides whether a background launch should exit.
type ExitGuard interface {
	HasBeenForegrounded() bool
	ScheduleExit(exit func())
}

// Pipeline handles invoke requests delivered by the host.
type Pipeline struct {
	handles HandleSource
	host    bridge.Host
	guard   ExitGuard
	events  bridge.EventSink
	logger  *slog.Logger
}

func New(handles HandleSource, host bridge.Host, guard ExitGuard, events bridge.EventSink, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		handles: handles,
		host:    host,
		guard:   guard,
		events:  events,
		logger:  logger.With("component", "PayloadPipeline"),
	}
}

// OnInvoke routes a request by action. Unknown actions are ignored.
func (p *Pipeline) OnInvoke(ctx context.Context, req bridge.InvokeRequest) error {
	switch req.Action {
	case bridge.ActionPushReceived:
		return p.onPush(ctx, req)
	case bridge.ActionNotificationOpened:
		return p.onOpened(req)
	default:
		p.logger.Debug("Ignoring invoke request", "action", req.Action, "invoke_id", req.ID)
		return nil
	}
}

func (p *Pipeline) onPush(ctx context.Context, req bridge.InvokeRequest) error {
	logger := p.logger.With("invoke_id", req.ID)

	handle, ok := p.handles.Handle()
	if !ok {
		logger.Error("Push received before initialization")
		return ErrNotInitialized
	}

	payload, err := handle.ExtractPayload(req)
	if err != nil {
		return fmt.Errorf("failed to extract push payload: %w", err)
	}
	// Acknowledged before processing so a failure below cannot trigger redelivery.
	if payload.AcknowledgeRequired() {
		payload.Acknowledge(true)
	}

	content := Classify(payload.Data())
	encoded, err := codec.EncodeFields(content.Fields())
	if err != nil {
		return err
	}

	n := bridge.Notification{
		Title:   p.host.AppName(),
		Body:    content.Text(),
		Payload: encoded,
	}
	if err := p.host.ShowNotification(ctx, n); err != nil {
		logger.Error("Failed to show notification", "err", err)
		return fmt.Errorf("failed to show notification: %w", err)
	}
	logger.Info("Notification shown")

	if !p.guard.HasBeenForegrounded() {
		p.guard.ScheduleExit(p.host.Exit)
		return nil
	}
	p.dispatch(bridge.Event{Kind: bridge.EventPush, Fields: content.Fields()})
	return nil
}

func (p *Pipeline) onOpened(req bridge.InvokeRequest) error {
	fields, err := codec.DecodeFields(string(req.Data))
	if err != nil {
		p.logger.Error("Opened notification carries a corrupt payload", "invoke_id", req.ID, "err", err)
		return &bridge.PayloadDecodeError{Err: err}
	}
	p.dispatch(bridge.Event{Kind: bridge.EventOpened, Fields: fields})
	return nil
}

func (p *Pipeline) dispatch(e bridge.Event) {
	if p.events == nil {
		return
	}
	p.events(e)
}
