package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// Invoker accepts invoke requests on behalf of the host, usually a *host.Local.
type Invoker interface {
	Invoke(ctx context.Context, req bridge.InvokeRequest) error
}

// NewProcessor adapts an Invoker to the dataflow StreamProcessor.
//
// Corrupt opened payloads are logged and dropped: redelivery cannot repair
// them. Every other failure is returned so the message is nacked.
func NewProcessor(invoker Invoker, logger *slog.Logger) messagepipeline.StreamProcessor[bridge.InvokeRequest] {
	return func(ctx context.Context, original messagepipeline.Message, req *bridge.InvokeRequest) error {
		procLogger := logger.With(
			"invoke_id", req.ID,
			"action", req.Action,
			"pubsub_msg_id", original.ID,
		)

		err := invoker.Invoke(ctx, *req)
		if err == nil {
			procLogger.Debug("Invoke request processed")
			return nil
		}

		var decodeErr *bridge.PayloadDecodeError
		if errors.As(err, &decodeErr) {
			procLogger.Error("Dropping invoke request with corrupt payload", "err", err)
			return nil
		}
		procLogger.Error("Invoke request failed", "err", err)
		return err
	}
}
