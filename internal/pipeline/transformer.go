package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// InvokeRequestTransformer is a dataflow Transformer that unmarshals a raw
// message payload into a bridge.InvokeRequest.
//
// Malformed messages are skipped with an error so the StreamingService can
// route them to the dead letter topic. A request without an ID inherits the
// message ID.
func InvokeRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*bridge.InvokeRequest, bool, error) {
	var req bridge.InvokeRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal invoke request from message %s: %w", msg.ID, err)
	}
	if req.ID == "" {
		req.ID = msg.ID
	}
	return &req, false, nil
}
