// Package pubsubpush implements the platform push capability on Google Pub/Sub.
// A channel is a subscription on the invoke target topic; each delivery on it
// becomes a push-received invoke request.
package pubsubpush

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// delivery is one received message awaiting acknowledgement.
type delivery struct {
	id   string
	data []byte
	ack  func()
	nack func()
}

// broker is the subset of Pub/Sub the adapter needs.
type broker interface {
	CreateSubscription(ctx context.Context, sub *pubsubpb.Subscription) error
	DeleteSubscription(ctx context.Context, name string) error
	Receive(ctx context.Context, subID string, fn func(ctx context.Context, d delivery)) error
}

type googleBroker struct {
	client *pubsub.Client
}

func (g googleBroker) CreateSubscription(ctx context.Context, sub *pubsubpb.Subscription) error {
	_, err := g.client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	return err
}

func (g googleBroker) DeleteSubscription(ctx context.Context, name string) error {
	return g.client.SubscriptionAdminClient.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{Subscription: name})
}

func (g googleBroker) Receive(ctx context.Context, subID string, fn func(ctx context.Context, d delivery)) error {
	return g.client.Subscriber(subID).Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		fn(ctx, delivery{id: msg.ID, data: msg.Data, ack: msg.Ack, nack: msg.Nack})
	})
}

// Service creates push handles. At most one live handle exists per app ID.
type Service struct {
	broker       broker
	projectID    string
	installation string
	deliver      bridge.InvokeHandler
	logger       *slog.Logger

	mu   sync.Mutex
	live map[string]bool
}

// NewService returns a Service backed by client. installation distinguishes
// this process's channel from others on the same topic. deliver receives
// every push as a push-received invoke request.
func NewService(client *pubsub.Client, projectID, installation string, deliver bridge.InvokeHandler, logger *slog.Logger) *Service {
	return newService(googleBroker{client: client}, projectID, installation, deliver, logger)
}

func newService(b broker, projectID, installation string, deliver bridge.InvokeHandler, logger *slog.Logger) *Service {
	return &Service{
		broker:       b,
		projectID:    projectID,
		installation: installation,
		deliver:      deliver,
		logger:       logger.With("component", "PubsubPushService"),
		live:         make(map[string]bool),
	}
}

// Create validates opts and opens a handle.
func (s *Service) Create(_ context.Context, opts bridge.PushOptions) (bridge.PushHandle, error) {
	if opts.AppID == "" {
		return nil, &bridge.PlatformError{Code: bridge.CodeInvalidProviderApplicationID}
	}
	if opts.InvokeTargetID == "" {
		return nil, &bridge.PlatformError{Code: bridge.CodeMissingInvokeTargetID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[opts.AppID] {
		return nil, &bridge.PlatformError{Code: bridge.CodeSessionAlreadyExists}
	}
	s.live[opts.AppID] = true

	subID := fmt.Sprintf("%s-%s", opts.AppID, s.installation)
	s.logger.Info("Push service created", "app_id", opts.AppID, "topic", opts.InvokeTargetID, "ppg_url", opts.PPGURL)
	return &Handle{
		service: s,
		appID:   opts.AppID,
		subID:   subID,
		subName: resourceName(s.projectID, "subscriptions", subID),
		topic:   resourceName(s.projectID, "topics", opts.InvokeTargetID),
		pending: make(map[string]delivery),
		logger:  s.logger.With("subscription", subID),
	}, nil
}

func (s *Service) release(appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, appID)
}

func resourceName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}

// Handle is a live push session for one app ID.
type Handle struct {
	service *Service
	appID   string
	subID   string
	subName string
	topic   string
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]delivery
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// CreateChannel ensures the channel subscription exists and returns its ID.
func (h *Handle) CreateChannel(ctx context.Context) (string, error) {
	sub := &pubsubpb.Subscription{
		Name:               h.subName,
		Topic:              h.topic,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(10 * time.Second),
		},
	}
	err := h.service.broker.CreateSubscription(ctx, sub)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		h.logger.Error("Failed to create channel subscription", "err", err)
		return "", fmt.Errorf("failed to create channel: %w", err)
	}
	if err != nil {
		h.logger.Debug("Channel subscription already exists")
	}
	return h.subID, nil
}

// DestroyChannel stops receiving and deletes the channel subscription.
func (h *Handle) DestroyChannel(ctx context.Context) error {
	h.stopReceiving()
	err := h.service.broker.DeleteSubscription(ctx, h.subName)
	if err != nil && status.Code(err) != codes.NotFound {
		h.logger.Error("Failed to delete channel subscription", "err", err)
		return fmt.Errorf("failed to destroy channel: %w", err)
	}
	h.logger.Info("Channel destroyed")
	return nil
}

// LaunchApplicationOnPush starts or stops converting deliveries into invoke requests.
// Receiving outlives ctx; it ends with DestroyChannel, Close or a disabling call.
func (h *Handle) LaunchApplicationOnPush(ctx context.Context, enabled bool) error {
	if !enabled {
		h.stopReceiving()
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("push handle for %s is closed", h.appID)
	}
	if h.cancel != nil {
		return nil
	}

	recvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go func() {
		defer close(done)
		h.logger.Info("Receiving pushes")
		if err := h.service.broker.Receive(recvCtx, h.subID, h.onDelivery); err != nil && recvCtx.Err() == nil {
			h.logger.Error("Push receiver stopped", "err", err)
		}
	}()
	return nil
}

func (h *Handle) onDelivery(ctx context.Context, d delivery) {
	h.mu.Lock()
	h.pending[d.id] = d
	h.mu.Unlock()

	req := bridge.InvokeRequest{ID: d.id, Action: bridge.ActionPushReceived, Data: d.data}
	if err := h.service.deliver(ctx, req); err != nil {
		h.logger.Warn("Push delivery failed", "invoke_id", d.id, "err", err)
	}

	// Anything the pipeline did not acknowledge is redelivered.
	if pending, ok := h.take(d.id); ok {
		pending.nack()
	}
}

func (h *Handle) take(id string) (delivery, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	return d, ok
}

// ExtractPayload returns the payload of a request. Deliveries received on the
// channel require acknowledgement; injected requests do not.
func (h *Handle) ExtractPayload(req bridge.InvokeRequest) (bridge.PushPayload, error) {
	h.mu.Lock()
	d, ok := h.pending[req.ID]
	h.mu.Unlock()
	if !ok {
		// Requests injected outside the subscription carry their own data.
		return &payload{data: req.Data}, nil
	}
	return &payload{data: d.data, required: true, settle: func(accepted bool) {
		if pending, ok := h.take(d.id); ok {
			if accepted {
				pending.ack()
			} else {
				pending.nack()
			}
		}
	}}, nil
}

func (h *Handle) stopReceiving() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops receiving and frees the app ID for a new handle.
func (h *Handle) Close() error {
	h.stopReceiving()
	h.mu.Lock()
	already := h.closed
	h.closed = true
	h.mu.Unlock()
	if !already {
		h.service.release(h.appID)
	}
	return nil
}

type payload struct {
	data     []byte
	required bool
	settle   func(accepted bool)
}

func (p *payload) Data() []byte              { return p.data }
func (p *payload) AcknowledgeRequired() bool { return p.required }

func (p *payload) Acknowledge(accepted bool) {
	if p.settle != nil {
		p.settle(accepted)
	}
}
