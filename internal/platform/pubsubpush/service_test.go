package pubsubpush

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBroker feeds deliveries pushed onto its channel to the receive callback.
type fakeBroker struct {
	mu         sync.Mutex
	created    []*pubsubpb.Subscription
	deleted    []string
	createErr  error
	deleteErr  error
	receivedOn []string
	feed       chan delivery
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{feed: make(chan delivery)}
}

func (b *fakeBroker) CreateSubscription(_ context.Context, sub *pubsubpb.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, sub)
	return b.createErr
}

func (b *fakeBroker) DeleteSubscription(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, name)
	return b.deleteErr
}

func (b *fakeBroker) Receive(ctx context.Context, subID string, fn func(ctx context.Context, d delivery)) error {
	b.mu.Lock()
	b.receivedOn = append(b.receivedOn, subID)
	b.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-b.feed:
			fn(ctx, d)
		}
	}
}

type ackRecorder struct {
	mu    sync.Mutex
	acks  int
	nacks int
	done  chan struct{}
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{done: make(chan struct{}, 1)}
}

func (r *ackRecorder) delivery(id, data string) delivery {
	return delivery{
		id:   id,
		data: []byte(data),
		ack: func() {
			r.mu.Lock()
			r.acks++
			r.mu.Unlock()
			r.done <- struct{}{}
		},
		nack: func() {
			r.mu.Lock()
			r.nacks++
			r.mu.Unlock()
			r.done <- struct{}{}
		},
	}
}

func (r *ackRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was never settled")
	}
}

var validOpts = bridge.PushOptions{AppID: "1234-app", InvokeTargetID: "pushes"}

func noDeliver(context.Context, bridge.InvokeRequest) error { return nil }

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		opts     bridge.PushOptions
		wantCode int
	}{
		{name: "Missing app id", opts: bridge.PushOptions{InvokeTargetID: "pushes"}, wantCode: bridge.CodeInvalidProviderApplicationID},
		{name: "Missing invoke target", opts: bridge.PushOptions{AppID: "app"}, wantCode: bridge.CodeMissingInvokeTargetID},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(newFakeBroker(), "proj", "inst", noDeliver, newTestLogger())
			_, err := svc.Create(ctx, tc.opts)

			var platformErr *bridge.PlatformError
			require.ErrorAs(t, err, &platformErr)
			assert.Equal(t, tc.wantCode, platformErr.Code)
		})
	}

	t.Run("Second live session is rejected until closed", func(t *testing.T) {
		svc := newService(newFakeBroker(), "proj", "inst", noDeliver, newTestLogger())
		h, err := svc.Create(ctx, validOpts)
		require.NoError(t, err)

		_, err = svc.Create(ctx, validOpts)
		var platformErr *bridge.PlatformError
		require.ErrorAs(t, err, &platformErr)
		assert.Equal(t, bridge.CodeSessionAlreadyExists, platformErr.Code)

		require.NoError(t, h.Close())
		_, err = svc.Create(ctx, validOpts)
		assert.NoError(t, err)
	})
}

func TestChannelLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Create names subscription after app and installation", func(t *testing.T) {
		broker := newFakeBroker()
		svc := newService(broker, "proj", "inst-1", noDeliver, newTestLogger())
		h, err := svc.Create(ctx, validOpts)
		require.NoError(t, err)

		token, err := h.CreateChannel(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1234-app-inst-1", token)
		require.Len(t, broker.created, 1)
		assert.Equal(t, "projects/proj/subscriptions/1234-app-inst-1", broker.created[0].Name)
		assert.Equal(t, "projects/proj/topics/pushes", broker.created[0].Topic)
	})

	t.Run("Existing subscription is reused", func(t *testing.T) {
		broker := newFakeBroker()
		broker.createErr = status.Error(codes.AlreadyExists, "exists")
		svc := newService(broker, "proj", "inst", noDeliver, newTestLogger())
		h, _ := svc.Create(ctx, validOpts)

		token, err := h.CreateChannel(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1234-app-inst", token)
	})

	t.Run("Create failure is returned", func(t *testing.T) {
		broker := newFakeBroker()
		broker.createErr = status.Error(codes.PermissionDenied, "denied")
		svc := newService(broker, "proj", "inst", noDeliver, newTestLogger())
		h, _ := svc.Create(ctx, validOpts)

		_, err := h.CreateChannel(ctx)
		assert.Error(t, err)
	})

	t.Run("Destroy tolerates a missing subscription", func(t *testing.T) {
		broker := newFakeBroker()
		broker.deleteErr = status.Error(codes.NotFound, "gone")
		svc := newService(broker, "proj", "inst", noDeliver, newTestLogger())
		h, _ := svc.Create(ctx, validOpts)

		require.NoError(t, h.DestroyChannel(ctx))
		assert.Equal(t, []string{"projects/proj/subscriptions/1234-app-inst"}, broker.deleted)
	})

	t.Run("Destroy failure is returned", func(t *testing.T) {
		broker := newFakeBroker()
		broker.deleteErr = errors.New("unavailable")
		svc := newService(broker, "proj", "inst", noDeliver, newTestLogger())
		h, _ := svc.Create(ctx, validOpts)

		assert.Error(t, h.DestroyChannel(ctx))
	})
}

func TestReceive(t *testing.T) {
	t.Run("Delivery acknowledged by the handler is acked", func(t *testing.T) {
		broker := newFakeBroker()
		recorder := newAckRecorder()

		var handle bridge.PushHandle
		var received bridge.InvokeRequest
		deliver := func(ctx context.Context, req bridge.InvokeRequest) error {
			received = req
			p, err := handle.ExtractPayload(req)
			require.NoError(t, err)
			assert.True(t, p.AcknowledgeRequired())
			assert.Equal(t, []byte(`{"message":"hi"}`), p.Data())
			p.Acknowledge(true)
			return nil
		}

		svc := newService(broker, "proj", "inst", deliver, newTestLogger())
		h, err := svc.Create(context.Background(), validOpts)
		require.NoError(t, err)
		handle = h
		require.NoError(t, h.LaunchApplicationOnPush(context.Background(), true))
		require.NoError(t, h.LaunchApplicationOnPush(context.Background(), true))

		broker.feed <- recorder.delivery("m-1", `{"message":"hi"}`)
		recorder.wait(t)

		assert.Equal(t, 1, recorder.acks)
		assert.Equal(t, 0, recorder.nacks)
		assert.Equal(t, bridge.ActionPushReceived, received.Action)
		assert.Equal(t, "m-1", received.ID)

		require.NoError(t, h.Close())
		assert.Len(t, broker.receivedOn, 1, "receiving starts once")
	})

	t.Run("Unacknowledged delivery is nacked", func(t *testing.T) {
		broker := newFakeBroker()
		recorder := newAckRecorder()
		deliver := func(context.Context, bridge.InvokeRequest) error { return errors.New("no handle") }

		svc := newService(broker, "proj", "inst", deliver, newTestLogger())
		h, _ := svc.Create(context.Background(), validOpts)
		require.NoError(t, h.LaunchApplicationOnPush(context.Background(), true))

		broker.feed <- recorder.delivery("m-2", "x")
		recorder.wait(t)

		assert.Equal(t, 0, recorder.acks)
		assert.Equal(t, 1, recorder.nacks)
		require.NoError(t, h.Close())
	})

	t.Run("Receiving outlives the enabling context", func(t *testing.T) {
		broker := newFakeBroker()
		recorder := newAckRecorder()
		deliver := func(context.Context, bridge.InvokeRequest) error { return nil }

		svc := newService(broker, "proj", "inst", deliver, newTestLogger())
		h, _ := svc.Create(context.Background(), validOpts)

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, h.LaunchApplicationOnPush(ctx, true))
		cancel()

		broker.feed <- recorder.delivery("m-3", "x")
		recorder.wait(t)
		require.NoError(t, h.Close())
	})

	t.Run("Closed handle refuses to launch", func(t *testing.T) {
		svc := newService(newFakeBroker(), "proj", "inst", noDeliver, newTestLogger())
		h, _ := svc.Create(context.Background(), validOpts)
		require.NoError(t, h.Close())

		assert.Error(t, h.LaunchApplicationOnPush(context.Background(), true))
	})
}

func TestExtractPayload_InjectedRequest(t *testing.T) {
	svc := newService(newFakeBroker(), "proj", "inst", noDeliver, newTestLogger())
	h, _ := svc.Create(context.Background(), validOpts)

	p, err := h.ExtractPayload(bridge.InvokeRequest{ID: "local", Action: bridge.ActionPushReceived, Data: []byte("hello")})
	require.NoError(t, err)
	assert.False(t, p.AcknowledgeRequired())
	assert.Equal(t, []byte("hello"), p.Data())
	p.Acknowledge(true)
}
