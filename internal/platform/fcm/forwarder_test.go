package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestForward(t *testing.T) {
	ctx := context.Background()
	n := bridge.Notification{Title: "Pinboard", Body: "hi", Payload: "eyJtZXNzYWdlIjoiaGkifQ=="}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		forwarder := fcm.NewForwarder(mockClient, []string{"token-1", "token-2"}, newTestLogger())

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(msg *messaging.MulticastMessage) bool {
			return msg.Notification.Title == "Pinboard" &&
				msg.Notification.Body == "hi" &&
				msg.Data["payload"] == n.Payload &&
				len(msg.Tokens) == 2
		})).Return(mockResponse, nil)

		require.NoError(t, forwarder.Forward(ctx, n))
		mockClient.AssertExpectations(t)
	})

	t.Run("No tokens skips the call", func(t *testing.T) {
		mockClient := new(MockClient)
		forwarder := fcm.NewForwarder(mockClient, nil, newTestLogger())

		require.NoError(t, forwarder.Forward(ctx, n))
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		forwarder := fcm.NewForwarder(mockClient, []string{"token-1"}, newTestLogger())
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		err := forwarder.Forward(ctx, n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
		assert.Equal(t, []string{"token-1"}, forwarder.Tokens())
	})

	t.Run("Per-token failure is retryable", func(t *testing.T) {
		mockClient := new(MockClient)
		forwarder := fcm.NewForwarder(mockClient, []string{"token-1"}, newTestLogger())
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			FailureCount: 1,
			Responses:    []*messaging.SendResponse{{Success: false, Error: errors.New("unavailable")}},
		}, nil)

		err := forwarder.Forward(ctx, n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 retryable")
	})
}
