package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, req bridge.InvokeRequest) error {
	return m.Called(ctx, req).Error(0)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	req := &bridge.InvokeRequest{ID: "inv-1", Action: bridge.ActionPushReceived, Data: []byte("x")}

	t.Run("Forwards request", func(t *testing.T) {
		invoker := new(mockInvoker)
		invoker.On("Invoke", mock.Anything, *req).Return(nil).Once()

		processor := pipeline.NewProcessor(invoker, newTestLogger())
		require.NoError(t, processor(ctx, messagepipeline.Message{}, req))
		invoker.AssertExpectations(t)
	})

	t.Run("Failure is returned for retry", func(t *testing.T) {
		invoker := new(mockInvoker)
		invoker.On("Invoke", mock.Anything, *req).Return(errors.New("display down"))

		processor := pipeline.NewProcessor(invoker, newTestLogger())
		assert.Error(t, processor(ctx, messagepipeline.Message{}, req))
	})

	t.Run("Corrupt payload is dropped", func(t *testing.T) {
		invoker := new(mockInvoker)
		invoker.On("Invoke", mock.Anything, *req).Return(&bridge.PayloadDecodeError{Err: errors.New("bad")})

		processor := pipeline.NewProcessor(invoker, newTestLogger())
		assert.NoError(t, processor(ctx, messagepipeline.Message{}, req))
	})
}

func TestInvokeRequestTransformerProcessorSuite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectedID            string
		expectedAction        bridge.Action
		expectError           bool
		expectedErrorContains string
	}{
		{
			name: "Happy Path - Push",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(`{"id":"inv-9","action":"bb.action.PUSH","data":"hello"}`)},
			},
			expectedID:     "inv-9",
			expectedAction: bridge.ActionPushReceived,
		},
		{
			name: "Missing ID inherits message ID",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-2", Payload: []byte(`{"action":"bb.action.OPEN","data":"e30="}`)},
			},
			expectedID:     "msg-2",
			expectedAction: bridge.ActionNotificationOpened,
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-3", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal invoke request",
		},
		{
			name: "Failure - Missing action",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-4", Payload: []byte(`{"id":"x"}`)},
			},
			expectError:           true,
			expectedErrorContains: "no action",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, skip, err := pipeline.InvokeRequestTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, tc.expectedID, req.ID)
			assert.Equal(t, tc.expectedAction, req.Action)
		})
	}
}
