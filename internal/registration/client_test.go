package registration_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-bridge/internal/credentials"
	"github.com/tinywideclouds/go-push-bridge/internal/registration"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var validCreds = credentials.Credentials{Key: "key", Secret: "secret"}

func TestRegister_StatusHandling(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		body        string
		expectError bool
	}{
		{name: "Created", status: http.StatusCreated},
		{name: "Updated", status: http.StatusOK},
		{name: "No Content Is Not Success", status: http.StatusNoContent, expectError: true},
		{name: "Unauthorized", status: http.StatusUnauthorized, body: `{"error":"unauthorized"}`, expectError: true},
		{name: "Server Error", status: http.StatusInternalServerError, body: "boom", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/api/device_pins/ABCD1234", r.URL.Path)
				assert.Equal(t, "Basic a2V5OnNlY3JldA==", r.Header.Get("Authorization"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := registration.NewClient(newTestLogger(), registration.WithEndpoint(server.URL+"/api/device_pins/"))
			err := client.Register(context.Background(), "ABCD1234", validCreds)

			if !tc.expectError {
				require.NoError(t, err)
				return
			}
			var transportErr *bridge.TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.Equal(t, tc.status, transportErr.Status)
			assert.Equal(t, tc.body, transportErr.Body)
		})
	}
}

func TestDeregister_StatusHandling(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		expectError bool
	}{
		{name: "No Content", status: http.StatusNoContent},
		{name: "OK Is Not Success", status: http.StatusOK, expectError: true},
		{name: "Not Found", status: http.StatusNotFound, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/device_pins/ABCD1234", r.URL.Path)
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := registration.NewClient(newTestLogger(), registration.WithEndpoint(server.URL+"/device_pins"))
			err := client.Deregister(context.Background(), "ABCD1234", validCreds)

			if tc.expectError {
				var transportErr *bridge.TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, tc.status, transportErr.Status)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRegister_MissingCredentials(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := registration.NewClient(newTestLogger(), registration.WithEndpoint(server.URL))

	err := client.Register(context.Background(), "token", credentials.Credentials{Key: "only-key"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bridge.ErrConfigurationMissing))

	err = client.Deregister(context.Background(), "token", credentials.Credentials{})
	assert.ErrorIs(t, err, bridge.ErrConfigurationMissing)

	assert.Equal(t, int32(0), calls.Load(), "no request should reach the endpoint")
}

func TestRegister_EmptyToken(t *testing.T) {
	client := registration.NewClient(newTestLogger(), registration.WithEndpoint("http://127.0.0.1:0"))
	err := client.Register(context.Background(), "", validCreds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty token")
}

func TestRegister_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := registration.NewClient(newTestLogger(), registration.WithEndpoint(server.URL))
	err := client.Register(context.Background(), "token", validCreds)
	require.Error(t, err)

	var transportErr *bridge.TransportError
	assert.False(t, errors.As(err, &transportErr), "connection failures carry no status")
}

func TestRegister_EscapesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pins/a%2Fb", r.URL.EscapedPath())
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := registration.NewClient(newTestLogger(), registration.WithEndpoint(server.URL+"/pins"))
	require.NoError(t, client.Register(context.Background(), "a/b", validCreds))
}
