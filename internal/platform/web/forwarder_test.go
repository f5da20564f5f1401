package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

// newBrowserTarget generates the key pair a browser would register with.
func newBrowserTarget(t *testing.T, endpoint string) config.WebTarget {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	return config.WebTarget{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(secret),
	}
}

func TestForward_Lifecycle(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	valid := newBrowserTarget(t, mockServer.URL+"/success")
	expired := newBrowserTarget(t, mockServer.URL+"/expired")
	rejected := newBrowserTarget(t, mockServer.URL+"/error")

	forwarder := web.NewForwarder(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "mailto:test-runner@tinywideclouds.com",
	}, []config.WebTarget{valid, expired, rejected},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		web.WithHTTPClient(mockServer.Client()),
	)

	n := bridge.Notification{Title: "Pinboard", Body: "hi", Payload: "e30="}
	require.NoError(t, forwarder.Forward(context.Background(), n), "rejections are not transport failures")

	remaining := forwarder.Targets()
	require.Len(t, remaining, 2)
	assert.Equal(t, valid.Endpoint, remaining[0].Endpoint)
	assert.Equal(t, rejected.Endpoint, remaining[1].Endpoint)
}

func TestForward_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	forwarder := web.NewForwarder(config.VapidConfig{PrivateKey: privateKey, PublicKey: publicKey},
		[]config.WebTarget{newBrowserTarget(t, server.URL+"/success")},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	err = forwarder.Forward(context.Background(), bridge.Notification{Body: "hi"})
	require.Error(t, err)
	assert.Len(t, forwarder.Targets(), 1, "transport failures do not drop subscriptions")
}

func TestForward_NoTargets(t *testing.T) {
	forwarder := web.NewForwarder(config.VapidConfig{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, forwarder.Forward(context.Background(), bridge.Notification{}))
}
