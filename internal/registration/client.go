// Package registration registers channel tokens with the push provider's
// device_pins endpoint.
package registration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tinywideclouds/go-push-bridge/internal/credentials"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// DefaultEndpoint is the provider's device pin collection.
const DefaultEndpoint = "https://go.urbanairship.com/api/device_pins"

// maxBodyBytes caps how much of a failure response is kept.
const maxBodyBytes = 64 << 10

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for registration calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEndpoint overrides DefaultEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// Client issues idempotent create/delete calls keyed by channel token.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{},
		logger:     logger.With("component", "RegistrationClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates or updates the device pin. 200 and 201 are success.
func (c *Client) Register(ctx context.Context, token string, creds credentials.Credentials) error {
	return c.do(ctx, http.MethodPut, token, creds, http.StatusOK, http.StatusCreated)
}

// Deregister deletes the device pin. Only 204 is success.
func (c *Client) Deregister(ctx context.Context, token string, creds credentials.Credentials) error {
	return c.do(ctx, http.MethodDelete, token, creds, http.StatusNoContent)
}

func (c *Client) do(ctx context.Context, method, token string, creds credentials.Credentials, accept ...int) error {
	if token == "" {
		return fmt.Errorf("%s device pin: empty token", method)
	}
	if !creds.Complete() {
		c.logger.Warn("Provider credentials are not configured", "method", method)
		return fmt.Errorf("%s device pin: app key/secret: %w", method, bridge.ErrConfigurationMissing)
	}

	target := c.endpoint + "/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("%s device pin: create request: %w", method, err)
	}
	req.Header.Set("Authorization", creds.BasicAuth())
	req.Header.Set("Accept", "application/vnd.urbanairship+json; version=3")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s device pin: %w", method, err)
	}
	defer resp.Body.Close()

	for _, code := range accept {
		if resp.StatusCode == code {
			_, _ = io.Copy(io.Discard, resp.Body)
			c.logger.Debug("Device pin call accepted", "method", method, "status", resp.StatusCode)
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.logger.Warn("Device pin call rejected", "method", method, "status", resp.StatusCode)
	return &bridge.TransportError{Status: resp.StatusCode, Body: string(body)}
}
