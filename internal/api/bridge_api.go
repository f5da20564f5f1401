// Package api is the HTTP control surface of the push bridge.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// Controller is the host-facing bridge surface.
type Controller interface {
	Subscribe(cb bridge.Callback[bridge.Status])
	Unsubscribe(cb bridge.Callback[bridge.Status])
	IsUserNotificationsEnabled(cb bridge.Callback[bool])
	LastLaunchNotification() (map[string]any, bool)
	State() string
}

// Runtime receives host signals.
type Runtime interface {
	Resume()
	Invoke(ctx context.Context, req bridge.InvokeRequest) error
}

type BridgeAPI struct {
	Bridge  Controller
	Runtime Runtime
	Logger  *slog.Logger
}

func NewBridgeAPI(b Controller, rt Runtime, logger *slog.Logger) *BridgeAPI {
	return &BridgeAPI{
		Bridge:  b,
		Runtime: rt,
		Logger:  logger,
	}
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	Enabled bool   `json:"enabled"`
	State   string `json:"state"`
}

type result[T any] struct {
	err error
	val T
}

// await blocks until cb fires or the client goes away.
func await[T any](r *http.Request, start func(bridge.Callback[T])) (T, error) {
	done := make(chan result[T], 1)
	start(func(err error, v T) {
		done <- result[T]{err: err, val: v}
	})
	select {
	case res := <-done:
		return res.val, res.err
	case <-r.Context().Done():
		var zero T
		return zero, r.Context().Err()
	}
}

func (api *BridgeAPI) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func (api *BridgeAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.caller(w, r)
	if !ok {
		return
	}

	st, err := await(r, api.Bridge.Subscribe)
	if err != nil {
		api.Logger.Error("Subscribe failed", "user", userID, "err", err)
		writeBridgeError(w, err)
		return
	}
	api.Logger.Info("Subscribed", "user", userID)
	writeJSON(w, http.StatusOK, st)
}

func (api *BridgeAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.caller(w, r)
	if !ok {
		return
	}

	st, err := await(r, api.Bridge.Unsubscribe)
	if err != nil {
		api.Logger.Error("Unsubscribe failed", "user", userID, "err", err)
		writeBridgeError(w, err)
		return
	}
	api.Logger.Info("Unsubscribed", "user", userID)
	writeJSON(w, http.StatusOK, st)
}

func (api *BridgeAPI) Status(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.caller(w, r); !ok {
		return
	}

	enabled, err := await(r, api.Bridge.IsUserNotificationsEnabled)
	if err != nil {
		api.Logger.Error("Status check failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Enabled: enabled, State: api.Bridge.State()})
}

// Invoke injects an invoke request, as the platform would on activation.
func (api *BridgeAPI) Invoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.caller(w, r); !ok {
		return
	}

	var req bridge.InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Warn("Invoke: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid invoke request")
		return
	}

	if err := api.Runtime.Invoke(r.Context(), req); err != nil {
		api.Logger.Error("Invoke failed", "action", req.Action, "err", err)
		var decodeErr *bridge.PayloadDecodeError
		if errors.As(err, &decodeErr) {
			response.WriteJSONError(w, http.StatusUnprocessableEntity, "corrupt notification payload")
			return
		}
		response.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (api *BridgeAPI) Resume(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.caller(w, r); !ok {
		return
	}
	api.Runtime.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (api *BridgeAPI) LaunchNotification(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.caller(w, r); !ok {
		return
	}
	fields, ok := api.Bridge.LastLaunchNotification()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// writeBridgeError maps the bridge error taxonomy onto status codes.
func writeBridgeError(w http.ResponseWriter, err error) {
	var transportErr *bridge.TransportError
	var platformErr *bridge.PlatformError
	switch {
	case errors.Is(err, bridge.ErrConfigurationMissing):
		response.WriteJSONError(w, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &transportErr):
		response.WriteJSONError(w, http.StatusBadGateway, transportErr.Error())
	case errors.As(err, &platformErr):
		response.WriteJSONError(w, http.StatusServiceUnavailable, platformErr.Message())
	case errors.Is(err, bridge.ErrOperationInProgress):
		response.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
