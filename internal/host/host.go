// Package host is the process-local application runtime the bridge runs in.
// Resume and invoke signals arrive from the HTTP control surface or the
// invoke ingestion stream; displayed notifications are logged and forwarded.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// ErrNoInvokeHandler is returned when an invoke request arrives before anything listens for it.
var ErrNoInvokeHandler = errors.New("no invoke handler registered")

const historySize = 32

// Displayer mirrors shown notifications to external devices.
type Displayer interface {
	Forward(ctx context.Context, n bridge.Notification) error
}

// Local implements bridge.Host.
type Local struct {
	appName    string
	foreground atomic.Bool
	display    Displayer
	exit       func()
	exitOnce   sync.Once
	logger     *slog.Logger

	mu     sync.RWMutex
	resume []func()
	invoke []bridge.InvokeHandler
	shown  []bridge.Notification
	alerts []string
}

// New returns a host. display may be nil. exit is called at most once.
func New(appName string, foreground bool, display Displayer, exit func(), logger *slog.Logger) *Local {
	h := &Local{
		appName: appName,
		display: display,
		exit:    exit,
		logger:  logger.With("component", "Host"),
	}
	h.foreground.Store(foreground)
	return h
}

func (h *Local) AppName() string { return h.appName }

func (h *Local) IsForeground() bool { return h.foreground.Load() }

func (h *Local) OnResume(handler func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resume = append(h.resume, handler)
}

func (h *Local) OnInvoke(handler bridge.InvokeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invoke = append(h.invoke, handler)
}

// Resume brings the application to the foreground and fires the resume handlers.
func (h *Local) Resume() {
	h.foreground.Store(true)

	h.mu.RLock()
	handlers := append([]func(){}, h.resume...)
	h.mu.RUnlock()

	h.logger.Info("Application resumed", "handlers", len(handlers))
	for _, fn := range handlers {
		fn()
	}
}

// Invoke delivers req to every registered invoke handler.
func (h *Local) Invoke(ctx context.Context, req bridge.InvokeRequest) error {
	h.mu.RLock()
	handlers := append([]bridge.InvokeHandler{}, h.invoke...)
	h.mu.RUnlock()

	if len(handlers) == 0 {
		h.logger.Warn("Dropping invoke request, nothing is listening", "action", req.Action, "invoke_id", req.ID)
		return ErrNoInvokeHandler
	}

	var errs []error
	for _, fn := range handlers {
		if err := fn(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ShowNotification records the notification and mirrors it to the display targets.
// Mirroring failures are logged; the notification still counts as shown.
func (h *Local) ShowNotification(ctx context.Context, n bridge.Notification) error {
	h.mu.Lock()
	h.shown = append(h.shown, n)
	if len(h.shown) > historySize {
		h.shown = h.shown[len(h.shown)-historySize:]
	}
	h.mu.Unlock()

	h.logger.Info("Showing notification", "title", n.Title, "body", n.Body)
	if h.display == nil {
		return nil
	}
	if err := h.display.Forward(ctx, n); err != nil {
		h.logger.Warn("Notification was not mirrored to every target", "err", err)
	}
	return nil
}

// Alert surfaces a user-facing error.
func (h *Local) Alert(message string) {
	h.mu.Lock()
	h.alerts = append(h.alerts, message)
	if len(h.alerts) > historySize {
		h.alerts = h.alerts[len(h.alerts)-historySize:]
	}
	h.mu.Unlock()

	h.logger.Error("Alert", "message", message)
}

func (h *Local) Exit() {
	h.exitOnce.Do(func() {
		h.logger.Info("Application exiting")
		if h.exit != nil {
			h.exit()
		}
	})
}

// Shown returns the most recently shown notifications, oldest first.
func (h *Local) Shown() []bridge.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]bridge.Notification{}, h.shown...)
}

// Alerts returns the most recent alert messages, oldest first.
func (h *Local) Alerts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string{}, h.alerts...)
}
