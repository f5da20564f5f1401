// Package bridge contains the public contracts and domain models shared by the
// push bridge components.
package bridge

import (
	"context"
)

// Preferences is the read-only key/value store loaded once at process start.
// Missing keys resolve to ("", false).
type Preferences interface {
	Get(name string) (string, bool)
}

// Storage is the local durable key/value storage used to persist the channel token.
type Storage interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores or replaces the value under key.
	Set(ctx context.Context, key, value string) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// PushService is the platform push capability. Create may fail with a *PlatformError.
type PushService interface {
	Create(ctx context.Context, opts PushOptions) (PushHandle, error)
}

// PushHandle is a live session with the platform push capability.
type PushHandle interface {
	// CreateChannel opens a push channel and returns its token.
	CreateChannel(ctx context.Context) (string, error)
	// DestroyChannel closes the channel owned by this installation.
	DestroyChannel(ctx context.Context) error
	// LaunchApplicationOnPush asks the platform to deliver pushes as invoke requests.
	LaunchApplicationOnPush(ctx context.Context, enabled bool) error
	// ExtractPayload resolves the raw push payload carried by a push-received request.
	ExtractPayload(req InvokeRequest) (PushPayload, error)
	// Close releases the handle.
	Close() error
}

// PushPayload is the raw payload extracted from a push-received request.
type PushPayload interface {
	Data() []byte
	AcknowledgeRequired() bool
	Acknowledge(accepted bool)
}

// InvokeHandler receives every invoke request delivered by the host.
type InvokeHandler func(ctx context.Context, req InvokeRequest) error

// Host is the application runtime the bridge runs inside.
type Host interface {
	// OnResume registers a handler for the host's resume signal.
	OnResume(handler func())
	// OnInvoke registers a handler for invoke requests.
	OnInvoke(handler InvokeHandler)
	// IsForeground reports whether the application window is currently in the foreground.
	IsForeground() bool
	// AppName is used as the title of displayed notifications.
	AppName() string
	// ShowNotification displays a notification to the user.
	ShowNotification(ctx context.Context, n Notification) error
	// Alert surfaces an error message to the user.
	Alert(message string)
	// Exit terminates the application.
	Exit()
}
