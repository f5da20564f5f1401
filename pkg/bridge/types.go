package bridge

import (
	"encoding/json"
	"errors"
)

// Action classifies why the application was invoked.
type Action string

const (
	// ActionPushReceived is delivered when a push arrives on the channel.
	ActionPushReceived Action = "bb.action.PUSH"
	// ActionNotificationOpened is delivered when the user opens a displayed notification.
	ActionNotificationOpened Action = "bb.action.OPEN"
)

// InvokeRequest describes an application activation.
type InvokeRequest struct {
	ID     string
	Action Action
	// Data is opaque. For opened notifications it holds the encoded payload
	// attached when the notification was displayed.
	Data []byte
}

// invokeRequestJSON carries Data as text on the wire; both push payloads and
// encoded notification payloads are UTF-8.
type invokeRequestJSON struct {
	ID     string `json:"id,omitempty"`
	Action Action `json:"action"`
	Data   string `json:"data,omitempty"`
}

func (r InvokeRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(invokeRequestJSON{ID: r.ID, Action: r.Action, Data: string(r.Data)})
}

func (r *InvokeRequest) UnmarshalJSON(b []byte) error {
	var wire invokeRequestJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	if wire.Action == "" {
		return errors.New("invoke request has no action")
	}
	r.ID = wire.ID
	r.Action = wire.Action
	r.Data = nil
	if wire.Data != "" {
		r.Data = []byte(wire.Data)
	}
	return nil
}

// PushOptions configures the platform push capability.
type PushOptions struct {
	AppID          string `json:"appId"`
	PPGURL         string `json:"ppgUrl"`
	InvokeTargetID string `json:"invokeTargetId"`
}

// Notification is what the pipeline asks the host to display.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	// Payload is the base64 encoded JSON of the full push payload.
	Payload string `json:"payload"`
}

// EventKind distinguishes structured application events.
type EventKind string

const (
	// EventOpened is emitted when a displayed notification is opened.
	EventOpened EventKind = "opened"
	// EventPush is emitted when a push arrives while the app has been foregrounded.
	EventPush EventKind = "push"
)

// Event is a structured application-level notification event.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Fields map[string]any `json:"fields"`
}

// Field returns a payload field and whether it exists.
func (e Event) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// EventSink receives dispatched application events.
type EventSink func(Event)

// Callback receives the outcome of a host-facing operation exactly once.
// On failure result is the zero value.
type Callback[T any] func(err error, result T)

// Status is the result of subscribe and unsubscribe.
type Status struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}
