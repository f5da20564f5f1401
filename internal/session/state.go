package session

// State is a Channel Session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	SubscribingChannel
	CreatingRemote
	Subscribed
	UnsubscribingRemote
	DestroyingChannel
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case SubscribingChannel:
		return "subscribing_channel"
	case CreatingRemote:
		return "creating_remote"
	case Subscribed:
		return "subscribed"
	case UnsubscribingRemote:
		return "unsubscribing_remote"
	case DestroyingChannel:
		return "destroying_channel"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
