package controller

// ConnectionState is the controller client's single lifecycle variable.
// The zero value is StateConnecting, the state every Controller starts in.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateFailure
	StateDisconnected
	StateReconnecting
	StateAuthorizing
	StateUnauthorized
	StateActive
	StateSynchronizing
)

// String renders the human-readable form used verbatim in
// CONNECTION_STATUS_CHANGED payloads.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting ..."
	case StateFailure:
		return "Connection Failure"
	case StateDisconnected:
		return "Brain disconnected"
	case StateReconnecting:
		return "Reconnecting to brain ..."
	case StateAuthorizing:
		return "Authorizing ..."
	case StateUnauthorized:
		return "Unauthorized Connection"
	case StateActive:
		return "Connection Active"
	case StateSynchronizing:
		return "Synchronizing ..."
	default:
		return "Unknown"
	}
}

// Event names emitted on a Controller's bus.
const (
	EventWSConnected             = "WS_CONNECTED"
	EventWSClosed                = "WS_CLOSED"
	EventBrainEvent              = "BRAIN_EVENT"
	EventExpressMode             = "EXPRESS_MODE"
	EventPinRequired             = "PIN_REQUIRED"
	EventAuthorized              = "AUTHORIZED"
	EventStatusMessage           = "STATUS_MESSAGE"
	EventWSMessage               = "WS_MESSAGE"
	EventColorMessage            = "COLOR_MESSAGE"
	EventHandsetMessage          = "HANDSET_MESSAGE"
	EventConnectionStatusChanged = "CONNECTION_STATUS_CHANGED"

	// EventStateChanged is emitted per-device, on each Device's own bus.
	EventStateChanged = "STATE_CHANGED"
)

// systemStateSynchronizing lists the system_state_message values that drive
// the controller into StateSynchronizing.
var systemStateSynchronizing = map[string]bool{
	"brain_sync":     true,
	"space_sync":     true,
	"parse_space":    true,
	"upgrading":      true,
	"resources_sync": true,
	"activating":     true,
	"initializing":   true,
}

func isSystemStateActive(state string) bool {
	return state == "active_online" || state == "active_offline"
}

func isSystemStateFailure(state string) bool {
	return state == "inactive" || state == "error"
}
