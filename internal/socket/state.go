package socket

import "time"

// Status is the externally visible connection status.
type Status string

const (
	// StatusDisconnected means there is no connection and nothing pending.
	// This is the initial status and the status after Disconnect.
	StatusDisconnected Status = "disconnected"

	// StatusConnecting means a dial is in flight or a reconnect attempt
	// is scheduled.
	StatusConnecting Status = "connecting"

	// StatusConnected means the physical connection is open.
	StatusConnected Status = "connected"

	// StatusError means the last connection attempt failed and no retry
	// is pending: either an explicit Connect failed or the automatic
	// reconnect attempts were exhausted.
	StatusError Status = "error"
)

// State is a snapshot of the connection state machine.
type State struct {
	// Status is the current connection status.
	Status Status

	// ReconnectAttempts counts reconnect attempts since the last
	// successful open. It resets to zero when a connection opens and on
	// Disconnect.
	ReconnectAttempts int

	// LastConnected is when the connection last opened successfully.
	// Zero if the client has never connected.
	LastConnected time.Time

	// Err describes the most recent connection error, if any.
	Err string
}

// phase is the internal state machine position. The exported Status is a
// projection of it: both connecting phases report StatusConnecting, and
// phaseIdle reports StatusDisconnected or StatusError depending on whether
// an error is being held.
type phase int

const (
	// phaseIdle: no connection, no dial in flight, no retry scheduled.
	phaseIdle phase = iota

	// phaseConnecting: a dial is in flight (explicit or automatic).
	phaseConnecting

	// phaseOpen: the connection is established and the pumps are running.
	phaseOpen

	// phaseReconnecting: a backoff timer is pending before the next
	// automatic dial.
	phaseReconnecting
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseConnecting:
		return "connecting"
	case phaseOpen:
		return "open"
	case phaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
