package collab

// ConnectionState is the lifecycle state of the transport. Exactly one value
// holds at any instant.
type ConnectionState int32

const (
	// StateDisconnected means no socket exists and nothing is scheduled.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a dial attempt is in flight.
	StateConnecting
	// StateConnected means the socket is open and the heartbeat is running.
	StateConnected
	// StateReconnecting means a backoff retry is pending.
	StateReconnecting
	// StateClosing means a user-initiated disconnect is in progress.
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
