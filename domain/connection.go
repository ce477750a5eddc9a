package domain

// ConnectionState is the lifecycle of the per-user socket.
// It is owned by the socket client and observed by everything above it.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Closed is a client-initiated close. Nothing reconnects from here.
	Closed
	// Errored is a dial or transport failure.
	Errored
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsOpen reports whether frames can be written in this state.
func (s ConnectionState) IsOpen() bool {
	return s == Connected
}

// Recoverable reports whether a reconnect attempt makes sense from this state.
func (s ConnectionState) Recoverable() bool {
	return s == Disconnected || s == Errored
}
