// ABOUTME: Disconnect reason codes reported by the transport and their classification.
// ABOUTME: Decides whether a closed connection is worth reconnecting or is terminal.

package wire

// Reason identifies why the transport closed a connection. The numeric
// values mirror the status codes the chat network reports on stream close.
type Reason int

const (
	ReasonUnknown            Reason = 0
	ReasonLoggedOut          Reason = 401
	ReasonBadSession         Reason = 500
	ReasonConnectionReplaced Reason = 440
	ReasonConnectionClosed   Reason = 428
	ReasonConnectionLost     Reason = 408
	ReasonRestartRequired    Reason = 515
	ReasonTimedOut           Reason = 503
	ReasonForbidden          Reason = 403
	ReasonUnavailable        Reason = 411
	ReasonDeviceClosed       Reason = 402
)

// String returns a human readable name for logging.
func (r Reason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonBadSession:
		return "bad_session"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonRestartRequired:
		return "restart_required"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonForbidden:
		return "forbidden"
	case ReasonUnavailable:
		return "unavailable"
	case ReasonDeviceClosed:
		return "device_closed"
	default:
		return "unknown"
	}
}

// Class is the reconnection classification of a disconnect reason.
type Class int

const (
	// Terminal means the connection must not be re-established automatically.
	Terminal Class = iota
	// Retryable means the supervisor may schedule a reconnect attempt.
	Retryable
)

// Classify maps a disconnect reason to Retryable or Terminal. Unrecognized
// codes classify as Terminal so a misbehaving transport cannot put a session
// into a reconnect loop.
func Classify(r Reason) Class {
	switch r {
	case ReasonConnectionClosed, ReasonConnectionLost, ReasonRestartRequired, ReasonTimedOut:
		return Retryable
	default:
		return Terminal
	}
}

// CleanLogout reports whether a terminal reason represents a deliberate
// logout rather than a fault. A clean logout leaves the session Disconnected;
// every other terminal reason leaves it in Error.
func CleanLogout(r Reason) bool {
	return r == ReasonLoggedOut
}
