// ABOUTME: Transport Provider collaborator interfaces and event types.
// ABOUTME: Defines the opaque chat-network handle the supervisor drives.

package transport

import (
	"context"
	"fmt"

	"github.com/waylink/waylink/internal/wire"
)

// ConnState is the coarse connection state carried by a connection update.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClose
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClose:
		return "close"
	default:
		return "invalid"
	}
}

// EventKind discriminates the events a handle emits.
type EventKind int

const (
	// EventConnectionUpdate carries State plus optional QR payload and
	// disconnect reason.
	EventConnectionUpdate EventKind = iota
	// EventCredentialsUpdate carries refreshed auth state to persist.
	EventCredentialsUpdate
	// EventMessages carries a batch of inbound messages.
	EventMessages
)

// Event is a single notification from the transport. Which fields are
// meaningful depends on Kind.
type Event struct {
	Kind EventKind

	// Connection update fields.
	State  ConnState
	QR     string      // raw QR payload, empty if none
	Reason wire.Reason // disconnect cause, meaningful when State == StateClose
	Phone  string      // phone number resolved by the network, set on open

	// Credentials update field.
	Credentials []byte

	// Message batch fields.
	Messages []Message
	Live     bool // true for live notifications, false for history sync
}

// Message is one inbound message as delivered by the transport.
type Message struct {
	ID         string
	Peer       string // remote peer identifier (sender for inbound)
	PushName   string // sender display name, may be empty
	FromSelf   bool
	Text       string // plain text body, empty for non-text messages
	Extended   string // extended/quoted text body
	Caption    string // media caption
	MediaKind  string // "image", "video", ... empty for text messages
	TimestampS int64
}

// Content is an outbound message payload.
type Content struct {
	Text string
}

// Fingerprint is the device identity presented to the chat network. It must
// stay stable across reconnects of the same session so the remote peer does
// not treat each reconnect as a new linked device.
type Fingerprint struct {
	Client  string
	Agent   string
	Version string
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%s/%s", f.Client, f.Agent, f.Version)
}

// AuthState is the opaque serialized authentication material for a session.
// The supervisor round-trips it through durable storage; only the transport
// understands its contents.
type AuthState []byte

// Handle is one live connection to the chat network.
//
// Events returns the handle's event stream. The channel is closed when the
// handle ends. Events for a single handle are delivered in order; the caller
// must consume them sequentially.
type Handle interface {
	Events() <-chan Event

	// RequestPairingCode asks the network for a pairing code bound to the
	// given phone number (digits only, E.164 without the plus).
	RequestPairingCode(ctx context.Context, phoneDigits string) (string, error)

	// SendMessage delivers content to a peer and returns the message id.
	SendMessage(ctx context.Context, peer string, content Content) (string, error)

	// Logout performs a graceful logout against the network.
	Logout(ctx context.Context) error

	// End closes the handle unconditionally and releases its resources.
	// Safe to call after Logout and safe to call more than once.
	End() error
}

// Provider opens connections to the chat network.
type Provider interface {
	Open(ctx context.Context, auth AuthState, fp Fingerprint) (Handle, error)
}
