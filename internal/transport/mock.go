// ABOUTME: In-memory transport implementation for tests and the mock transport mode.
// ABOUTME: Lets callers script connection updates, credentials and inbound messages.

package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrHandleEnded is returned by mock handle operations after End.
var ErrHandleEnded = errors.New("transport handle ended")

// MockProvider is an in-memory Provider. Each Open returns a MockHandle the
// test (or the mock serve mode) can drive by emitting events.
type MockProvider struct {
	mu      sync.Mutex
	handles []*MockHandle

	// OpenErr, when set, makes Open fail.
	OpenErr error

	// PairingCode is returned by RequestPairingCode on opened handles.
	PairingCode string

	// OnOpen, when set, is invoked with each new handle before Open returns.
	OnOpen func(h *MockHandle)
}

// NewMockProvider returns a provider with a default pairing code.
func NewMockProvider() *MockProvider {
	return &MockProvider{PairingCode: "ABCD-1234"}
}

// Open creates a new scriptable handle.
func (p *MockProvider) Open(_ context.Context, auth AuthState, fp Fingerprint) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.OpenErr != nil {
		return nil, p.OpenErr
	}

	h := &MockHandle{
		ID:          uuid.New().String(),
		Auth:        auth,
		Fingerprint: fp,
		pairingCode: p.PairingCode,
		events:      make(chan Event, 64),
	}
	p.handles = append(p.handles, h)
	if p.OnOpen != nil {
		p.OnOpen(h)
	}
	return h, nil
}

// Handles returns all handles opened so far, in order.
func (p *MockProvider) Handles() []*MockHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MockHandle, len(p.handles))
	copy(out, p.handles)
	return out
}

// OpenCount returns how many times Open succeeded.
func (p *MockProvider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// LastHandle returns the most recently opened handle, or nil.
func (p *MockProvider) LastHandle() *MockHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return nil
	}
	return p.handles[len(p.handles)-1]
}

// MockHandle is a scriptable Handle.
type MockHandle struct {
	ID          string
	Auth        AuthState
	Fingerprint Fingerprint

	mu          sync.Mutex
	ended       bool
	loggedOut   bool
	pairingCode string
	sent        []SentMessage
	events      chan Event

	// PairingErr, SendErr and LogoutErr force the corresponding calls to fail.
	PairingErr error
	SendErr    error
	LogoutErr  error
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	Peer    string
	Content Content
}

// Events implements Handle.
func (h *MockHandle) Events() <-chan Event { return h.events }

// Emit delivers an event to the handle's consumer. No-op after End.
func (h *MockHandle) Emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return
	}
	h.events <- ev
}

// EmitOpen is shorthand for a successful connection-open update.
func (h *MockHandle) EmitOpen(phone string) {
	h.Emit(Event{Kind: EventConnectionUpdate, State: StateOpen, Phone: phone})
}

// EmitQR is shorthand for a connection update carrying a QR payload.
func (h *MockHandle) EmitQR(qr string) {
	h.Emit(Event{Kind: EventConnectionUpdate, State: StateConnecting, QR: qr})
}

// RequestPairingCode implements Handle.
func (h *MockHandle) RequestPairingCode(_ context.Context, phoneDigits string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return "", ErrHandleEnded
	}
	if h.PairingErr != nil {
		return "", h.PairingErr
	}
	if phoneDigits == "" {
		return "", errors.New("empty phone number")
	}
	return h.pairingCode, nil
}

// SendMessage implements Handle.
func (h *MockHandle) SendMessage(_ context.Context, peer string, content Content) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return "", ErrHandleEnded
	}
	if h.SendErr != nil {
		return "", h.SendErr
	}
	h.sent = append(h.sent, SentMessage{Peer: peer, Content: content})
	return uuid.New().String(), nil
}

// Sent returns all messages sent through this handle.
func (h *MockHandle) Sent() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

// Logout implements Handle.
func (h *MockHandle) Logout(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return ErrHandleEnded
	}
	if h.LogoutErr != nil {
		return h.LogoutErr
	}
	h.loggedOut = true
	return nil
}

// LoggedOut reports whether Logout completed.
func (h *MockHandle) LoggedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loggedOut
}

// End implements Handle. Closes the event stream; safe to call repeatedly.
func (h *MockHandle) End() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ended {
		h.ended = true
		close(h.events)
	}
	return nil
}

// Ended reports whether End was called.
func (h *MockHandle) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}
