// ABOUTME: Sentinel errors for session lifecycle operations
// ABOUTME: Shared between the registry, supervisor, and HTTP layer

package session

import "errors"

// ErrInvalidName is returned when a session name fails validation
var ErrInvalidName = errors.New("invalid session name")

// ErrInvalidPhone is returned when a phone number contains non-digit characters
var ErrInvalidPhone = errors.New("invalid phone number")

// ErrLimitExceeded is returned when an owner is at their session cap
var ErrLimitExceeded = errors.New("session limit exceeded")

// ErrAlreadyConnecting is returned when connect is called on a session
// that already has a live or pending connection
var ErrAlreadyConnecting = errors.New("session already connecting")

// ErrNotConnected is returned when an operation requires a connected session
var ErrNotConnected = errors.New("session not connected")
