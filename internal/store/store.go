// ABOUTME: Store interface and data types for waylink persistence
// ABOUTME: Defines Session, Agent, APIKey structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session whose
// name is already taken by the same owner
var ErrDuplicateSession = errors.New("session already exists")

// ErrDuplicateAgent is returned when trying to create an agent whose
// name is already taken by the same owner
var ErrDuplicateAgent = errors.New("agent already exists")

// Session status values persisted in the sessions table
const (
	StatusIdle         = "idle"
	StatusConnecting   = "connecting"
	StatusPairing      = "pairing"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Session represents one WhatsApp link slot owned by a user
type Session struct {
	ID           string
	Owner        string
	Name         string
	Phone        string // E.164 digits, empty until the link completes
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActivity time.Time
}

// QAPair is one knowledge question/answer entry on an agent
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Agent represents a configured auto-responder persona
type Agent struct {
	ID         string
	Owner      string
	Name       string
	Prompt     string
	Triggers   []string // action trigger keywords, matched first
	Knowledge  []QAPair
	IsActive   bool
	UsageCount int64
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// APIKey represents a hashed service credential. The plaintext secret is
// only shown once at creation time and never stored.
type APIKey struct {
	ID         string
	Owner      string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// AutoResponseConfig holds an owner's default-trigger settings: when no
// agent keyword matches, messages starting with Keyword still get a reply.
type AutoResponseConfig struct {
	Owner     string
	Enabled   bool
	Keyword   string
	Prompt    string
	UpdatedAt time.Time
}

// Message direction values
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

// MessageRecord is one message kept for history/audit purposes
type MessageRecord struct {
	ID        string
	SessionID string
	Direction string // "in" or "out"
	Peer      string
	PushName  string
	Body      string
	Kind      string // "text", "extended", "caption", ...
	CreatedAt time.Time
}

// Store defines the interface for waylink persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByName(ctx context.Context, owner, name string) (*Session, error)
	ListSessions(ctx context.Context, owner string) ([]*Session, error)
	CountSessions(ctx context.Context, owner string) (int, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
	SetSessionPhone(ctx context.Context, id, phone string) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	ListConnectedIdleSince(ctx context.Context, cutoff time.Time) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Auth state blobs (opaque transport credentials, one per session)
	SaveAuthState(ctx context.Context, sessionID string, blob []byte) error
	GetAuthState(ctx context.Context, sessionID string) ([]byte, error)
	DeleteAuthState(ctx context.Context, sessionID string) error

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, owner string) ([]*Agent, error)
	ListActiveAgents(ctx context.Context, owner string) ([]*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error
	RecordAgentUse(ctx context.Context, id string, at time.Time) error

	// API keys
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	// Auto-response config (one row per owner)
	GetAutoResponse(ctx context.Context, owner string) (*AutoResponseConfig, error)
	PutAutoResponse(ctx context.Context, cfg *AutoResponseConfig) error

	// Message history
	SaveMessage(ctx context.Context, msg *MessageRecord) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*MessageRecord, error)

	// Close the store
	Close() error
}
