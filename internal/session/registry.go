// ABOUTME: Session registry providing validated CRUD over durable session records
// ABOUTME: Status and phone mutations are reserved for the connection supervisor

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/waylink/waylink/internal/store"
)

// nameRe matches valid session names: alphanumeric, no spaces.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// digitsRe matches phone numbers already reduced to bare digits.
var digitsRe = regexp.MustCompile(`^[0-9]{7,15}$`)

// Registry is the authoritative map of session id to session record.
// All reads and writes go through the store; callers never touch rows
// directly.
type Registry struct {
	store    store.Store
	maxOwned int
	logger   *slog.Logger
}

// NewRegistry creates a registry backed by the given store. maxOwned
// bounds how many sessions a single owner may hold.
func NewRegistry(st store.Store, maxOwned int) *Registry {
	if maxOwned <= 0 {
		maxOwned = 3
	}
	return &Registry{
		store:    st,
		maxOwned: maxOwned,
		logger:   slog.Default().With("component", "registry"),
	}
}

// Create registers a new session in Idle. The name must be alphanumeric
// and unique per owner; phone, when given, selects the pairing-code flow
// and must be bare digits.
func (r *Registry) Create(ctx context.Context, owner, name, phone string) (*store.Session, error) {
	if !nameRe.MatchString(name) {
		return nil, ErrInvalidName
	}
	if phone != "" && !digitsRe.MatchString(phone) {
		return nil, ErrInvalidPhone
	}

	if _, err := r.store.GetSessionByName(ctx, owner, name); err == nil {
		return nil, store.ErrDuplicateSession
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking session name: %w", err)
	}

	count, err := r.store.CountSessions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	if count >= r.maxOwned {
		return nil, ErrLimitExceeded
	}

	now := time.Now().UTC()
	sess := &store.Session{
		ID:           uuid.NewString(),
		Owner:        owner,
		Name:         name,
		Phone:        phone,
		Status:       store.StatusIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	r.logger.Info("session created", "session_id", sess.ID, "owner", owner, "name", name, "pairing", phone != "")
	return sess, nil
}

// Get returns the session only if it belongs to owner. A session owned
// by someone else reads as absent.
func (r *Registry) Get(ctx context.Context, owner, id string) (*store.Session, error) {
	sess, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Owner != owner {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// List returns all of an owner's sessions, oldest first.
func (r *Registry) List(ctx context.Context, owner string) ([]*store.Session, error) {
	return r.store.ListSessions(ctx, owner)
}

// SetStatus persists a status transition. Supervisor use only.
func (r *Registry) SetStatus(ctx context.Context, id, status string) error {
	if err := r.store.UpdateSessionStatus(ctx, id, status); err != nil {
		return fmt.Errorf("setting status %s: %w", status, err)
	}
	r.logger.Debug("session status", "session_id", id, "status", status)
	return nil
}

// SetPhone persists the phone number resolved by the transport. The
// resolved number overrides any user-supplied value. Supervisor use only.
func (r *Registry) SetPhone(ctx context.Context, id, phone string) error {
	if err := r.store.SetSessionPhone(ctx, id, phone); err != nil {
		return fmt.Errorf("setting phone: %w", err)
	}
	return nil
}

// Touch bumps the session's last-activity timestamp. Best effort.
func (r *Registry) Touch(ctx context.Context, id string) {
	if err := r.store.TouchSession(ctx, id, time.Now().UTC()); err != nil {
		r.logger.Debug("touch failed", "session_id", id, "error", err)
	}
}

// Remove deletes the session record. The caller must have torn down any
// live connection first.
func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.store.DeleteSession(ctx, id)
}
