// ABOUTME: Agent directory providing validated CRUD over configured responder agents
// ABOUTME: Usage counter updates are best effort and never block message handling

package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waylink/waylink/internal/store"
)

// ErrInvalidAgent is returned when an agent definition fails validation
var ErrInvalidAgent = errors.New("invalid agent")

// Directory exposes the configured agents for an owner. The responder
// reads from it; the HTTP layer writes through it.
type Directory struct {
	store  store.Store
	logger *slog.Logger
}

// NewDirectory creates a directory backed by the given store.
func NewDirectory(st store.Store) *Directory {
	return &Directory{
		store:  st,
		logger: slog.Default().With("component", "agents"),
	}
}

func validate(agent *store.Agent) error {
	if strings.TrimSpace(agent.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	for _, trigger := range agent.Triggers {
		if strings.TrimSpace(trigger) == "" {
			return fmt.Errorf("%w: empty trigger keyword", ErrInvalidAgent)
		}
	}
	for _, qa := range agent.Knowledge {
		if strings.TrimSpace(qa.Question) == "" {
			return fmt.Errorf("%w: knowledge entry without question", ErrInvalidAgent)
		}
	}
	return nil
}

// Create registers a new agent, active by default.
func (d *Directory) Create(ctx context.Context, owner, name, prompt string, triggers []string, knowledge []store.QAPair, active bool) (*store.Agent, error) {
	now := time.Now().UTC()
	agent := &store.Agent{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      strings.TrimSpace(name),
		Prompt:    prompt,
		Triggers:  triggers,
		Knowledge: knowledge,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validate(agent); err != nil {
		return nil, err
	}
	if err := d.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	d.logger.Info("agent created", "agent_id", agent.ID, "owner", owner, "name", agent.Name)
	return agent, nil
}

// Get returns an agent only if it belongs to owner.
func (d *Directory) Get(ctx context.Context, owner, id string) (*store.Agent, error) {
	agent, err := d.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Owner != owner {
		return nil, store.ErrNotFound
	}
	return agent, nil
}

// List returns all of an owner's agents, oldest first.
func (d *Directory) List(ctx context.Context, owner string) ([]*store.Agent, error) {
	return d.store.ListAgents(ctx, owner)
}

// ListActive returns the owner's active agents in creation order, the
// order the matcher walks them in.
func (d *Directory) ListActive(ctx context.Context, owner string) ([]*store.Agent, error) {
	return d.store.ListActiveAgents(ctx, owner)
}

// Update rewrites an agent's mutable fields.
func (d *Directory) Update(ctx context.Context, owner string, agent *store.Agent) error {
	existing, err := d.Get(ctx, owner, agent.ID)
	if err != nil {
		return err
	}
	agent.Owner = existing.Owner
	if err := validate(agent); err != nil {
		return err
	}
	return d.store.UpdateAgent(ctx, agent)
}

// Delete removes an agent.
func (d *Directory) Delete(ctx context.Context, owner, id string) error {
	if _, err := d.Get(ctx, owner, id); err != nil {
		return err
	}
	return d.store.DeleteAgent(ctx, id)
}

// RecordUse bumps an agent's usage counter. Failures are logged and
// swallowed; counters must never block message handling.
func (d *Directory) RecordUse(ctx context.Context, id string) {
	if err := d.store.RecordAgentUse(ctx, id, time.Now().UTC()); err != nil {
		d.logger.Debug("recording agent use", "agent_id", id, "error", err)
	}
}
