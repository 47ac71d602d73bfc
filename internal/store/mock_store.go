// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu           sync.RWMutex
	sessions     map[string]*Session            // keyed by session ID
	sessionIndex map[string]string              // keyed by "owner:name" -> session ID
	authState    map[string][]byte              // keyed by session ID
	agents       map[string]*Agent              // keyed by agent ID
	apiKeys      map[string]*APIKey             // keyed by key ID
	autoResponse map[string]*AutoResponseConfig // keyed by owner
	messages     map[string][]*MessageRecord    // keyed by session ID

	// Fault injection: when set, every mutating call returns this error.
	FailWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:     make(map[string]*Session),
		sessionIndex: make(map[string]string),
		authState:    make(map[string][]byte),
		agents:       make(map[string]*Agent),
		apiKeys:      make(map[string]*APIKey),
		autoResponse: make(map[string]*AutoResponseConfig),
		messages:     make(map[string][]*MessageRecord),
	}
}

func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	key := session.Owner + ":" + session.Name
	if _, exists := m.sessionIndex[key]; exists {
		return ErrDuplicateSession
	}

	s := *session
	m.sessions[s.ID] = &s
	m.sessionIndex[key] = s.ID
	return nil
}

func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := *sess
	return &s, nil
}

func (m *MockStore) GetSessionByName(ctx context.Context, owner, name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.sessionIndex[owner+":"+name]
	if !ok {
		return nil, ErrNotFound
	}
	s := *m.sessions[id]
	return &s, nil
}

func (m *MockStore) ListSessions(ctx context.Context, owner string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, sess := range m.sessions {
		if sess.Owner == owner {
			s := *sess
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) CountSessions(ctx context.Context, owner string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, sess := range m.sessions {
		if sess.Owner == owner {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	sess.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) SetSessionPhone(ctx context.Context, id, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Phone = phone
	sess.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivity = at
	return nil
}

func (m *MockStore) ListConnectedIdleSince(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, sess := range m.sessions {
		if sess.Status == StatusConnected && sess.LastActivity.Before(cutoff) {
			s := *sess
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.sessionIndex, sess.Owner+":"+sess.Name)
	delete(m.sessions, id)
	delete(m.authState, id)
	delete(m.messages, id)
	return nil
}

func (m *MockStore) SaveAuthState(ctx context.Context, sessionID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.authState[sessionID] = cp
	return nil
}

func (m *MockStore) GetAuthState(ctx context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.authState[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

func (m *MockStore) DeleteAuthState(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.authState, sessionID)
	return nil
}

func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	for _, a := range m.agents {
		if a.Owner == agent.Owner && a.Name == agent.Name {
			return ErrDuplicateAgent
		}
	}
	a := cloneAgent(agent)
	m.agents[a.ID] = a
	return nil
}

func cloneAgent(agent *Agent) *Agent {
	a := *agent
	a.Triggers = append([]string(nil), agent.Triggers...)
	a.Knowledge = append([]QAPair(nil), agent.Knowledge...)
	if agent.LastUsedAt != nil {
		t := *agent.LastUsedAt
		a.LastUsedAt = &t
	}
	return &a
}

func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (m *MockStore) ListAgents(ctx context.Context, owner string) ([]*Agent, error) {
	return m.listAgents(owner, false)
}

func (m *MockStore) ListActiveAgents(ctx context.Context, owner string) ([]*Agent, error) {
	return m.listAgents(owner, true)
}

func (m *MockStore) listAgents(owner string, activeOnly bool) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Agent
	for _, agent := range m.agents {
		if agent.Owner != owner {
			continue
		}
		if activeOnly && !agent.IsActive {
			continue
		}
		out = append(out, cloneAgent(agent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	existing, ok := m.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	updated := cloneAgent(agent)
	updated.Owner = existing.Owner
	updated.UsageCount = existing.UsageCount
	updated.LastUsedAt = existing.LastUsedAt
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	m.agents[agent.ID] = updated
	return nil
}

func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

func (m *MockStore) RecordAgentUse(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	agent, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	agent.UsageCount++
	t := at
	agent.LastUsedAt = &t
	return nil
}

func (m *MockStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	k := *key
	m.apiKeys[k.ID] = &k
	return nil
}

func (m *MockStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	k := *key
	return &k, nil
}

func (m *MockStore) ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*APIKey
	for _, key := range m.apiKeys {
		if key.Owner == owner {
			k := *key
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.apiKeys[id]; !ok {
		return ErrNotFound
	}
	delete(m.apiKeys, id)
	return nil
}

func (m *MockStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	key.LastUsedAt = &t
	return nil
}

func (m *MockStore) GetAutoResponse(ctx context.Context, owner string) (*AutoResponseConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.autoResponse[owner]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cfg
	return &c, nil
}

func (m *MockStore) PutAutoResponse(ctx context.Context, cfg *AutoResponseConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	c := *cfg
	m.autoResponse[c.Owner] = &c
	return nil
}

func (m *MockStore) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	r := *msg
	m.messages[r.SessionID] = append(m.messages[r.SessionID], &r)
	return nil
}

func (m *MockStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	records := m.messages[sessionID]
	var out []*MessageRecord
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		r := *records[i]
		out = append(out, &r)
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}
