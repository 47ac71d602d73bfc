// ABOUTME: HTTP API handlers for session, agent, and auto-response management
// ABOUTME: All responses use a uniform success/error envelope with stable error codes

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waylink/waylink/internal/agents"
	"github.com/waylink/waylink/internal/auth"
	"github.com/waylink/waylink/internal/credcache"
	"github.com/waylink/waylink/internal/session"
	"github.com/waylink/waylink/internal/store"
)

// Stable error codes returned in the error envelope.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeSessionExists     = "SESSION_ALREADY_EXISTS"
	CodeAlreadyConnecting = "SESSION_ALREADY_CONNECTING"
	CodeNotConnected      = "SESSION_NOT_CONNECTED"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeQRNotAvailable    = "QR_NOT_AVAILABLE"
	CodePairingNotFound   = "PAIRING_CODE_NOT_FOUND"
	CodeAgentNotFound     = "AGENT_NOT_FOUND"
	CodeAgentExists       = "AGENT_ALREADY_EXISTS"
	CodeKeyNotFound       = "API_KEY_NOT_FOUND"
	CodeSendFailed        = "MESSAGE_SEND_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// apiError is the error half of the response envelope.
type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// envelope wraps every API response.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &apiError{
			Code:      code,
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// sessionError maps session and store errors to envelope responses.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeSessionNotFound, "session not found")
	case errors.Is(err, store.ErrDuplicateSession):
		writeError(w, http.StatusConflict, CodeSessionExists, "a session with this name already exists")
	case errors.Is(err, session.ErrInvalidName):
		writeError(w, http.StatusBadRequest, CodeValidation, "session name must be alphanumeric")
	case errors.Is(err, session.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, CodeValidation, "phone must be 7-15 digits")
	case errors.Is(err, session.ErrLimitExceeded):
		writeError(w, http.StatusTooManyRequests, CodeLimitExceeded, "session limit reached for this account")
	case errors.Is(err, session.ErrAlreadyConnecting):
		writeError(w, http.StatusConflict, CodeAlreadyConnecting, "session already has a pending or live connection")
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusBadRequest, CodeNotConnected, "session is not connected")
	default:
		s.logger.Error("session operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

// SessionResponse is the JSON shape for a session.
type SessionResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity,omitempty"`
}

func sessionResponse(sess *store.Session) SessionResponse {
	resp := SessionResponse{
		ID:        sess.ID,
		Name:      sess.Name,
		Phone:     sess.Phone,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
	}
	if !sess.LastActivity.IsZero() {
		resp.LastActivity = sess.LastActivity.Format(time.RFC3339)
	}
	return resp
}

// CreateSessionRequest is the JSON body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}

	sess, err := s.registry.Create(r.Context(), id.Owner, req.Name, req.Phone)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sessionResponse(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	sessions, err := s.registry.List(r.Context(), id.Owner)
	if err != nil {
		s.sessionError(w, err)
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, sessionResponse(sess))
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	sess, err := s.registry.Get(r.Context(), id.Owner, chi.URLParam(r, "id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeData(w, http.StatusOK, sessionResponse(sess))
}

// ConnectResponse acknowledges a connect request and tells the caller
// which credential endpoint to poll next.
type ConnectResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleConnectSession(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	sess, err := s.supervisor.Connect(r.Context(), id.Owner, chi.URLParam(r, "id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}

	msg := "Generating QR code..."
	if sess.Phone != "" {
		msg = "Generating pairing code..."
	}
	writeData(w, http.StatusOK, ConnectResponse{Status: sess.Status, Message: msg})
}

func (s *Server) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if err := s.supervisor.Disconnect(r.Context(), id.Owner, chi.URLParam(r, "id")); err != nil {
		s.sessionError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": store.StatusDisconnected})
}

func (s *Server) handleLogoutSession(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if err := s.supervisor.Teardown(r.Context(), id.Owner, chi.URLParam(r, "id")); err != nil {
		s.sessionError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": store.StatusDisconnected})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if err := s.supervisor.Delete(r.Context(), id.Owner, chi.URLParam(r, "id")); err != nil {
		s.sessionError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// CredentialResponse is the JSON shape for a pending QR or pairing code.
type CredentialResponse struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Phone     string `json:"phone,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

func credentialResponse(cred credcache.Credential) CredentialResponse {
	return CredentialResponse{
		SessionID: cred.SessionID,
		Kind:      cred.Kind.String(),
		Value:     cred.Value,
		Phone:     cred.Phone,
		ExpiresAt: cred.ExpiresAt.Format(time.RFC3339),
	}
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	cred, err := s.supervisor.Credential(r.Context(), id.Owner, chi.URLParam(r, "id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	if cred.Kind != credcache.KindQR {
		writeError(w, http.StatusNotFound, CodeQRNotAvailable, "no QR code pending for this session")
		return
	}
	writeData(w, http.StatusOK, credentialResponse(cred))
}

func (s *Server) handleSessionPairingCode(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	cred, err := s.supervisor.Credential(r.Context(), id.Owner, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		// Distinguish missing session from missing code
		if _, regErr := s.registry.Get(r.Context(), id.Owner, chi.URLParam(r, "id")); regErr != nil {
			s.sessionError(w, regErr)
			return
		}
		writeError(w, http.StatusNotFound, CodePairingNotFound, "no pairing code pending for this session")
		return
	}
	if err != nil {
		s.sessionError(w, err)
		return
	}
	if cred.Kind != credcache.KindPairing {
		writeError(w, http.StatusNotFound, CodePairingNotFound, "no pairing code pending for this session")
		return
	}
	writeData(w, http.StatusOK, credentialResponse(cred))
}

// SendMessageRequest is the JSON body for POST /api/v1/sessions/{id}/send-message.
type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	if req.To == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "to and text are required")
		return
	}

	msgID, err := s.supervisor.Send(r.Context(), id.Owner, chi.URLParam(r, "id"), req.To, req.Text)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotConnected):
		s.sessionError(w, err)
		return
	default:
		s.logger.Error("message send failed", "session_id", chi.URLParam(r, "id"), "error", err)
		writeError(w, http.StatusInternalServerError, CodeSendFailed, "message could not be delivered")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"message_id": msgID})
}

// MessageResponse is the JSON shape for one history entry.
type MessageResponse struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Peer      string `json:"peer"`
	PushName  string `json:"push_name,omitempty"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	// Ownership check before touching history
	if _, err := s.registry.Get(r.Context(), id.Owner, sessionID); err != nil {
		s.sessionError(w, err)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, CodeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 1000 {
			limit = 1000
		}
	}

	messages, err := s.store.ListMessages(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("listing messages", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	resp := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		resp = append(resp, MessageResponse{
			ID:        msg.ID,
			Direction: msg.Direction,
			Peer:      msg.Peer,
			PushName:  msg.PushName,
			Body:      msg.Body,
			Kind:      msg.Kind,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		})
	}
	writeData(w, http.StatusOK, resp)
}

// AgentRequest is the JSON body for creating or updating an agent.
type AgentRequest struct {
	Name      string         `json:"name"`
	Prompt    string         `json:"prompt"`
	Triggers  []string       `json:"triggers"`
	Knowledge []store.QAPair `json:"knowledge"`
	IsActive  *bool          `json:"is_active"`
}

// AgentResponse is the JSON shape for an agent.
type AgentResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Prompt     string         `json:"prompt"`
	Triggers   []string       `json:"triggers"`
	Knowledge  []store.QAPair `json:"knowledge"`
	IsActive   bool           `json:"is_active"`
	UsageCount int64          `json:"usage_count"`
	LastUsedAt string         `json:"last_used_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func agentResponse(agent *store.Agent) AgentResponse {
	resp := AgentResponse{
		ID:         agent.ID,
		Name:       agent.Name,
		Prompt:     agent.Prompt,
		Triggers:   agent.Triggers,
		Knowledge:  agent.Knowledge,
		IsActive:   agent.IsActive,
		UsageCount: agent.UsageCount,
		CreatedAt:  agent.CreatedAt.Format(time.RFC3339),
	}
	if agent.LastUsedAt != nil {
		resp.LastUsedAt = agent.LastUsedAt.Format(time.RFC3339)
	}
	return resp
}

// agentError maps agent errors to envelope responses.
func (s *Server) agentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeAgentNotFound, "agent not found")
	case errors.Is(err, store.ErrDuplicateAgent):
		writeError(w, http.StatusConflict, CodeAgentExists, "an agent with this name already exists")
	case errors.Is(err, agents.ErrInvalidAgent):
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error())
	default:
		s.logger.Error("agent operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	agent, err := s.directory.Create(r.Context(), id.Owner, req.Name, req.Prompt, req.Triggers, req.Knowledge, active)
	if err != nil {
		s.agentError(w, err)
		return
	}
	writeData(w, http.StatusCreated, agentResponse(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	list, err := s.directory.List(r.Context(), id.Owner)
	if err != nil {
		s.agentError(w, err)
		return
	}

	resp := make([]AgentResponse, 0, len(list))
	for _, agent := range list {
		resp = append(resp, agentResponse(agent))
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	agent, err := s.directory.Get(r.Context(), id.Owner, chi.URLParam(r, "id"))
	if err != nil {
		s.agentError(w, err)
		return
	}
	writeData(w, http.StatusOK, agentResponse(agent))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	agent, err := s.directory.Get(r.Context(), id.Owner, chi.URLParam(r, "id"))
	if err != nil {
		s.agentError(w, err)
		return
	}

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}

	agent.Name = req.Name
	agent.Prompt = req.Prompt
	agent.Triggers = req.Triggers
	agent.Knowledge = req.Knowledge
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}

	if err := s.directory.Update(r.Context(), id.Owner, agent); err != nil {
		s.agentError(w, err)
		return
	}
	writeData(w, http.StatusOK, agentResponse(agent))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if err := s.directory.Delete(r.Context(), id.Owner, chi.URLParam(r, "id")); err != nil {
		s.agentError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// AutoResponseRequest is the JSON body for PUT /api/v1/auto-response/config.
type AutoResponseRequest struct {
	Enabled bool   `json:"enabled"`
	Keyword string `json:"keyword"`
	Prompt  string `json:"prompt"`
}

// AutoResponseResponse is the JSON shape for the default-trigger settings.
type AutoResponseResponse struct {
	Enabled   bool   `json:"enabled"`
	Keyword   string `json:"keyword"`
	Prompt    string `json:"prompt"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (s *Server) handleGetAutoResponse(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	cfg, err := s.store.GetAutoResponse(r.Context(), id.Owner)
	if errors.Is(err, store.ErrNotFound) {
		writeData(w, http.StatusOK, AutoResponseResponse{Enabled: false})
		return
	}
	if err != nil {
		s.logger.Error("loading auto-response config", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	writeData(w, http.StatusOK, AutoResponseResponse{
		Enabled:   cfg.Enabled,
		Keyword:   cfg.Keyword,
		Prompt:    cfg.Prompt,
		UpdatedAt: cfg.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handlePutAutoResponse(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req AutoResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	if req.Enabled && req.Keyword == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "keyword is required when enabled")
		return
	}

	cfg := &store.AutoResponseConfig{
		Owner:     id.Owner,
		Enabled:   req.Enabled,
		Keyword:   req.Keyword,
		Prompt:    req.Prompt,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.PutAutoResponse(r.Context(), cfg); err != nil {
		s.logger.Error("saving auto-response config", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	writeData(w, http.StatusOK, AutoResponseResponse{
		Enabled:   cfg.Enabled,
		Keyword:   cfg.Keyword,
		Prompt:    cfg.Prompt,
		UpdatedAt: cfg.UpdatedAt.Format(time.RFC3339),
	})
}

// TestAutoResponseRequest is the JSON body for POST /api/v1/auto-response/test.
type TestAutoResponseRequest struct {
	Text string `json:"text"`
}

// TestAutoResponseResponse reports how an inbound text would be answered.
type TestAutoResponseResponse struct {
	Matched bool   `json:"matched"`
	Agent   string `json:"agent,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

func (s *Server) handleTestAutoResponse(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req TestAutoResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "text is required")
		return
	}

	reply, agentName, err := s.responder.Preview(r.Context(), id.Owner, req.Text)
	if err != nil {
		s.logger.Error("auto-response preview failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	writeData(w, http.StatusOK, TestAutoResponseResponse{
		Matched: reply != "",
		Agent:   agentName,
		Reply:   reply,
	})
}

// CreateKeyRequest is the JSON body for POST /api/v1/keys.
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// KeyResponse is the JSON shape for an API key. Key is only set on creation.
type KeyResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Key        string `json:"key,omitempty"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "name is required")
		return
	}

	plaintext, record, err := auth.MintKey(id.Owner, req.Name)
	if err != nil {
		s.logger.Error("minting API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	if err := s.store.CreateAPIKey(r.Context(), record); err != nil {
		s.logger.Error("saving API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	writeData(w, http.StatusCreated, KeyResponse{
		ID:        record.ID,
		Name:      record.Name,
		Key:       plaintext,
		CreatedAt: record.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	keys, err := s.store.ListAPIKeys(r.Context(), id.Owner)
	if err != nil {
		s.logger.Error("listing API keys", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	resp := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		kr := KeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt.Format(time.RFC3339),
		}
		if key.LastUsedAt != nil {
			kr.LastUsedAt = key.LastUsedAt.Format(time.RFC3339)
		}
		resp = append(resp, kr)
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	keyID := chi.URLParam(r, "id")

	key, err := s.store.GetAPIKey(r.Context(), keyID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && key.Owner != id.Owner) {
		writeError(w, http.StatusNotFound, CodeKeyNotFound, "API key not found")
		return
	}
	if err != nil {
		s.logger.Error("loading API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	if err := s.store.DeleteAPIKey(r.Context(), keyID); err != nil {
		s.logger.Error("deleting API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleSystemReset(w http.ResponseWriter, r *http.Request) {
	closed := s.supervisor.Reset(r.Context())
	s.logger.Info("system reset", "connections_closed", closed)
	writeData(w, http.StatusOK, map[string]int{"connections_closed": closed})
}

// handleHealth reports liveness plus connection counts. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connections, queued := s.supervisor.Counts()
	writeData(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"connections": connections,
		"queued":      queued,
	})
}
