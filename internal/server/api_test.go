// ABOUTME: Tests for the HTTP API surface and its response envelope
// ABOUTME: Exercises session lifecycle, agent CRUD, auto-response, and key routes

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waylink/waylink/internal/agents"
	"github.com/waylink/waylink/internal/auth"
	"github.com/waylink/waylink/internal/config"
	"github.com/waylink/waylink/internal/credcache"
	"github.com/waylink/waylink/internal/generator"
	"github.com/waylink/waylink/internal/responder"
	"github.com/waylink/waylink/internal/session"
	"github.com/waylink/waylink/internal/store"
	"github.com/waylink/waylink/internal/transport"
)

type apiFixture struct {
	handler  http.Handler
	store    *store.MockStore
	provider *transport.MockProvider
	sup      *session.Supervisor
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st := store.NewMockStore()
	registry := session.NewRegistry(st, 3)
	provider := transport.NewMockProvider()
	creds := credcache.New()
	t.Cleanup(creds.Close)

	sup := session.NewSupervisor(registry, st, provider, creds, session.Options{
		CredentialTTL:  500 * time.Millisecond,
		ConnectSpacing: time.Millisecond,
		Cooldown:       time.Millisecond,
		BackoffCap:     20 * time.Millisecond,
		LogoutTimeout:  100 * time.Millisecond,
	})

	dir := agents.NewDirectory(st)
	resp := responder.New(st, dir, generator.Static{Reply: "auto-reply"}, responder.Options{})
	sup.SetSink(resp)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	t.Cleanup(func() {
		sup.Shutdown(context.Background())
		cancel()
	})

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
	}
	srv := New(cfg, Deps{
		Store:      st,
		Registry:   registry,
		Supervisor: sup,
		Directory:  dir,
		Responder:  resp,
	})

	return &apiFixture{handler: srv.Router(), store: st, provider: provider, sup: sup}
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env testEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), "response body must be an envelope")
	return rec, env
}

func (f *apiFixture) createSession(t *testing.T, name, phone string) SessionResponse {
	t.Helper()
	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{Name: name, Phone: phone})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	return sess
}

func (f *apiFixture) waitHandle(t *testing.T, count int) *transport.MockHandle {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.provider.OpenCount() >= count
	}, 2*time.Second, 5*time.Millisecond, "transport never opened handle %d", count)
	return f.provider.Handles()[count-1]
}

func TestCreateAndListSessions(t *testing.T) {
	f := newAPIFixture(t)

	sess := f.createSession(t, "main", "")
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "main", sess.Name)
	assert.Equal(t, store.StatusIdle, sess.Status)

	rec, env := f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var list []SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)
}

func TestCreateSession_InvalidName(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{Name: "no spaces!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeValidation, env.Error.Code)
	assert.NotEmpty(t, env.Error.Timestamp)
}

func TestCreateSession_Duplicate(t *testing.T) {
	f := newAPIFixture(t)
	f.createSession(t, "main", "")

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{Name: "main"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeSessionExists, env.Error.Code)
}

func TestCreateSession_LimitExceeded(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		f.createSession(t, fmt.Sprintf("sess%d", i), "")
	}

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{Name: "sess3"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeLimitExceeded, env.Error.Code)
}

func TestSessionStatus_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/sessions/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeSessionNotFound, env.Error.Code)
}

func TestConnectAndFetchQR(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "qr", "")

	rec, env0 := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ack ConnectResponse
	require.NoError(t, json.Unmarshal(env0.Data, &ack))
	assert.Equal(t, store.StatusConnecting, ack.Status)
	assert.Equal(t, "Generating QR code...", ack.Message)

	h := f.waitHandle(t, 1)
	h.EmitQR("qr-payload-1")

	require.Eventually(t, func() bool {
		rec, _ := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/qr", nil)
		return rec.Code == http.StatusOK
	}, 2*time.Second, 5*time.Millisecond)

	rec, env := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cred CredentialResponse
	require.NoError(t, json.Unmarshal(env.Data, &cred))
	assert.Equal(t, "qr-payload-1", cred.Value)
	assert.Equal(t, "qr_code", cred.Kind)

	// No pairing code exists on the QR path
	rec, env = f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/pairing-code", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodePairingNotFound, env.Error.Code)
}

func TestConnect_AlreadyConnecting(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "dup", "")

	rec, _ := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/connect", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAlreadyConnecting, env.Error.Code)
}

func TestPairingCodeFlow(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "paired", "5215512345678")

	rec, env0 := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ack ConnectResponse
	require.NoError(t, json.Unmarshal(env0.Data, &ack))
	assert.Equal(t, "Generating pairing code...", ack.Message)
	f.waitHandle(t, 1)

	require.Eventually(t, func() bool {
		rec, _ := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/pairing-code", nil)
		return rec.Code == http.StatusOK
	}, 2*time.Second, 5*time.Millisecond)

	rec, env := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/pairing-code", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cred CredentialResponse
	require.NoError(t, json.Unmarshal(env.Data, &cred))
	assert.Equal(t, "ABCD-1234", cred.Value)
	assert.Equal(t, "pairing_code", cred.Kind)
	assert.Equal(t, "5215512345678", cred.Phone)

	rec, env = f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/qr", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeQRNotAvailable, env.Error.Code)
}

func TestSendMessage_NotConnected(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "idle", "")

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/send-message",
		SendMessageRequest{To: "5215598765432", Text: "hola"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeNotConnected, env.Error.Code)
}

func TestSendMessage_AndHistory(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "live", "")

	rec, _ := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h := f.waitHandle(t, 1)
	h.EmitOpen("5215512345678")

	require.Eventually(t, func() bool {
		rec, env := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/status", nil)
		var got SessionResponse
		if rec.Code != http.StatusOK || json.Unmarshal(env.Data, &got) != nil {
			return false
		}
		return got.Status == store.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/send-message",
		SendMessageRequest{To: "5215598765432", Text: "hola"})
	require.Equal(t, http.StatusOK, rec.Code)

	var sent map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.NotEmpty(t, sent["message_id"])

	rec, env = f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []MessageResponse
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, store.DirectionOutbound, history[0].Direction)
	assert.Equal(t, "hola", history[0].Body)
}

func TestSendMessage_MissingFields(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "live", "")

	rec, env := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/send-message",
		SendMessageRequest{To: "", Text: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Error.Code)
}

func TestDeleteSession(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "gone", "")

	rec, _ := f.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeSessionNotFound, env.Error.Code)
}

func TestAgentCRUD(t *testing.T) {
	f := newAPIFixture(t)

	create := AgentRequest{
		Name:     "ventas",
		Prompt:   "Eres un asistente de ventas.",
		Triggers: []string{"info", "precio"},
		Knowledge: []store.QAPair{
			{Question: "horario", Answer: "9 a 18"},
		},
	}
	rec, env := f.do(t, http.MethodPost, "/api/v1/agents", create)
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent AgentResponse
	require.NoError(t, json.Unmarshal(env.Data, &agent))
	assert.True(t, agent.IsActive)
	assert.Equal(t, []string{"info", "precio"}, agent.Triggers)

	// Duplicate name rejected
	rec, env = f.do(t, http.MethodPost, "/api/v1/agents", create)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAgentExists, env.Error.Code)

	// Update
	inactive := false
	update := create
	update.Prompt = "Nuevo prompt."
	update.IsActive = &inactive
	rec, env = f.do(t, http.MethodPut, "/api/v1/agents/"+agent.ID, update)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated AgentResponse
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Nuevo prompt.", updated.Prompt)
	assert.False(t, updated.IsActive)

	// List
	rec, env = f.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AgentResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	// Delete then get
	rec, _ = f.do(t, http.MethodDelete, "/api/v1/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = f.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeAgentNotFound, env.Error.Code)
}

func TestCreateAgent_Invalid(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/agents", AgentRequest{Name: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Error.Code)
}

func TestAutoResponseConfig(t *testing.T) {
	f := newAPIFixture(t)

	// Default is disabled
	rec, env := f.do(t, http.MethodGet, "/api/v1/auto-response/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg AutoResponseResponse
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.False(t, cfg.Enabled)

	// Enabled without keyword rejected
	rec, env = f.do(t, http.MethodPut, "/api/v1/auto-response/config",
		AutoResponseRequest{Enabled: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Error.Code)

	// Valid update round-trips
	rec, _ = f.do(t, http.MethodPut, "/api/v1/auto-response/config",
		AutoResponseRequest{Enabled: true, Keyword: "hola", Prompt: "Saluda."})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/api/v1/auto-response/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "hola", cfg.Keyword)
}

func TestAutoResponsePreview(t *testing.T) {
	f := newAPIFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/api/v1/agents", AgentRequest{
		Name:     "soporte",
		Prompt:   "Eres soporte.",
		Triggers: []string{"ayuda"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := f.do(t, http.MethodPost, "/api/v1/auto-response/test",
		TestAutoResponseRequest{Text: "necesito ayuda con mi pedido"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result TestAutoResponseResponse
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Matched)
	assert.Equal(t, "soporte", result.Agent)
	assert.Equal(t, "auto-reply", result.Reply)

	rec, env = f.do(t, http.MethodPost, "/api/v1/auto-response/test",
		TestAutoResponseRequest{Text: "buenas tardes"})
	require.Equal(t, http.StatusOK, rec.Code)
	result = TestAutoResponseResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.Matched)
	assert.Empty(t, result.Reply)
}

func TestAPIKeyLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/keys", CreateKeyRequest{Name: "ci"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created KeyResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, strings.HasPrefix(created.Key, "wl_"))

	// Listing never includes the plaintext
	rec, env = f.do(t, http.MethodGet, "/api/v1/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []KeyResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Key)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/keys/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodDelete, "/api/v1/keys/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeKeyNotFound, env.Error.Code)
}

func TestCreateKey_MissingName(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/keys", CreateKeyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Error.Code)
}

func TestSystemReset(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.createSession(t, "live", "")

	rec, _ := f.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	h := f.waitHandle(t, 1)
	h.EmitOpen("5215512345678")

	require.Eventually(t, func() bool {
		connections, _ := f.sup.Counts()
		return connections == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec, env := f.do(t, http.MethodPost, "/api/v1/system/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result["connections_closed"])
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data["status"])
}

func TestJWTAuthRequired(t *testing.T) {
	st := store.NewMockStore()
	registry := session.NewRegistry(st, 3)
	provider := transport.NewMockProvider()
	creds := credcache.New()
	t.Cleanup(creds.Close)
	sup := session.NewSupervisor(registry, st, provider, creds, session.Options{})
	dir := agents.NewDirectory(st)
	resp := responder.New(st, dir, generator.Static{}, responder.Options{})

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	cfg := &config.Config{Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"}}
	srv := New(cfg, Deps{Store: st, Registry: registry, Supervisor: sup, Directory: dir, Responder: resp, Verifier: verifier})
	handler := srv.Router()

	// No credentials
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token
	token, err := verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
