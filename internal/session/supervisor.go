// ABOUTME: Connection supervisor driving the per-session lifecycle state machine
// ABOUTME: Owns transport handles, credential timers, and the reconnection policy

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waylink/waylink/internal/credcache"
	"github.com/waylink/waylink/internal/store"
	"github.com/waylink/waylink/internal/transport"
	"github.com/waylink/waylink/internal/wire"
)

// MessageSink receives inbound message batches from live connections.
// Implementations must contain their own failures; nothing a sink does
// may alter connection state.
type MessageSink interface {
	HandleInbound(ctx context.Context, sessionID string, sender transport.Handle, msgs []transport.Message, live bool)
}

// Options tunes the supervisor's timing and policy knobs.
type Options struct {
	CredentialTTL        time.Duration // QR / pairing code lifetime
	ConnectSpacing       time.Duration // minimum gap between handshakes
	Cooldown             time.Duration // wait after tearing down other links
	MaxReconnectAttempts int
	BackoffCap           time.Duration
	SingleLink           bool // tear down other links before connecting
	LogoutTimeout        time.Duration
	SessionTimeout       time.Duration // idle sweep threshold, negative disables
}

func (o *Options) withDefaults() {
	if o.CredentialTTL <= 0 {
		o.CredentialTTL = 60 * time.Second
	}
	if o.ConnectSpacing <= 0 {
		o.ConnectSpacing = 5 * time.Second
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 10 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 60 * time.Second
	}
	if o.LogoutTimeout <= 0 {
		o.LogoutTimeout = 5 * time.Second
	}
	if o.SessionTimeout == 0 {
		o.SessionTimeout = time.Hour
	}
}

// Supervisor owns every live connection. All session status transitions
// after creation flow through here, and the connect queue is the only
// path that opens a transport handshake.
type Supervisor struct {
	registry *Registry
	store    store.Store
	provider transport.Provider
	creds    *credcache.Cache
	opts     Options
	logger   *slog.Logger
	queue    *connectQueue
	sink     MessageSink

	mu       sync.Mutex
	conns    map[string]*connection
	attempts map[string]int
	retries  map[string]*time.Timer

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor wires a supervisor over the given collaborators.
func NewSupervisor(registry *Registry, st store.Store, provider transport.Provider, creds *credcache.Cache, opts Options) *Supervisor {
	opts.withDefaults()
	s := &Supervisor{
		registry: registry,
		store:    st,
		provider: provider,
		creds:    creds,
		opts:     opts,
		logger:   slog.Default().With("component", "supervisor"),
		conns:    make(map[string]*connection),
		attempts: make(map[string]int),
		retries:  make(map[string]*time.Timer),
	}
	s.queue = newConnectQueue(s, opts.ConnectSpacing, opts.Cooldown, opts.SingleLink)
	return s
}

// SetSink installs the inbound message consumer. Must be called before
// Start.
func (s *Supervisor) SetSink(sink MessageSink) {
	s.sink = sink
}

// Start launches the connect queue drain loop and the idle sweep.
func (s *Supervisor) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.queue.run(s.runCtx)
	}()

	if s.opts.SessionTimeout > 0 {
		s.wg.Add(1)
		go s.sweepLoop(s.runCtx)
	}
	s.logger.Info("supervisor started",
		"spacing", s.opts.ConnectSpacing,
		"single_link", s.opts.SingleLink,
		"max_attempts", s.opts.MaxReconnectAttempts)
}

// Shutdown closes every live connection without logging out, so auth
// state survives for the next boot, then stops the background loops.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, id := range s.connIDs() {
		s.closeLink(ctx, id)
	}
	s.mu.Lock()
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) connIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}

// Counts reports live connections and queued connect requests.
func (s *Supervisor) Counts() (connections, queued int) {
	s.mu.Lock()
	connections = len(s.conns)
	s.mu.Unlock()
	return connections, s.queue.depth()
}

// Connect begins the connection flow for a session: status moves to
// Connecting and the id is handed to the connect queue. Returns
// ErrAlreadyConnecting when a connection, queued request, or scheduled
// retry already exists for the id.
func (s *Supervisor) Connect(ctx context.Context, owner, id string) (*store.Session, error) {
	sess, err := s.registry.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, live := s.conns[id]
	_, retrying := s.retries[id]
	s.mu.Unlock()
	if live || retrying || s.queue.isQueued(id) {
		return nil, ErrAlreadyConnecting
	}

	if err := s.registry.SetStatus(ctx, id, store.StatusConnecting); err != nil {
		return nil, err
	}
	s.queue.enqueue(id)

	sess.Status = store.StatusConnecting
	return sess, nil
}

// othersActive reports whether any other session holds a live connection.
func (s *Supervisor) othersActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.conns {
		if id != sessionID {
			return true
		}
	}
	return false
}

// teardownOthers closes every live connection except keep. Auth state is
// preserved so the sessions can reconnect later.
func (s *Supervisor) teardownOthers(ctx context.Context, keep string) {
	for _, id := range s.connIDs() {
		if id == keep {
			continue
		}
		s.closeLink(ctx, id)
	}
}

// startLink performs one handshake. Called only from the connect queue
// drain loop.
func (s *Supervisor) startLink(ctx context.Context, id string) error {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted while queued
		s.logger.Debug("skipping connect for removed session", "session_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	switch sess.Status {
	case store.StatusConnecting, store.StatusPairing, store.StatusDisconnected:
		// proceed
	default:
		// The user disconnected or the session errored while queued.
		s.logger.Debug("skipping connect", "session_id", id, "status", sess.Status)
		return nil
	}

	s.mu.Lock()
	if _, exists := s.conns[id]; exists {
		s.mu.Unlock()
		return nil
	}
	conn := &connection{sessionID: id, phone: sess.Phone}
	s.conns[id] = conn
	s.mu.Unlock()

	auth, err := s.store.GetAuthState(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(ctx, id, err)
		return fmt.Errorf("restoring auth state: %w", err)
	}

	handle, err := s.provider.Open(ctx, transport.AuthState(auth), fingerprintFor(id))
	if err != nil {
		s.fail(ctx, id, err)
		return fmt.Errorf("opening transport: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(s.runCtx)
	conn.handle = handle
	conn.cancel = cancel

	// Subscribe before requesting a pairing code so early events are
	// never lost.
	s.wg.Add(1)
	go s.pump(pumpCtx, conn)

	if sess.Phone != "" {
		code, err := handle.RequestPairingCode(ctx, sess.Phone)
		if err != nil {
			s.fail(ctx, id, err)
			return fmt.Errorf("requesting pairing code: %w", err)
		}
		s.creds.Put(credcache.Credential{
			SessionID: id,
			Kind:      credcache.KindPairing,
			Value:     code,
			Phone:     sess.Phone,
			ExpiresAt: time.Now().Add(s.opts.CredentialTTL),
		})
		if err := s.registry.SetStatus(ctx, id, store.StatusPairing); err != nil {
			s.logger.Error("status update failed", "session_id", id, "error", err)
		}
	} else if sess.Status != store.StatusConnecting {
		// Reconnect path: surface the in-flight attempt.
		if err := s.registry.SetStatus(ctx, id, store.StatusConnecting); err != nil {
			s.logger.Error("status update failed", "session_id", id, "error", err)
		}
	}

	conn.armCredTimer(s.opts.CredentialTTL, func() {
		s.credentialExpired(id)
	})

	s.logger.Info("handshake started", "session_id", id, "pairing", sess.Phone != "")
	return nil
}

// fail marks the session Error and releases its connection.
func (s *Supervisor) fail(ctx context.Context, id string, cause error) {
	s.logger.Error("connection failed", "session_id", id, "error", cause)
	s.release(id)
	if err := s.registry.SetStatus(ctx, id, store.StatusError); err != nil {
		s.logger.Error("status update failed", "session_id", id, "error", err)
	}
}

// release removes the connection from the map, stops its timer and pump,
// ends the handle, and drops any cached credential.
func (s *Supervisor) release(id string) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	conn.stopCredTimer()
	if conn.cancel != nil {
		conn.cancel()
	}
	if conn.handle != nil {
		if err := conn.handle.End(); err != nil {
			s.logger.Debug("ending handle", "session_id", id, "error", err)
		}
	}
	s.creds.Delete(id)
}

// credentialExpired fires when the QR/pairing TTL lapses before the
// session reached Connected.
func (s *Supervisor) credentialExpired(id string) {
	ctx := s.runCtx
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return
	}
	if sess.Status == store.StatusConnected {
		return
	}

	s.logger.Info("credential expired before link completed", "session_id", id)
	s.release(id)
	if err := s.registry.SetStatus(ctx, id, store.StatusDisconnected); err != nil {
		s.logger.Error("status update failed", "session_id", id, "error", err)
	}
}

// pump consumes one connection's event stream sequentially, preserving
// per-session event ordering.
func (s *Supervisor) pump(ctx context.Context, conn *connection) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.handle.Events():
			if !ok {
				return
			}
			s.handleEvent(ctx, conn, ev)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, conn *connection, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnectionUpdate:
		if ev.QR != "" && conn.phone == "" {
			s.refreshQR(conn, ev.QR)
		}
		switch ev.State {
		case transport.StateOpen:
			s.onOpen(ctx, conn, ev.Phone)
		case transport.StateClose:
			s.onClose(ctx, conn, ev.Reason)
		}

	case transport.EventCredentialsUpdate:
		if err := s.store.SaveAuthState(ctx, conn.sessionID, ev.Credentials); err != nil {
			// Logged only; a failed save never alters session status.
			s.logger.Error("saving auth state", "session_id", conn.sessionID, "error", err)
		}

	case transport.EventMessages:
		s.registry.Touch(ctx, conn.sessionID)
		if s.sink != nil {
			s.sink.HandleInbound(ctx, conn.sessionID, conn.handle, ev.Messages, ev.Live)
		}
	}
}

// refreshQR stores the newest QR payload and restarts the expiry timer.
func (s *Supervisor) refreshQR(conn *connection, qr string) {
	s.creds.Put(credcache.Credential{
		SessionID: conn.sessionID,
		Kind:      credcache.KindQR,
		Value:     qr,
		ExpiresAt: time.Now().Add(s.opts.CredentialTTL),
	})
	conn.armCredTimer(s.opts.CredentialTTL, func() {
		s.credentialExpired(conn.sessionID)
	})
	s.logger.Debug("qr refreshed", "session_id", conn.sessionID)
}

func (s *Supervisor) onOpen(ctx context.Context, conn *connection, phone string) {
	id := conn.sessionID
	conn.stopCredTimer()
	s.creds.Delete(id)

	s.mu.Lock()
	delete(s.attempts, id)
	s.mu.Unlock()

	if phone != "" {
		if err := s.registry.SetPhone(ctx, id, phone); err != nil {
			s.logger.Error("persisting phone", "session_id", id, "error", err)
		}
	}
	if err := s.registry.SetStatus(ctx, id, store.StatusConnected); err != nil {
		s.logger.Error("status update failed", "session_id", id, "error", err)
	}
	s.registry.Touch(ctx, id)
	s.logger.Info("session connected", "session_id", id, "phone", phone)
}

func (s *Supervisor) onClose(ctx context.Context, conn *connection, reason wire.Reason) {
	id := conn.sessionID
	s.release(id)

	if wire.Classify(reason) == wire.Retryable {
		s.mu.Lock()
		n := s.attempts[id]
		if n >= s.opts.MaxReconnectAttempts {
			delete(s.attempts, id)
			s.mu.Unlock()
			s.logger.Warn("reconnect attempts exhausted", "session_id", id, "reason", reason)
			if err := s.registry.SetStatus(ctx, id, store.StatusError); err != nil {
				s.logger.Error("status update failed", "session_id", id, "error", err)
			}
			return
		}
		n++
		s.attempts[id] = n
		s.mu.Unlock()

		delay := backoffDelay(n, s.opts.BackoffCap)
		s.logger.Info("scheduling reconnect",
			"session_id", id, "reason", reason, "attempt", n, "delay", delay)
		if err := s.registry.SetStatus(ctx, id, store.StatusDisconnected); err != nil {
			s.logger.Error("status update failed", "session_id", id, "error", err)
		}
		s.scheduleRetry(id, delay)
		return
	}

	// Terminal close: no further attempts.
	s.mu.Lock()
	delete(s.attempts, id)
	s.mu.Unlock()

	if wire.CleanLogout(reason) {
		// The remote side unlinked us; stored credentials are dead.
		if err := s.store.DeleteAuthState(ctx, id); err != nil {
			s.logger.Error("deleting auth state", "session_id", id, "error", err)
		}
		s.logger.Info("session logged out", "session_id", id)
		if err := s.registry.SetStatus(ctx, id, store.StatusDisconnected); err != nil {
			s.logger.Error("status update failed", "session_id", id, "error", err)
		}
		return
	}

	s.logger.Warn("terminal disconnect", "session_id", id, "reason", reason)
	if err := s.registry.SetStatus(ctx, id, store.StatusError); err != nil {
		s.logger.Error("status update failed", "session_id", id, "error", err)
	}
}

// backoffDelay returns 2^attempt seconds capped at limit.
func backoffDelay(attempt int, limit time.Duration) time.Duration {
	if attempt > 30 {
		return limit
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > limit {
		return limit
	}
	return d
}

func (s *Supervisor) scheduleRetry(id string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.retries[id]; exists {
		return
	}
	s.retries[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retries, id)
		s.mu.Unlock()
		s.queue.enqueue(id)
	})
}

func (s *Supervisor) cancelRetry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.retries[id]; ok {
		timer.Stop()
		delete(s.retries, id)
	}
}

// closeLink drops a session's connection and pending attempts without
// logging out, leaving auth state intact for a later reconnect.
func (s *Supervisor) closeLink(ctx context.Context, id string) {
	s.cancelRetry(id)
	s.queue.remove(id)
	s.release(id)

	s.mu.Lock()
	delete(s.attempts, id)
	s.mu.Unlock()

	if err := s.registry.SetStatus(ctx, id, store.StatusDisconnected); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("status update failed", "session_id", id, "error", err)
	}
}

// Disconnect is the user-initiated stop: a graceful logout bounded by a
// timeout, then an unconditional close. No reconnection is scheduled.
func (s *Supervisor) Disconnect(ctx context.Context, owner, id string) error {
	if _, err := s.registry.Get(ctx, owner, id); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conns[id]
	s.mu.Unlock()
	if conn != nil && conn.handle != nil {
		lctx, cancel := context.WithTimeout(ctx, s.opts.LogoutTimeout)
		if err := conn.handle.Logout(lctx); err != nil {
			s.logger.Warn("graceful logout failed", "session_id", id, "error", err)
		}
		cancel()
	}

	s.closeLink(ctx, id)
	return nil
}

// Teardown is Disconnect plus removal of the session's durable auth
// state. Used by delete and by the administrative reset.
func (s *Supervisor) Teardown(ctx context.Context, owner, id string) error {
	if err := s.Disconnect(ctx, owner, id); err != nil {
		return err
	}
	if err := s.store.DeleteAuthState(ctx, id); err != nil {
		return fmt.Errorf("deleting auth state: %w", err)
	}
	return nil
}

// Delete tears down any live connection and removes the session record.
func (s *Supervisor) Delete(ctx context.Context, owner, id string) error {
	if err := s.Teardown(ctx, owner, id); err != nil {
		return err
	}
	return s.registry.Remove(ctx, id)
}

// Reset force-closes every live connection and clears queued requests.
// Auth state is kept. Returns how many connections were closed.
func (s *Supervisor) Reset(ctx context.Context) int {
	ids := s.connIDs()
	for _, id := range ids {
		s.closeLink(ctx, id)
	}
	s.mu.Lock()
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	s.mu.Unlock()
	s.logger.Info("reset complete", "closed", len(ids))
	return len(ids)
}

// Send delivers a text message through a connected session and records
// it in the message history.
func (s *Supervisor) Send(ctx context.Context, owner, id, peer, text string) (string, error) {
	sess, err := s.registry.Get(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if sess.Status != store.StatusConnected {
		return "", ErrNotConnected
	}

	s.mu.Lock()
	conn := s.conns[id]
	s.mu.Unlock()
	if conn == nil || conn.handle == nil {
		return "", ErrNotConnected
	}

	msgID, err := conn.handle.SendMessage(ctx, peer, transport.Content{Text: text})
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}

	s.registry.Touch(ctx, id)
	record := &store.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: id,
		Direction: store.DirectionOutbound,
		Peer:      peer,
		Body:      text,
		Kind:      "text",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, record); err != nil {
		s.logger.Debug("recording outbound message", "session_id", id, "error", err)
	}
	return msgID, nil
}

// Credential returns the session's pending QR or pairing code, if one
// is cached and unexpired.
func (s *Supervisor) Credential(ctx context.Context, owner, id string) (credcache.Credential, error) {
	if _, err := s.registry.Get(ctx, owner, id); err != nil {
		return credcache.Credential{}, err
	}
	cred, ok := s.creds.Get(id)
	if !ok {
		return credcache.Credential{}, store.ErrNotFound
	}
	return cred, nil
}

// sweepLoop disconnects connected sessions whose last activity is older
// than the configured session timeout.
func (s *Supervisor) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.opts.SessionTimeout / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepIdle(ctx)
		}
	}
}

func (s *Supervisor) sweepIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.opts.SessionTimeout)
	idle, err := s.store.ListConnectedIdleSince(ctx, cutoff)
	if err != nil {
		s.logger.Error("idle sweep query failed", "error", err)
		return
	}
	for _, sess := range idle {
		s.logger.Info("closing idle session", "session_id", sess.ID, "last_activity", sess.LastActivity)
		s.closeLink(ctx, sess.ID)
	}
}
