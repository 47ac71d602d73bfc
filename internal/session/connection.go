// ABOUTME: Ephemeral per-session connection state owned by the supervisor
// ABOUTME: Holds the live transport handle, pump cancel, and credential timer

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/waylink/waylink/internal/transport"
)

// connection exists only while a session is connecting, pairing, or
// connected. It is created and destroyed exclusively by the supervisor;
// at most one exists per session id.
type connection struct {
	sessionID string
	phone     string // user-supplied number, selects the pairing flow
	handle    transport.Handle
	cancel    context.CancelFunc

	mu        sync.Mutex
	credTimer *time.Timer
}

// armCredTimer starts (or restarts) the credential expiry timer.
func (c *connection) armCredTimer(ttl time.Duration, fire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credTimer != nil {
		c.credTimer.Stop()
	}
	c.credTimer = time.AfterFunc(ttl, fire)
}

// stopCredTimer cancels the credential expiry timer if armed. Must be
// callable the instant an open event arrives so a stale timer never
// tears down a healthy connection.
func (c *connection) stopCredTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credTimer != nil {
		c.credTimer.Stop()
		c.credTimer = nil
	}
}

// fingerprintFor derives the stable device identity for a session. The
// same session id always yields the same fingerprint, so the remote
// peer sees reconnects as the same linked device.
func fingerprintFor(sessionID string) transport.Fingerprint {
	sum := sha256.Sum256([]byte(sessionID))
	tag := hex.EncodeToString(sum[:4])
	return transport.Fingerprint{
		Client:  "Waylink",
		Agent:   "Chrome",
		Version: "121.0." + tag,
	}
}
