// ABOUTME: Thread-safe TTL cache for pending QR and pairing-code credentials.
// ABOUTME: Entries expire on their own deadline and are superseded once a session connects.

package credcache

import (
	"sync"
	"time"
)

// Kind distinguishes the two pending credential flavors.
type Kind int

const (
	KindQR Kind = iota
	KindPairing
)

func (k Kind) String() string {
	if k == KindPairing {
		return "pairing_code"
	}
	return "qr_code"
}

// Credential is a short-lived artifact a user must consume before it expires.
type Credential struct {
	SessionID string
	Kind      Kind
	Value     string // encoded QR payload or pairing code
	Phone     string // set for pairing codes
	ExpiresAt time.Time
}

// Expired reports whether the credential deadline has passed.
func (c Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Cache is a thread-safe store of pending credentials keyed by session id.
// At most one credential exists per session; storing a new one replaces the
// old. A background goroutine sweeps expired entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Credential
	done    chan struct{}
	closed  bool
}

// New creates a credential cache and starts its cleanup goroutine.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]Credential),
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Put stores a credential for a session, replacing any previous one.
func (c *Cache) Put(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cred.SessionID] = cred
}

// Get returns the pending credential for a session. Returns false if there
// is none or it has expired; expired entries are removed eagerly.
func (c *Cache) Get(sessionID string) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, ok := c.entries[sessionID]
	if !ok {
		return Credential{}, false
	}
	if cred.Expired(time.Now()) {
		delete(c.entries, sessionID)
		return Credential{}, false
	}
	return cred, true
}

// Delete removes the pending credential for a session, if any.
func (c *Cache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Len returns the number of live (possibly expired but unswept) entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Credential)
}

// cleanup periodically sweeps expired entries so abandoned sessions do not
// accumulate credentials.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, cred := range c.entries {
		if cred.Expired(now) {
			delete(c.entries, id)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
