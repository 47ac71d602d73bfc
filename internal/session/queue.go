// ABOUTME: FIFO connect request queue enforcing spacing between handshakes
// ABOUTME: Sole entry point for initiating transport connections process-wide

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// linker is the queue's view of the connection supervisor.
type linker interface {
	startLink(ctx context.Context, sessionID string) error
	othersActive(sessionID string) bool
	teardownOthers(ctx context.Context, keep string)
}

// connectQueue serializes connection attempts. A single drain loop pops
// ids strictly FIFO and sleeps the configured spacing between attempts,
// so the transport never sees two handshakes in flight or back to back.
type connectQueue struct {
	linker     linker
	spacing    time.Duration
	cooldown   time.Duration
	singleLink bool
	logger     *slog.Logger

	mu      sync.Mutex
	pending []string
	queued  map[string]bool
	wake    chan struct{}
}

func newConnectQueue(l linker, spacing, cooldown time.Duration, singleLink bool) *connectQueue {
	return &connectQueue{
		linker:     l,
		spacing:    spacing,
		cooldown:   cooldown,
		singleLink: singleLink,
		logger:     slog.Default().With("component", "connect-queue"),
		queued:     make(map[string]bool),
		wake:       make(chan struct{}, 1),
	}
}

// enqueue appends a session id. Re-enqueuing an id already waiting is a
// no-op; returns whether the id was added.
func (q *connectQueue) enqueue(sessionID string) bool {
	q.mu.Lock()
	if q.queued[sessionID] {
		q.mu.Unlock()
		return false
	}
	q.queued[sessionID] = true
	q.pending = append(q.pending, sessionID)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// remove drops a session id from the queue if it is still waiting.
func (q *connectQueue) remove(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.queued[sessionID] {
		return
	}
	delete(q.queued, sessionID)
	for i, id := range q.pending {
		if id == sessionID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
}

func (q *connectQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, id)
	return id, true
}

// isQueued reports whether a session id is waiting in the queue.
func (q *connectQueue) isQueued(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[sessionID]
}

// depth reports how many ids are waiting.
func (q *connectQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// run drains the queue until ctx is cancelled. A failure processing one
// id never stops the loop; the supervisor records it against that
// session and the loop moves on.
func (q *connectQueue) run(ctx context.Context) {
	for {
		id, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if q.singleLink && q.linker.othersActive(id) {
			q.logger.Info("tearing down other links before connect", "session_id", id)
			q.linker.teardownOthers(ctx, id)
			if !sleepCtx(ctx, q.cooldown) {
				return
			}
		}

		if err := q.linker.startLink(ctx, id); err != nil {
			q.logger.Error("connect attempt failed", "session_id", id, "error", err)
		}

		if !sleepCtx(ctx, q.spacing) {
			return
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled; reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
