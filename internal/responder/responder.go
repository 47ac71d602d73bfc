// ABOUTME: Auto-responder consuming inbound messages from live connections
// ABOUTME: Matches agents, calls the text generator, and sends replies with a fallback

package responder

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waylink/waylink/internal/agents"
	"github.com/waylink/waylink/internal/generator"
	"github.com/waylink/waylink/internal/store"
	"github.com/waylink/waylink/internal/transport"
)

// DefaultFallback is sent when the generator or the reply send fails.
const DefaultFallback = "Lo siento, no puedo responder en este momento. Por favor, intenta más tarde."

// Options tunes the responder.
type Options struct {
	Timeout  time.Duration // bound on each generator call
	Fallback string        // apology text sent when generation fails
}

// Responder turns qualifying inbound messages into generated replies.
// Every failure is contained here; nothing the responder does may alter
// connection state.
type Responder struct {
	store     store.Store
	directory *agents.Directory
	gen       generator.Generator
	timeout   time.Duration
	fallback  string
	logger    *slog.Logger
}

// New creates a responder.
func New(st store.Store, dir *agents.Directory, gen generator.Generator, opts Options) *Responder {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallback
	}
	return &Responder{
		store:     st,
		directory: dir,
		gen:       gen,
		timeout:   opts.Timeout,
		fallback:  opts.Fallback,
		logger:    slog.Default().With("component", "responder"),
	}
}

// HandleInbound processes one batch of messages from a connection.
// History-sync batches are recorded but never trigger replies.
func (r *Responder) HandleInbound(ctx context.Context, sessionID string, sender transport.Handle, msgs []transport.Message, live bool) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		r.logger.Debug("inbound for unknown session", "session_id", sessionID, "error", err)
		return
	}

	for _, msg := range msgs {
		if msg.FromSelf {
			continue
		}
		text, kind := extractText(msg)
		if text != "" || msg.MediaKind != "" {
			r.record(ctx, sessionID, store.DirectionInbound, msg.Peer, msg.PushName, text, kind)
		}
		if !live || text == "" {
			continue
		}
		r.respond(ctx, sess, sender, msg.Peer, text)
	}
}

// extractText pulls the displayable text out of a message: plain text,
// extended text, or a media caption, in that order.
func extractText(msg transport.Message) (text, kind string) {
	switch {
	case msg.Text != "":
		return msg.Text, "text"
	case msg.Extended != "":
		return msg.Extended, "extended"
	case msg.Caption != "":
		return msg.Caption, "caption"
	}
	return "", msg.MediaKind
}

func (r *Responder) respond(ctx context.Context, sess *store.Session, sender transport.Handle, peer, text string) {
	snapshot, err := r.directory.ListActive(ctx, sess.Owner)
	if err != nil {
		r.logger.Error("listing agents", "session_id", sess.ID, "error", err)
		snapshot = nil
	}

	matched := agents.Match(text, snapshot)
	var prompt string
	switch {
	case matched != nil:
		prompt = matched.Prompt
	default:
		cfg, err := r.store.GetAutoResponse(ctx, sess.Owner)
		if err != nil || !cfg.Enabled || !agents.KeywordMatch(text, cfg.Keyword) {
			return
		}
		prompt = cfg.Prompt
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	reply, genErr := r.gen.Generate(gctx, prompt, text)
	cancel()

	if genErr == nil {
		if _, sendErr := sender.SendMessage(ctx, peer, transport.Content{Text: reply}); sendErr == nil {
			if matched != nil {
				r.directory.RecordUse(ctx, matched.ID)
			}
			r.record(ctx, sess.ID, store.DirectionOutbound, peer, "", reply, "text")
			return
		} else {
			r.logger.Warn("reply send failed", "session_id", sess.ID, "peer", peer, "error", sendErr)
		}
	} else {
		r.logger.Warn("reply generation failed", "session_id", sess.ID, "error", genErr)
	}

	// Fallback apology; its own failure is logged and swallowed.
	if _, err := sender.SendMessage(ctx, peer, transport.Content{Text: r.fallback}); err != nil {
		r.logger.Error("fallback send failed", "session_id", sess.ID, "peer", peer, "error", err)
		return
	}
	r.record(ctx, sess.ID, store.DirectionOutbound, peer, "", r.fallback, "text")
}

// record appends a message history row. Best effort.
func (r *Responder) record(ctx context.Context, sessionID, direction, peer, pushName, body, kind string) {
	if kind == "" {
		kind = "text"
	}
	rec := &store.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Direction: direction,
		Peer:      peer,
		PushName:  pushName,
		Body:      body,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.SaveMessage(ctx, rec); err != nil {
		r.logger.Debug("recording message", "session_id", sessionID, "error", err)
	}
}

// Preview runs the matching and generation pipeline for a text without
// touching any connection. Used by the auto-response test endpoint.
func (r *Responder) Preview(ctx context.Context, owner, text string) (reply, agentName string, err error) {
	snapshot, err := r.directory.ListActive(ctx, owner)
	if err != nil {
		return "", "", err
	}

	matched := agents.Match(text, snapshot)
	var prompt string
	switch {
	case matched != nil:
		prompt = matched.Prompt
		agentName = matched.Name
	default:
		cfg, err := r.store.GetAutoResponse(ctx, owner)
		if err != nil || !cfg.Enabled || !agents.KeywordMatch(text, cfg.Keyword) {
			return "", "", nil
		}
		prompt = cfg.Prompt
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	reply, err = r.gen.Generate(gctx, prompt, text)
	if err != nil {
		return "", agentName, err
	}
	return reply, agentName, nil
}
