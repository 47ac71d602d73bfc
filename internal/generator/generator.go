// ABOUTME: Text generator interface used by the auto-responder
// ABOUTME: Includes a static implementation for development and tests

package generator

import (
	"context"
	"strings"
)

// Generator produces a reply for an inbound message. Implementations
// may fail or time out; callers bound every call with a context.
type Generator interface {
	Generate(ctx context.Context, prompt, userText string) (string, error)
}

// Static returns a fixed reply regardless of input. Used by the mock
// serve mode and by tests.
type Static struct {
	Reply string
}

// Generate implements Generator.
func (s Static) Generate(_ context.Context, _, userText string) (string, error) {
	if s.Reply != "" {
		return s.Reply, nil
	}
	return "Recibido: " + strings.TrimSpace(userText), nil
}
