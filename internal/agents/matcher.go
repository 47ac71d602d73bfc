// ABOUTME: Trigger matcher selecting at most one agent for an inbound text
// ABOUTME: Ordered rules: trigger keywords, then knowledge questions, then names

package agents

import (
	"strings"

	"github.com/waylink/waylink/internal/store"
)

// Match selects at most one agent for the given text. It is
// deterministic and side-effect-free against the snapshot it is handed;
// callers pass the owner's active agents in creation order.
//
// Rules, in order:
//  1. Tokenize the text into lowercase words. The first token that
//     matches any agent's trigger keyword wins; within a token, agents
//     are tried in order. A keyword matches when it contains the token
//     or the token contains it, case-insensitively.
//  2. The whole text against each agent's knowledge questions
//     (case-insensitive substring).
//  3. The whole text against each agent's name.
//
// No fallback agent is selected when nothing matches.
func Match(text string, snapshot []*store.Agent) *store.Agent {
	if len(snapshot) == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	for _, token := range strings.Fields(lower) {
		for _, agent := range snapshot {
			for _, keyword := range agent.Triggers {
				kw := strings.ToLower(strings.TrimSpace(keyword))
				if kw == "" {
					continue
				}
				if strings.Contains(token, kw) || strings.Contains(kw, token) {
					return agent
				}
			}
		}
	}

	for _, agent := range snapshot {
		for _, qa := range agent.Knowledge {
			q := strings.ToLower(strings.TrimSpace(qa.Question))
			if q != "" && strings.Contains(lower, q) {
				return agent
			}
		}
	}

	for _, agent := range snapshot {
		name := strings.ToLower(strings.TrimSpace(agent.Name))
		if name != "" && strings.Contains(lower, name) {
			return agent
		}
	}

	return nil
}

// KeywordMatch reports whether the owner's default trigger keyword
// applies to the text, using the same substring rule as the matcher.
func KeywordMatch(text, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), kw)
}
