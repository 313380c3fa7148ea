// Package enrich appends live web-search data to finished replies when the
// user's question asks about the present.
package enrich

import (
	"context"
	"strings"
)

// Enricher produces an append-only suffix for a finished reply. An empty
// suffix means no enrichment applies. Returning the suffix explicitly (rather
// than a rewritten reply) keeps the "enrichment only appends" contract
// checkable by the caller.
type Enricher interface {
	Enrich(ctx context.Context, userText, draft string) (string, error)
}

// liveDataHints are the user-text markers that make a turn a candidate for
// live enrichment.
var liveDataHints = []string{
	"today", "now", "current", "currently", "latest", "recent",
	"news", "weather", "price", "stock", "score", "this week",
}

// wantsLiveData applies the trigger heuristics to the user's question.
func wantsLiveData(userText string) bool {
	lowered := strings.ToLower(userText)
	for _, hint := range liveDataHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// Disabled is an Enricher that never enriches.
type Disabled struct{}

func (Disabled) Enrich(context.Context, string, string) (string, error) { return "", nil }
