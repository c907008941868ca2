package queryexpansion

import (
	"context"
	"fmt"
)

// Expander generates query variants for a given query. The reference
// implementation's OpenRouterQueryExpander (and its fallback-model chain)
// is an out-of-scope external collaborator; real deployments wire an
// Expander backed by whatever LLM provider they use.
type Expander interface {
	Expand(ctx context.Context, query, collectionContext string) ([]Expansion, error)
}

// StubExpander is a deterministic, non-LLM Expander: it derives lex/vec/hyde
// variants from the query text itself via fixed templates rather than a
// model call. It satisfies the Expander contract for tests and for
// deployments that haven't wired a real provider yet.
type StubExpander struct {
	Config Config
}

// Expand implements Expander deterministically.
func (s StubExpander) Expand(_ context.Context, query, _ string) ([]Expansion, error) {
	cfg := s.Config
	cfg.ApplyDefaults()

	var expansions []Expansion
	for i := 0; i < cfg.MaxLexVariants; i++ {
		expansions = append(expansions, Expansion{Type: ExpansionLex, Text: fmt.Sprintf("%s (keyword variant %d)", query, i+1), Weight: 1.0})
	}
	for i := 0; i < cfg.MaxVecVariants; i++ {
		expansions = append(expansions, Expansion{Type: ExpansionVec, Text: fmt.Sprintf("What is %s?", query), Weight: 1.0})
	}
	for i := 0; i < cfg.MaxHydePassages; i++ {
		expansions = append(expansions, Expansion{Type: ExpansionHyDE, Text: fmt.Sprintf("A document discussing %s in detail.", query), Weight: 1.0})
	}
	return expansions, nil
}
