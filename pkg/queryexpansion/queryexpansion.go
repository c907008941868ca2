// Package queryexpansion implements LLM-driven query expansion with smart
// triggering (spec §4.12's query expansion component): generating lexical,
// vector, and hypothetical-document (HyDE) query variants to improve BM25
// and vector search recall, skipping expansion when the initial search
// already shows a strong, well-separated signal. The LLM provider itself
// is an out-of-scope external collaborator (Non-goals: "LLM providers");
// this package defines the expansion contract, the smart-triggering logic,
// and a deterministic StubExpander satisfying the contract for tests and
// for heuristic-only deployments.
package queryexpansion

import "time"

// ExpansionType names one kind of generated query variant.
type ExpansionType string

const (
	// ExpansionLex is a short keyword phrase tuned for BM25.
	ExpansionLex ExpansionType = "lex"
	// ExpansionVec is a natural-language question tuned for vector search.
	ExpansionVec ExpansionType = "vec"
	// ExpansionHyDE is a hypothetical document passage (HyDE).
	ExpansionHyDE ExpansionType = "hyde"
)

// Expansion is one generated query variant.
type Expansion struct {
	Type   ExpansionType
	Text   string
	Weight float64
}

// Config tunes expansion variant counts, smart-triggering thresholds, and
// caching, mirroring the reference implementation's defaults.
type Config struct {
	Enabled bool

	MaxLexVariants  int
	MaxVecVariants  int
	MaxHydePassages int

	StrongSignalThreshold     float64
	SignalSeparationThreshold float64

	CacheEnabled bool
	CacheTTL     time.Duration
}

// ApplyDefaults fills unset fields with the reference implementation's
// defaults: 2 variants of each type, 0.85 strong-signal threshold, 0.10
// required separation, a 1 hour cache TTL. CacheEnabled is left as the
// caller set it.
func (c *Config) ApplyDefaults() {
	if c.MaxLexVariants == 0 {
		c.MaxLexVariants = 2
	}
	if c.MaxVecVariants == 0 {
		c.MaxVecVariants = 2
	}
	if c.MaxHydePassages == 0 {
		c.MaxHydePassages = 2
	}
	if c.StrongSignalThreshold == 0 {
		c.StrongSignalThreshold = 0.85
	}
	if c.SignalSeparationThreshold == 0 {
		c.SignalSeparationThreshold = 0.10
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
}

// SearchResult is one scored hit from an initial BM25 pass, used only for
// smart-triggering's strong-signal check.
type SearchResult struct {
	Score float64
}

// Result is the outcome of one expand-if-needed call.
type Result struct {
	OriginalQuery string
	Expansions    []Expansion
	WasExpanded   bool
	SkipReason    string
	ModelUsed     string
	LatencyMS     float64
	CacheHit      bool
}

// LexVariants returns every ExpansionLex text.
func (r Result) LexVariants() []string { return variantsOfType(r.Expansions, ExpansionLex) }

// VecVariants returns every ExpansionVec text.
func (r Result) VecVariants() []string { return variantsOfType(r.Expansions, ExpansionVec) }

// HydePassages returns every ExpansionHyDE text.
func (r Result) HydePassages() []string { return variantsOfType(r.Expansions, ExpansionHyDE) }

func variantsOfType(expansions []Expansion, t ExpansionType) []string {
	var out []string
	for _, e := range expansions {
		if e.Type == t {
			out = append(out, e.Text)
		}
	}
	return out
}

// AllQueries returns the original query plus every expansion's text, the
// full set a search pipeline should fan its search out across.
func (r Result) AllQueries(includeOriginal bool) []string {
	var out []string
	if includeOriginal {
		out = append(out, r.OriginalQuery)
	}
	for _, e := range r.Expansions {
		out = append(out, e.Text)
	}
	return out
}
