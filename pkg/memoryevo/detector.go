package memoryevo

import (
	"context"
	"strings"
	"time"
)

// CandidateSource finds existing memories that might relate to a new one.
// The heuristic Phase 1 SQL filter (zone, state, entity overlap) and Phase
// 2 embedding rerank the reference implementation runs inline are owned by
// the caller's memory store; Detector only classifies whatever candidates
// it's handed.
type CandidateSource interface {
	FindCandidates(ctx context.Context, zoneID string, personRefs, entityTypes []string, excludeMemoryID string, embeddingVec []float64, similarityThreshold float64, maxCandidates int) ([]Candidate, error)
}

// Provider escalates an ambiguous heuristic classification (confidence
// below the configured threshold) to an external LLM. The real
// implementation is an out-of-scope collaborator; StubProvider below
// satisfies this interface deterministically for tests and for
// heuristic-only deployments.
type Provider interface {
	Classify(ctx context.Context, newText, existingText string) (Result, error)
}

// StubProvider always defers to the heuristic result: it never overrides a
// classification, so wiring it is equivalent to running heuristic-only.
// A real LLM-backed Provider plugs in at the same interface.
type StubProvider struct{}

// Classify implements Provider by reporting no relationship, signalling the
// caller to keep the heuristic result.
func (StubProvider) Classify(context.Context, string, string) (Result, error) {
	return Result{Method: MethodNone}, nil
}

// Config tunes Detector's thresholds, mirroring the reference
// implementation's defaults.
type Config struct {
	ConfidenceThreshold float64
	SimilarityThreshold float64
	MaxCandidates       int
	Timeout             time.Duration
}

// ApplyDefaults fills unset fields with the reference implementation's
// defaults: 0.7 confidence, 0.3 similarity, 10 candidates, 200ms soft
// timeout.
func (c *Config) ApplyDefaults() {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = defaultSimilarityThreshold
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = defaultMaxCandidates
	}
	if c.Timeout == 0 {
		c.Timeout = 200 * time.Millisecond
	}
}

// now is overridden in tests for deterministic elapsed-time behavior.
var now = time.Now

// Detector runs evolution detection: find candidates, classify each via
// heuristic scoring, escalate ambiguous cases to an LLM Provider.
type Detector struct {
	candidates CandidateSource
	provider   Provider
	cfg        Config
}

// NewDetector wires a Detector. provider may be StubProvider{} to run
// heuristic-only.
func NewDetector(candidates CandidateSource, provider Provider, cfg Config) *Detector {
	cfg.ApplyDefaults()
	return &Detector{candidates: candidates, provider: provider, cfg: cfg}
}

// Detect finds candidate memories related to a new memory's text and
// classifies each one. Candidates beyond the soft timeout are left
// unevaluated rather than blocking memory writes on evolution detection.
func (d *Detector) Detect(ctx context.Context, zoneID, newText string, newEntities []ExtractedEntity, personRefs, entityTypes []string, embeddingVec []float64, excludeMemoryID string) (DetectionResult, error) {
	start := now()

	truncated := newText
	if len(truncated) > maxClassificationTextLength {
		truncated = truncated[:maxClassificationTextLength]
	}

	candidates, err := d.candidates.FindCandidates(ctx, zoneID, personRefs, entityTypes, excludeMemoryID, embeddingVec, d.cfg.SimilarityThreshold, d.cfg.MaxCandidates)
	if err != nil {
		return DetectionResult{}, err
	}
	if len(candidates) == 0 {
		return DetectionResult{}, nil
	}

	var results []Result
	for _, candidate := range candidates {
		if now().Sub(start) > d.cfg.Timeout {
			break
		}

		result := classifyHeuristic(truncated, candidate, cosineSimilarity(embeddingVec, candidate.Embedding), newEntities)
		if result.Confidence < d.cfg.ConfidenceThreshold && result.Found() {
			result = d.escalate(ctx, truncated, candidate, result)
		}
		if result.Found() {
			results = append(results, result)
		}
	}

	return DetectionResult{Relationships: results, CandidatesEvaluated: len(candidates)}, nil
}

func (d *Detector) escalate(ctx context.Context, newText string, candidate Candidate, heuristic Result) Result {
	llmResult, err := d.provider.Classify(ctx, newText, candidateSummary(candidate))
	if err != nil {
		return Result{
			RelationshipType: heuristic.RelationshipType,
			TargetMemoryID:   heuristic.TargetMemoryID,
			Confidence:       heuristic.Confidence,
			Method:           MethodError,
			Signals:          append(append([]string{}, heuristic.Signals...), "llm_fallback"),
		}
	}
	if llmResult.Method == MethodNone {
		return heuristic
	}
	llmResult.TargetMemoryID = candidate.MemoryID
	return llmResult
}

func candidateSummary(candidate Candidate) string {
	summary := ""
	if len(candidate.PersonRefs) > 0 {
		summary += "people:" + strings.Join(candidate.PersonRefs, ",")
	}
	if len(candidate.EntityTypes) > 0 {
		if summary != "" {
			summary += "; "
		}
		summary += "types:" + strings.Join(candidate.EntityTypes, ",")
	}
	return summary
}
