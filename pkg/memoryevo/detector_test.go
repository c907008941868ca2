package memoryevo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCandidateSource struct {
	candidates []Candidate
	err        error
}

func (f *fakeCandidateSource) FindCandidates(context.Context, string, []string, []string, string, []float64, float64, int) ([]Candidate, error) {
	return f.candidates, f.err
}

type fixedProvider struct {
	result Result
	err    error
}

func (f fixedProvider) Classify(context.Context, string, string) (Result, error) {
	return f.result, f.err
}

func TestDetect_NoCandidatesReturnsEmptyResult(t *testing.T) {
	d := NewDetector(&fakeCandidateSource{}, StubProvider{}, Config{})
	result, err := d.Detect(context.Background(), "zone-1", "some text", nil, nil, nil, nil, "")
	require.NoError(t, err)
	assert.Empty(t, result.Relationships)
	assert.Equal(t, 0, result.CandidatesEvaluated)
}

func TestDetect_PropagatesCandidateSourceError(t *testing.T) {
	d := NewDetector(&fakeCandidateSource{err: errors.New("boom")}, StubProvider{}, Config{})
	_, err := d.Detect(context.Background(), "zone-1", "text", nil, nil, nil, nil, "")
	assert.Error(t, err)
}

func TestDetect_ClassifiesHighConfidenceWithoutEscalating(t *testing.T) {
	candidates := []Candidate{{MemoryID: "m1", PersonRefs: []string{"alice"}}}
	d := NewDetector(&fakeCandidateSource{candidates: candidates}, StubProvider{}, Config{})

	result, err := d.Detect(context.Background(), "zone-1", "Alice actually now works at Google instead", []ExtractedEntity{{Text: "Alice", Label: "PERSON"}}, nil, nil, nil, "")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, RelationshipUpdates, result.Relationships[0].RelationshipType)
	assert.Equal(t, MethodHeuristic, result.Relationships[0].Method)
}

func TestDetect_EscalatesAmbiguousCaseToProvider(t *testing.T) {
	candidates := []Candidate{{MemoryID: "m1"}}
	provider := fixedProvider{result: Result{RelationshipType: RelationshipDerives, Method: MethodLLM, Confidence: 0.9}}
	d := NewDetector(&fakeCandidateSource{candidates: candidates}, provider, Config{ConfidenceThreshold: 1.1})

	result, err := d.Detect(context.Background(), "zone-1", "this means we should act", nil, nil, nil, nil, "")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, RelationshipDerives, result.Relationships[0].RelationshipType)
	assert.Equal(t, MethodLLM, result.Relationships[0].Method)
	assert.Equal(t, "m1", result.Relationships[0].TargetMemoryID)
}

func TestDetect_ProviderErrorFallsBackToHeuristicWithErrorMethod(t *testing.T) {
	candidates := []Candidate{{MemoryID: "m1"}}
	provider := fixedProvider{err: errors.New("llm unavailable")}
	d := NewDetector(&fakeCandidateSource{candidates: candidates}, provider, Config{ConfidenceThreshold: 1.1})

	result, err := d.Detect(context.Background(), "zone-1", "this means we should act", nil, nil, nil, nil, "")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, RelationshipDerives, result.Relationships[0].RelationshipType)
	assert.Equal(t, MethodError, result.Relationships[0].Method)
	assert.Contains(t, result.Relationships[0].Signals, "llm_fallback")
}

func TestDetect_StopsAtSoftTimeout(t *testing.T) {
	candidates := make([]Candidate, 5)
	for i := range candidates {
		candidates[i] = Candidate{MemoryID: "m"}
	}
	d := NewDetector(&fakeCandidateSource{candidates: candidates}, StubProvider{}, Config{Timeout: time.Nanosecond})

	calls := 0
	realNow := now
	defer func() { now = realNow }()
	start := realNow()
	now = func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(time.Second)
	}

	result, err := d.Detect(context.Background(), "zone-1", "no markers here", nil, nil, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 5, result.CandidatesEvaluated)
	assert.Empty(t, result.Relationships, "timeout should stop before any candidate is classified")
}
