package queryexpansion

import (
	"context"
	"fmt"
	"time"
)

// now is overridden in tests for deterministic latency measurement.
var now = time.Now

// Service is the high-level query expansion entry point: smart-triggering
// plus optional caching around an Expander.
type Service struct {
	expander  Expander
	cfg       Config
	signal    SignalDetector
	cache     *cache
	modelUsed string
}

// NewService wires a Service. modelUsed is reported on Result.ModelUsed
// when expansion actually runs; pass "" if the Expander doesn't correspond
// to a named model (e.g. StubExpander).
func NewService(expander Expander, cfg Config, modelUsed string) (*Service, error) {
	cfg.ApplyDefaults()

	var c *cache
	if cfg.CacheEnabled {
		var err error
		c, err = newCache()
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		expander:  expander,
		cfg:       cfg,
		signal:    NewSignalDetector(cfg.StrongSignalThreshold, cfg.SignalSeparationThreshold),
		cache:     c,
		modelUsed: modelUsed,
	}, nil
}

// ExpandIfNeeded runs smart-triggered query expansion: skipped entirely if
// disabled, skipped if initialResults already shows a strong signal (unless
// force is set), served from cache on a hit, otherwise generated fresh via
// the wired Expander.
func (s *Service) ExpandIfNeeded(ctx context.Context, query string, initialResults []SearchResult, collectionContext string, force bool) (Result, error) {
	start := now()

	if !s.cfg.Enabled {
		return Result{OriginalQuery: query, WasExpanded: false, SkipReason: "expansion_disabled"}, nil
	}

	if !force && len(initialResults) > 0 && !s.signal.ShouldExpand(initialResults) {
		return Result{
			OriginalQuery: query,
			WasExpanded:   false,
			SkipReason:    "strong_bm25_signal",
			LatencyMS:     elapsedMS(start),
		}, nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.get(query, collectionContext); ok {
			return Result{
				OriginalQuery: query,
				Expansions:    cached,
				WasExpanded:   true,
				ModelUsed:     s.modelUsed,
				LatencyMS:     elapsedMS(start),
				CacheHit:      true,
			}, nil
		}
	}

	expansions, err := s.expander.Expand(ctx, query, collectionContext)
	if err != nil {
		return Result{
			OriginalQuery: query,
			WasExpanded:   false,
			SkipReason:    fmt.Sprintf("error: %v", err),
			LatencyMS:     elapsedMS(start),
		}, nil
	}

	if s.cache != nil && len(expansions) > 0 {
		s.cache.set(query, collectionContext, expansions, s.cfg.CacheTTL)
	}

	return Result{
		OriginalQuery: query,
		Expansions:    expansions,
		WasExpanded:   true,
		ModelUsed:     s.modelUsed,
		LatencyMS:     elapsedMS(start),
	}, nil
}

func elapsedMS(start time.Time) float64 {
	return float64(now().Sub(start)) / float64(time.Millisecond)
}
