package queryexpansion

// SignalDetector decides whether an initial BM25 pass already shows a
// strong enough signal that query expansion is unlikely to improve recall,
// trading a small amount of recall for skipping the LLM call entirely.
type SignalDetector struct {
	strongSignalThreshold float64
	separationThreshold   float64
}

// NewSignalDetector builds a SignalDetector from the given thresholds.
func NewSignalDetector(strongSignalThreshold, separationThreshold float64) SignalDetector {
	return SignalDetector{strongSignalThreshold: strongSignalThreshold, separationThreshold: separationThreshold}
}

// HasStrongSignal reports whether results' top hit is both highly
// confident and well-separated from the runner-up, meaning expansion is
// unlikely to help.
func (d SignalDetector) HasStrongSignal(results []SearchResult) bool {
	if len(results) == 0 {
		return false
	}

	top := results[0].Score
	var second float64
	if len(results) > 1 {
		second = results[1].Score
	}

	return top >= d.strongSignalThreshold && (top-second) >= d.separationThreshold
}

// ShouldExpand reports whether expansion should run, given an initial
// result set. It's the negation of HasStrongSignal.
func (d SignalDetector) ShouldExpand(results []SearchResult) bool {
	return !d.HasStrongSignal(results)
}
