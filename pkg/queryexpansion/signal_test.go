package queryexpansion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalDetector_NoResultsMeansNoStrongSignal(t *testing.T) {
	d := NewSignalDetector(0.85, 0.10)
	assert.False(t, d.HasStrongSignal(nil))
	assert.True(t, d.ShouldExpand(nil))
}

func TestSignalDetector_StrongAndSeparatedSkipsExpansion(t *testing.T) {
	d := NewSignalDetector(0.85, 0.10)
	results := []SearchResult{{Score: 0.95}, {Score: 0.5}}
	assert.True(t, d.HasStrongSignal(results))
	assert.False(t, d.ShouldExpand(results))
}

func TestSignalDetector_HighScoreWithoutSeparationStillExpands(t *testing.T) {
	d := NewSignalDetector(0.85, 0.10)
	results := []SearchResult{{Score: 0.90}, {Score: 0.89}}
	assert.False(t, d.HasStrongSignal(results))
	assert.True(t, d.ShouldExpand(results))
}

func TestSignalDetector_BelowThresholdExpands(t *testing.T) {
	d := NewSignalDetector(0.85, 0.10)
	results := []SearchResult{{Score: 0.5}}
	assert.True(t, d.ShouldExpand(results))
}
