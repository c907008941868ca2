package sharelink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{Secret: "0123456789abcdef0123456789abcdef"}
}

func TestIssueAndParseToken_RoundTrip(t *testing.T) {
	link := Link{LinkID: "link-1", ZoneID: "zone-a"}
	token, err := IssueToken(testTokenConfig(), link, time.Now())
	require.NoError(t, err)

	linkID, err := ParseToken(testTokenConfig(), token)
	require.NoError(t, err)
	assert.Equal(t, "link-1", linkID)
}

func TestIssueToken_RejectsShortSecret(t *testing.T) {
	_, err := IssueToken(TokenConfig{Secret: "too-short"}, Link{LinkID: "x"}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestParseToken_RejectsWrongSignature(t *testing.T) {
	link := Link{LinkID: "link-1"}
	token, err := IssueToken(testTokenConfig(), link, time.Now())
	require.NoError(t, err)

	otherCfg := TokenConfig{Secret: "fedcba9876543210fedcba9876543210"}
	_, err = ParseToken(otherCfg, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsExpiredEnvelope(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	link := Link{LinkID: "link-1", ExpiresAt: &past}
	token, err := IssueToken(testTokenConfig(), link, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = ParseToken(testTokenConfig(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseToken_RejectsGarbage(t *testing.T) {
	_, err := ParseToken(testTokenConfig(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
