package sharelink

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by ParseToken for a malformed, unsigned, or
// wrong-signature capability token.
var ErrInvalidToken = errors.New("sharelink: invalid capability token")

// ErrExpiredToken is returned by ParseToken for a token past its exp
// claim. The underlying link's own ExpiresAt is the authoritative
// expiration check; this only catches a token whose envelope itself
// carries a shorter lifetime.
var ErrExpiredToken = errors.New("sharelink: capability token expired")

// ErrInvalidSecretLength guards against a signing key weak enough to
// make the token forgeable.
var ErrInvalidSecretLength = errors.New("sharelink: signing secret must be at least 32 bytes")

// TokenConfig configures the signed envelope wrapped around a share
// link's database ID. The envelope makes the capability URL itself
// tamper-evident: even though LinkID is already 122 bits of entropy, a
// recipient who only ever sees the signed token can't be handed a
// link_id that didn't come from this server.
type TokenConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 bytes.
	Secret string
	// Issuer is the token issuer claim. Default: "nexus-sharelink".
	Issuer string
}

func (c *TokenConfig) applyDefaults() error {
	if len(c.Secret) < 32 {
		return ErrInvalidSecretLength
	}
	if c.Issuer == "" {
		c.Issuer = "nexus-sharelink"
	}
	return nil
}

// capabilityClaims is the JWT payload wrapping a share link's database
// identifier. ZoneID rides along so a transport can route the lookup
// without a second join.
type capabilityClaims struct {
	jwt.RegisteredClaims
	LinkID string `json:"lid"`
	ZoneID string `json:"zid,omitempty"`
}

// IssueToken signs a capability token wrapping link's ID. The token's
// own expiration mirrors the link's ExpiresAt when set; a link with no
// expiration gets a token with no exp claim either (jwt.ParseWithClaims
// treats an absent exp as never-expiring).
func IssueToken(cfg TokenConfig, link Link, issuedAt time.Time) (string, error) {
	if err := cfg.applyDefaults(); err != nil {
		return "", err
	}

	claims := &capabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cfg.Issuer,
			Subject:  link.LinkID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
		LinkID: link.LinkID,
		ZoneID: link.ZoneID,
	}
	if link.ExpiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*link.ExpiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sharelink: sign capability token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a capability token's signature and expiration and
// returns the link_id it wraps.
func ParseToken(cfg TokenConfig, tokenString string) (linkID string, err error) {
	if err := cfg.applyDefaults(); err != nil {
		return "", err
	}

	token, err := jwt.ParseWithClaims(tokenString, &capabilityClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*capabilityClaims)
	if !ok || !token.Valid || claims.LinkID == "" {
		return "", ErrInvalidToken
	}
	return claims.LinkID, nil
}
