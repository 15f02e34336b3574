package identity

import (
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/errl"
)

// TokenClaims are the access token claims worth knowing when a directory
// call is refused: who the token was issued to and which roles it carries.
type TokenClaims struct {
	AppID    string   `json:"appid"`
	ObjectID string   `json:"oid"`
	TenantID string   `json:"tid"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of an access token without verifying it.
// The token comes straight from the identity provider; the directory verifies it.
func ParseClaims(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, errl.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

// Describe returns slog attributes summarising tok. Opaque tokens only report their expiry.
func Describe(tok *oauth2.Token) []any {
	if tok == nil {
		return nil
	}
	attrs := []any{"expiry", tok.Expiry}
	claims, err := ParseClaims(tok.AccessToken)
	if err != nil {
		return attrs
	}
	return append(attrs,
		"app_id", claims.AppID,
		"object_id", claims.ObjectID,
		"tenant_id", claims.TenantID,
		"roles", claims.Roles)
}
