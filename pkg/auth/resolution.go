package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ccodaemon/ccod/pkg/identity"
)

const resolutionTokenTTL = 10 * time.Minute

// ResolutionClaims binds a signed resolution token to a single pending
// permission decision so that whoever eventually calls the resolve
// endpoint is provably the holder of the token the gate issued.
type ResolutionClaims struct {
	jwt.RegisteredClaims
	DecisionID string `json:"decision_id"`
}

// ResolutionIssuer signs and verifies short-lived tokens accompanying
// Pending permission decisions.
type ResolutionIssuer struct {
	keys identity.KeySet
}

// NewResolutionIssuer builds an issuer backed by keys.
func NewResolutionIssuer(keys identity.KeySet) *ResolutionIssuer {
	return &ResolutionIssuer{keys: keys}
}

// IssueFor mints a resolution token scoped to decisionID, valid for
// 10 minutes.
func (i *ResolutionIssuer) IssueFor(ctx context.Context, decisionID string) (string, error) {
	now := time.Now()
	claims := &ResolutionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resolutionTokenTTL)),
			Subject:   decisionID,
		},
		DecisionID: decisionID,
	}
	return i.keys.Sign(ctx, claims)
}

// Verify parses tokenStr and confirms it was issued for decisionID.
func (i *ResolutionIssuer) Verify(tokenStr, decisionID string) error {
	claims := &ResolutionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, i.keys.KeyFunc())
	if err != nil {
		return fmt.Errorf("auth: resolution token invalid: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("auth: resolution token invalid")
	}
	if claims.DecisionID != decisionID {
		return fmt.Errorf("auth: resolution token does not match decision %q", decisionID)
	}
	return nil
}
