// Package token decodes access-token claims locally. The client never holds
// the signing key, so decoding is unverified by design: the backend remains
// the authority on token validity, the client only reads the expiry and
// identity claims to schedule its own refreshes.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned for anything that does not decode as a JWT with
// an expiry claim. Callers must fail closed on it, never substitute a
// default expiry.
var ErrMalformed = errors.New("malformed access token")

// Claims are the decoded access-token claims the client cares about.
type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	VendorID string `json:"vendor_id,omitempty"`

	jwt.RegisteredClaims
}

// Roles carried in the role claim.
const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
)

var parser = jwt.NewParser()

// Decode parses the token without signature verification and returns its
// claims. A missing expiry claim is treated as malformed.
func Decode(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}

	if claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}

	return claims, nil
}

// ExpiresAtTime returns the expiry instant.
func (c *Claims) ExpiresAtTime() time.Time {
	return c.ExpiresAt.Time
}

// Remaining returns the lifetime left at now. Negative when expired.
func (c *Claims) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Time.Sub(now)
}

// Expired reports whether the token is past its expiry at now.
func (c *Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt.Time)
}

// NeedsRefresh reports whether the remaining lifetime at now is below the
// renewal threshold.
func (c *Claims) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return c.Remaining(now) <= threshold
}

// Pair is an access/refresh token pair as returned by the backend.
type Pair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh,omitempty"`
}

// Valid reports whether the pair carries an access token.
func (p Pair) Valid() bool {
	return p.AccessToken != ""
}
