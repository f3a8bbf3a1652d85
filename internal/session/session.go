// Package session verifies the signed session tokens issued by the identity
// collaborator. A session token is an HS256 JWT whose subject is the
// principal ID; expiry is mandatory.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/faults"
)

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier signs and verifies session tokens.
type Verifier struct {
	signingKey []byte
	issuer     string
	audience   string
	clock      func() time.Time
}

type Option func(*Verifier)

// WithClock overrides the time used for expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

func NewVerifier(signingKey []byte, issuer, audience string, opts ...Option) *Verifier {
	v := &Verifier{signingKey: signingKey, issuer: issuer, audience: audience, clock: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sign issues a session token for principal. Used by the CLI and tests; in
// production the identity collaborator signs with the shared key.
func (v *Verifier) Sign(principal id.PrincipalID, ttl time.Duration) (string, error) {
	now := v.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.String(),
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", faults.Internal(err, "sign session token")
	}
	return signed, nil
}

// Verify returns the principal a session token was issued to. All failures
// are authentication faults.
func (v *Verifier) Verify(tokenString string) (id.PrincipalID, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return v.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.PrincipalID{}, faults.Authentication("session expired")
		}
		return id.PrincipalID{}, faults.Authentication("invalid session").WithDetail("reason", err.Error())
	}
	if !parsed.Valid {
		return id.PrincipalID{}, faults.Authentication("invalid session")
	}

	principal, err := id.ParsePrincipalID(claims.Subject)
	if err != nil {
		return id.PrincipalID{}, faults.Authentication("invalid session subject")
	}
	return principal, nil
}
