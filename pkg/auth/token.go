package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
)

// clockSkew tolerates identity-service clocks running slightly ahead.
const clockSkew = 30 * time.Second

var (
	signingMethod = jwt.SigningMethodHS256

	errNoSecret = errors.New("auth: jwt secret not configured")
	errNoIssuer = errors.New("auth: jwt issuer not configured")
)

// Verifier checks access tokens from the identity service. Build one at
// startup and share it; it holds no per-request state.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	switch {
	case cfg.Secret == "":
		return nil, errNoSecret
	case cfg.Issuer == "":
		return nil, errNoIssuer
	}
	return &Verifier{
		key: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Verify returns the actor the token speaks for.
func (v *Verifier) Verify(raw string) (Actor, error) {
	var claims AccessTokenClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return v.key, nil }); err != nil {
		return Actor{}, err
	}
	switch {
	case claims.UserID == uuid.Nil:
		return Actor{}, errors.New("token has no user_id")
	case !claims.Role.IsValid():
		return Actor{}, fmt.Errorf("token role %q is not recognised", claims.Role)
	}
	return ActorFromClaims(&claims), nil
}

// MintAccessToken signs a token for actor. Production tokens come from the
// identity service; local tooling and tests use this.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, actor Actor) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errNoSecret
	case cfg.Issuer == "":
		return "", errNoIssuer
	case ttl <= 0:
		return "", errors.New("auth: token ttl must be positive")
	case !actor.Role.IsValid():
		return "", fmt.Errorf("auth: role %q is not recognised", actor.Role)
	}
	token := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		UserID: actor.UserID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    cfg.Issuer,
			Subject:   actor.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(cfg.Secret))
}
