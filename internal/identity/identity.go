// Package identity verifies bearer tokens issued by the identity provider.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/errs"
)

var (
	ErrInvalidToken = errs.Sentinel("invalid token", errs.ErrUnauthorized)
	ErrExpiredToken = errs.Sentinel("token expired", errs.ErrUnauthorized)
)

// Identity is the verified caller.
type Identity struct {
	Subject  string
	Name     string
	Email    string
	Verified bool
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type Claims struct {
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secretKey []byte
	issuer    string
	clock     clock.Clock
}

func NewJWTVerifier(secretKey, issuer string, clk clock.Clock) *JWTVerifier {
	return &JWTVerifier{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		clock:     clk,
	}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, errs.Wrap(ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		Subject:  claims.Subject,
		Name:     claims.Name,
		Email:    claims.Email,
		Verified: claims.EmailVerified,
	}, nil
}

// Issue signs a token for id valid for ttl.
func (v *JWTVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Name:          id.Name,
		Email:         id.Email,
		EmailVerified: id.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
