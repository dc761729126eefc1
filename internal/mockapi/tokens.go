package mockapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// tokenClaims is the payload of tokens issued by the fake backend.
type tokenClaims struct {
	Role  int    `json:"role"`
	Type  string `json:"typ"`
	Epoch int    `json:"ep"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies HS256 tokens against the server clock.
type tokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func (ti *tokenIssuer) issue(userID string, role int, typ string, epoch int, ttl time.Duration) (string, error) {
	now := ti.now()
	claims := tokenClaims{
		Role:  role,
		Type:  typ,
		Epoch: epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "leaf-mock",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

func (ti *tokenIssuer) verify(token, typ string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Type != typ {
		return nil, errors.New("wrong token type")
	}
	return claims, nil
}
