package auth

import (
	"errors"
	"fmt"
	"time"

	"DebtAllocator/internal/model"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier issues and checks HS256 tokens whose subject is the caller
// address.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for account valid for ttl.
func (v *TokenVerifier) Issue(account model.StrategyID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Subject:   account.Hex(),
		Issuer:    v.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a token and returns the caller it was issued to.
func (v *TokenVerifier) Verify(raw string) (model.StrategyID, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return model.StrategyID{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.StrategyID{}, ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return model.StrategyID{}, fmt.Errorf("%w: issuer %q", ErrInvalidToken, claims.Issuer)
	}
	caller, err := model.ParseStrategyID(claims.Subject)
	if err != nil {
		return model.StrategyID{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return caller, nil
}
