package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService verifies access tokens issued by the identity provider.
// The subject claim carries the caller's user id. Issuing is kept for
// tooling and tests; the core itself only verifies.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateForUser creates a JWT for the given user id using the default TTL.
func (t *TokenService) CreateForUser(userID string) (string, error) {
	return t.CreateWithTTL(userID, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given user id with an explicit TTL.
func (t *TokenService) CreateWithTTL(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Subject validates a token and returns the user id it was issued for.
func (t *TokenService) Subject(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return claims.Subject, nil
}
