package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultCredentialTTL = 24 * time.Hour

// CredentialClaims are the claims of a phone-ownership credential
type CredentialClaims struct {
	UserID      uuid.UUID `json:"sub"`
	PhoneNumber string    `json:"phone_number"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies credentials
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTService creates a new JWT service; ttl <= 0 selects 24h
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// SignCredential creates a credential token for an identity and phone number
func (s *JWTService) SignCredential(userID uuid.UUID, phoneNumber string) (string, *CredentialClaims, error) {
	now := time.Now()
	claims := &CredentialClaims{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	return tokenString, claims, nil
}

// VerifyCredential verifies and parses a credential token
func (s *JWTService) VerifyCredential(tokenString string) (*CredentialClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CredentialClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}

	claims, ok := token.Claims.(*CredentialClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid credential")
	}

	return claims, nil
}
