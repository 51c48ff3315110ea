package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cubist/cubist/backend-go/internal/typeid"
)

var ErrInvalidToken = errors.New("invalid token")

// DefaultTokenTTL bounds how long a session token is accepted.
const DefaultTokenTTL = 24 * time.Hour

// Service issues and validates the bearer tokens that grant access to one
// editor session.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewService(jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

type TokenResult struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueToken signs a token whose subject is sessionID.
func (s *Service) IssueToken(sessionID string) (*TokenResult, error) {
	if err := typeid.Validate(sessionID, typeid.PrefixSession); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub": sessionID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &TokenResult{Token: signed, SessionID: sessionID, ExpiresAt: exp.UTC().Truncate(time.Second)}, nil
}

// ValidateToken returns the session id a token grants access to.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	sessionID, ok := claims["sub"].(string)
	if !ok || typeid.Validate(sessionID, typeid.PrefixSession) != nil {
		return "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	return sessionID, nil
}
