// Package auth authenticates the operator and issues the bearer tokens
// that guard the control surface.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const issuer = "bidengine"

type Service interface {
	Login(ctx context.Context, username, password string) (Token, error)
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Token is a signed operator token and its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Operator is the single configured account allowed to drive the engine.
type Operator struct {
	Username     string
	PasswordHash string // bcrypt
}

type service struct {
	operator Operator
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewService(op Operator, secret string, ttl time.Duration) *service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{operator: op, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// HashPassword returns the bcrypt hash stored in operator_password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *service) Login(ctx context.Context, username, password string) (Token, error) {
	if s.operator.PasswordHash == "" {
		return Token{}, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.operator.Username)) == 1
	// bcrypt runs even when the username is wrong
	pwErr := bcrypt.CompareHashAndPassword([]byte(s.operator.PasswordHash), []byte(password))
	if !userOK || pwErr != nil {
		return Token{}, ErrInvalidCredentials
	}
	return s.issueToken(username)
}

func (s *service) issueToken(subject string) (Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	c := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp.UTC().Truncate(time.Second)}, nil
}

// ValidateToken returns the operator name carried by token.
func (s *service) ValidateToken(ctx context.Context, token string) (string, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
