package sessiontoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/config"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Issued is a freshly minted session token.
type Issued struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// Manager mints and verifies HS256 session tokens for signed-in accounts.
type Manager struct {
	cfg   config.SessionConfig
	clock Clock
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func New(cfg config.SessionConfig) *Manager {
	return NewWithOptions(cfg, nil)
}

func NewWithOptions(cfg config.SessionConfig, clock Clock) *Manager {
	if clock == nil {
		clock = realClock{}
	}
	return &Manager{cfg: cfg, clock: clock}
}

// Issue signs a token for subject valid for the configured TTL.
func (m *Manager) Issue(subject, email string) (Issued, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Issued{}, fmt.Errorf("issue session: subject is required")
	}
	if len(m.cfg.Secret) == 0 {
		return Issued{}, fmt.Errorf("issue session: secret is not configured")
	}

	now := m.clock.Now().UTC().Truncate(time.Second)
	exp := now.Add(m.cfg.TTL)
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return Issued{}, fmt.Errorf("issue session: %w", err)
	}
	return Issued{Token: signed, Subject: subject, ExpiresAt: exp}, nil
}

// Verify verifies a session token and returns the subject from the `sub` claim.
func (m *Manager) Verify(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithTimeFunc(m.clock.Now),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.cfg.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", ErrUnauthorized
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}
