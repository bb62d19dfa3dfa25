package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// issuedAtSkew tolerates clocks that run slightly ahead of ours.
	issuedAtSkew = 5 * time.Second
)

// TokenKind separates access from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the JWT payload. Email and Role are set on access tokens only.
type Claims struct {
	Email string    `json:"email,omitempty"`
	Role  Role      `json:"role,omitempty"`
	Type  TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens. It holds no mutable state
// after construction and is safe for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService) error

// WithIssuer sets the iss claim written and required on verify.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures the default access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl <= 0 {
			return fmt.Errorf("auth: access ttl must be positive, got %s", ttl)
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures the default refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl <= 0 {
			return fmt.Errorf("auth: refresh ttl must be positive, got %s", ttl)
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService copies secret; later changes to the caller's slice have no
// effect.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	svc := &TokenService{
		secret:     append([]byte(nil), secret...),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs an access token carrying the principal's email and
// role. A zero ttl yields a token that is already expired.
func (s *TokenService) IssueAccessToken(p *Principal, ttl time.Duration) (string, time.Time, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, errors.New("auth: principal id is required")
	}
	return s.sign(Claims{Email: p.Email, Role: p.Role, Type: KindAccess}, p.ID, ttl)
}

// IssueRefreshToken signs a refresh token. It does not persist anything; see
// Service.IssueTokenPair for rotation.
func (s *TokenService) IssueRefreshToken(p *Principal, ttl time.Duration) (string, time.Time, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, errors.New("auth: principal id is required")
	}
	return s.sign(Claims{Type: KindRefresh}, p.ID, ttl)
}

func (s *TokenService) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl < 0 {
		return "", time.Time{}, fmt.Errorf("auth: negative ttl %s", ttl)
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, kind, issuer and expiry. Every failure returns
// ErrTokenInvalid so callers cannot learn which check tripped.
func (s *TokenService) Verify(token string, expected TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if err := s.validateClaims(claims, expected); err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *TokenService) validateClaims(c *Claims, expected TokenKind) error {
	if c.Type != expected {
		return fmt.Errorf("unexpected token type %q", c.Type)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	if c.Issuer != s.issuer {
		return fmt.Errorf("unexpected issuer %q", c.Issuer)
	}
	if c.ExpiresAt == nil || c.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := s.now()
	// Inclusive: a token is dead at the instant it expires.
	if !now.Before(c.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if c.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return errors.New("token issued in the future")
	}
	if expected == KindAccess && !c.Role.Valid() {
		return errors.New("access token without a valid role")
	}
	return nil
}
