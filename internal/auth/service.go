package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hublievents.com/internal/audit"
	"hublievents.com/internal/ids"
	"hublievents.com/internal/obs"
	"hublievents.com/internal/ratelimit"
)

const (
	DefaultResetTTL        = 24 * time.Hour
	DefaultVerificationTTL = 48 * time.Hour

	resourceUser = "user"
)

// AuditRecorder is the audit write path the service and gate depend on.
type AuditRecorder interface {
	Record(ctx context.Context, ev audit.Event) (audit.Entry, error)
}

// TokenPair is what login and refresh hand back to clients.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// RegisterInput is a self-service signup. Role defaults to customer.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Role     Role
}

// LoginInput carries the credentials plus the client address used for
// throttling.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
}

// Service owns the credential lifecycle: registration, login, refresh
// rotation, logout and password recovery.
type Service struct {
	store    Store
	tokens   *TokenService
	hasher   Hasher
	audit    AuditRecorder
	revoker  Revoker
	notifier Notifier

	limiter       ratelimit.Limiter
	loginAttempts int
	loginWindow   time.Duration

	resetTTL  time.Duration
	verifyTTL time.Duration
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

func WithAuditRecorder(r AuditRecorder) ServiceOption {
	return func(s *Service) { s.audit = r }
}

// WithLoginLimiter throttles logins to attempts per window for each
// email and client address pair.
func WithLoginLimiter(l ratelimit.Limiter, attempts int, window time.Duration) ServiceOption {
	return func(s *Service) {
		if l == nil || attempts <= 0 || window <= 0 {
			return
		}
		s.limiter = l
		s.loginAttempts = attempts
		s.loginWindow = window
	}
}

func WithRevoker(r Revoker) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.revoker = r
		}
	}
}

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	s := &Service{
		store:     store,
		tokens:    tokens,
		hasher:    NewBcryptHasher(12),
		revoker:   NopRevoker{},
		notifier:  LogNotifier{},
		limiter:   ratelimit.Unlimited{},
		resetTTL:  DefaultResetTTL,
		verifyTTL: DefaultVerificationTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tokens exposes the signer for callers that only need verification.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Register creates a principal after the password policy passes. Privileged
// roles cannot be requested here; see Bootstrap.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Principal, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, &ValidationError{Message: "Email is required"}
	}
	role := in.Role
	if role == "" {
		role = RoleCustomer
	}
	if role != RoleGuest && role != RoleCustomer {
		return nil, &ValidationError{Message: "Role is not available for registration"}
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("auth: lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	p := &Principal{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         role,
		IsActive:     true,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("auth: create principal: %w", err)
	}
	if err := s.RequestVerification(ctx, p); err != nil {
		logger := obs.Logger()
		logger.Warn().Err(err).Str("user_id", p.ID).Msg("verification_issue_failed")
	}
	return p, nil
}

// Bootstrap creates a verified super admin, or promotes the existing
// principal with that email. created reports which happened.
func (s *Service) Bootstrap(ctx context.Context, email, password, fullName string) (p *Principal, created bool, err error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, false, &ValidationError{Message: "Email is required"}
	}
	existing, err := s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		old := existing.Role
		existing.Role = RoleSuperAdmin
		existing.IsActive = true
		existing.IsVerified = true
		if err := s.store.Save(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("auth: promote principal: %w", err)
		}
		if old != RoleSuperAdmin {
			s.record(ctx, audit.Event{
				Action:       audit.ActionUserRoleChanged,
				ResourceType: resourceUser,
				ResourceID:   existing.ID,
				OldValues:    map[string]string{"role": string(old)},
				NewValues:    map[string]string{"role": string(RoleSuperAdmin)},
				Notes:        "Promoted by bootstrap",
			})
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("auth: lookup email: %w", err)
	}

	if err := ValidatePassword(password); err != nil {
		return nil, false, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, err
	}
	p = &Principal{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		Role:         RoleSuperAdmin,
		IsActive:     true,
		IsVerified:   true,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, false, fmt.Errorf("auth: create principal: %w", err)
	}
	s.record(ctx, audit.Event{
		AdminID:      p.ID,
		Action:       audit.ActionUserCreated,
		ResourceType: resourceUser,
		ResourceID:   p.ID,
		NewValues:    map[string]string{"email": p.Email, "role": string(p.Role)},
		Notes:        "Admin user registered",
	})
	return p, true, nil
}

// Login checks credentials and issues a fresh pair. Unknown email and wrong
// password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Principal, TokenPair, error) {
	email := NormalizeEmail(in.Email)
	key := "login:" + email + "|" + in.IPAddress

	// A limiter that cannot count refuses the attempt.
	d, err := s.limiter.Allow(ctx, key, s.loginAttempts, s.loginWindow)
	if err != nil {
		logger := obs.Logger()
		logger.Warn().Err(err).Str("email", email).Msg("login_limiter_unavailable")
		obs.ObserveLogin("throttled")
		return nil, TokenPair{}, ErrThrottled
	}
	if !d.Allowed {
		obs.ObserveLogin("throttled")
		return nil, TokenPair{}, ErrThrottled
	}

	p, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, TokenPair{}, fmt.Errorf("auth: lookup email: %w", err)
		}
		s.hasher.Verify(in.Password, s.dummy())
		obs.ObserveLogin("failure")
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(in.Password, p.PasswordHash) {
		if p.IsAdmin() {
			s.record(ctx, audit.Event{
				AdminID:      p.ID,
				Action:       audit.ActionLoginAttempt,
				ResourceType: resourceUser,
				ResourceID:   p.ID,
				Notes:        "Failed login attempt",
				IPAddress:    in.IPAddress,
			})
		}
		obs.ObserveLogin("failure")
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if !p.IsActive {
		obs.ObserveLogin("disabled")
		return nil, TokenPair{}, ErrAccountDisabled
	}

	p.LastLoginAt = s.now().UTC()
	pair, err := s.IssueTokenPair(ctx, p)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		logger := obs.Logger()
		logger.Warn().Err(err).Msg("login_limiter_reset_failed")
	}
	obs.ObserveLogin("success")
	return p, pair, nil
}

// IssueTokenPair signs an access and refresh token for p and persists the
// refresh hash, replacing any previous one. p is updated only once the
// write succeeds.
func (s *Service) IssueTokenPair(ctx context.Context, p *Principal) (TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(p, s.tokens.AccessTTL())
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(p, s.tokens.RefreshTTL())
	if err != nil {
		return TokenPair{}, err
	}
	hash, err := hashToken(s.hasher, refresh)
	if err != nil {
		return TokenPair{}, err
	}

	next := *p
	next.RefreshTokenHash = hash
	next.RefreshTokenExpiresAt = refreshExp
	if err := s.store.Save(ctx, &next); err != nil {
		return TokenPair{}, fmt.Errorf("auth: persist refresh token: %w", err)
	}
	*p = next

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		ExpiresIn:        int(s.tokens.AccessTTL() / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh rotates a refresh token. The token must verify, belong to an
// active principal, and match the hash currently on record. A token that
// was already rotated away or revoked fails with ErrTokenInvalid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Principal, TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, KindRefresh)
	if err != nil {
		obs.ObserveRefresh("invalid")
		return nil, TokenPair{}, ErrTokenInvalid
	}
	p, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("invalid")
			return nil, TokenPair{}, ErrTokenInvalid
		}
		return nil, TokenPair{}, fmt.Errorf("auth: load principal: %w", err)
	}
	if !p.IsActive ||
		p.RefreshTokenHash == "" ||
		!s.now().Before(p.RefreshTokenExpiresAt) ||
		!verifyToken(s.hasher, refreshToken, p.RefreshTokenHash) {
		obs.ObserveRefresh("invalid")
		return nil, TokenPair{}, ErrTokenInvalid
	}
	pair, err := s.IssueTokenPair(ctx, p)
	if err != nil {
		obs.ObserveRefresh("error")
		return nil, TokenPair{}, err
	}
	obs.ObserveRefresh("success")
	return p, pair, nil
}

// Revoke clears the stored refresh hash so outstanding refresh tokens stop
// working. Access tokens are unaffected.
func (s *Service) Revoke(ctx context.Context, principalID string) error {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		return fmt.Errorf("auth: load principal: %w", err)
	}
	if p.RefreshTokenHash == "" && p.RefreshTokenExpiresAt.IsZero() {
		return nil
	}
	p.ClearRefreshToken()
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("auth: revoke refresh token: %w", err)
	}
	return nil
}

// Logout revokes the refresh token and, when a denylist is configured, the
// presented access token too.
func (s *Service) Logout(ctx context.Context, p *Principal, claims *Claims) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if err := s.Revoke(ctx, p.ID); err != nil {
		return err
	}
	if claims != nil && claims.ExpiresAt != nil {
		if err := s.revoker.RevokeJTI(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			logger := obs.Logger()
			logger.Warn().Err(err).Str("user_id", p.ID).Msg("access_token_revoke_failed")
		}
	}
	if p.IsAdmin() {
		s.record(ctx, audit.Event{
			AdminID:      p.ID,
			Action:       audit.ActionLoginAttempt,
			ResourceType: resourceUser,
			ResourceID:   p.ID,
			Notes:        "User logged out",
		})
	}
	return nil
}

// ChangePassword requires the current password and ends every refresh
// session.
func (s *Service) ChangePassword(ctx context.Context, principalID, current, next string) error {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		return fmt.Errorf("auth: load principal: %w", err)
	}
	if !s.hasher.Verify(current, p.PasswordHash) {
		return &ValidationError{Message: "Current password is incorrect"}
	}
	if current == next {
		return &ValidationError{Message: "New password must be different from the current password"}
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	p.ClearRefreshToken()
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("auth: save password: %w", err)
	}
	if p.IsAdmin() {
		s.record(ctx, audit.Event{
			AdminID:      p.ID,
			Action:       audit.ActionUserUpdated,
			ResourceType: resourceUser,
			ResourceID:   p.ID,
			Notes:        "Password changed",
		})
	}
	return nil
}

// RequestPasswordReset issues a single-use reset token when the email
// belongs to an active principal. The outcome is the same either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	p, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("auth: lookup email: %w", err)
	}
	if !p.IsActive {
		return nil
	}
	token, err := ids.Opaque(32)
	if err != nil {
		return err
	}
	p.PasswordResetHash = tokenDigest(token)
	p.PasswordResetExpiresAt = s.now().UTC().Add(s.resetTTL)
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("auth: save reset token: %w", err)
	}
	if err := s.notifier.SendPasswordReset(ctx, p, token); err != nil {
		logger := obs.Logger()
		logger.Warn().Err(err).Str("user_id", p.ID).Msg("password_reset_delivery_failed")
	}
	return nil
}

var errResetToken = &ValidationError{Message: "Invalid or expired reset token"}

// ConfirmPasswordReset consumes a reset token and sets a new password. The
// token is not consumed when the new password is rejected by policy.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errResetToken
	}
	p, err := s.store.FindByResetTokenHash(ctx, tokenDigest(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errResetToken
		}
		return fmt.Errorf("auth: lookup reset token: %w", err)
	}
	if !s.now().Before(p.PasswordResetExpiresAt) {
		p.PasswordResetHash = ""
		p.PasswordResetExpiresAt = time.Time{}
		if err := s.store.Save(ctx, p); err != nil {
			return fmt.Errorf("auth: clear reset token: %w", err)
		}
		return errResetToken
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	p.PasswordResetHash = ""
	p.PasswordResetExpiresAt = time.Time{}
	p.ClearRefreshToken()
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("auth: save password: %w", err)
	}
	return nil
}

// RequestVerification issues an email verification token for an unverified
// principal.
func (s *Service) RequestVerification(ctx context.Context, p *Principal) error {
	if p == nil || p.IsVerified {
		return nil
	}
	token, err := ids.Opaque(32)
	if err != nil {
		return err
	}
	p.VerificationHash = tokenDigest(token)
	p.VerificationExpiresAt = s.now().UTC().Add(s.verifyTTL)
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("auth: save verification token: %w", err)
	}
	return s.notifier.SendVerification(ctx, p, token)
}

var errVerificationToken = &ValidationError{Message: "Invalid or expired verification token"}

// VerifyEmail consumes a verification token and marks the principal
// verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errVerificationToken
	}
	p, err := s.store.FindByVerificationHash(ctx, tokenDigest(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errVerificationToken
		}
		return nil, fmt.Errorf("auth: lookup verification token: %w", err)
	}
	if !s.now().Before(p.VerificationExpiresAt) {
		return nil, errVerificationToken
	}
	p.IsVerified = true
	p.VerificationHash = ""
	p.VerificationExpiresAt = time.Time{}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("auth: save verification: %w", err)
	}
	return p, nil
}

// dummy is a real bcrypt hash compared against when the email is unknown so
// both login failures cost the same.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("hublievents-dummy-password")
	})
	return s.dummyHash
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	recordBestEffort(ctx, s.audit, ev)
}

func recordBestEffort(ctx context.Context, r AuditRecorder, ev audit.Event) {
	if r == nil {
		return
	}
	if _, err := r.Record(ctx, ev); err != nil {
		logger := obs.Logger()
		logger.Warn().Err(err).Str("action", string(ev.Action)).Msg("audit_record_failed")
	}
}
