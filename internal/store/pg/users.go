package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hublievents.com/internal/auth"
	"hublievents.com/internal/ids"
)

var _ auth.Store = (*Store)(nil)

const userColumns = `id, email, password_hash, full_name, phone, role, is_active, is_verified,
		refresh_token_hash, refresh_token_expires_at,
		password_reset_hash, password_reset_expires_at,
		verification_hash, verification_expires_at,
		last_login_at, created_at, updated_at`

func (s *Store) FindByID(ctx context.Context, id string) (*auth.Principal, error) {
	return s.findUser(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	return s.findUser(ctx, `select `+userColumns+` from users where email = $1`, auth.NormalizeEmail(email))
}

func (s *Store) FindByResetTokenHash(ctx context.Context, digest string) (*auth.Principal, error) {
	if digest == "" {
		return nil, auth.ErrNotFound
	}
	return s.findUser(ctx, `select `+userColumns+` from users where password_reset_hash = $1`, digest)
}

func (s *Store) FindByVerificationHash(ctx context.Context, digest string) (*auth.Principal, error) {
	if digest == "" {
		return nil, auth.ErrNotFound
	}
	return s.findUser(ctx, `select `+userColumns+` from users where verification_hash = $1`, digest)
}

func (s *Store) findUser(ctx context.Context, query string, arg any) (*auth.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	p, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts p, assigning an id when empty. A duplicate email maps to
// auth.ErrConflict.
func (s *Store) Create(ctx context.Context, p *auth.Principal) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.Email = auth.NormalizeEmail(p.Email)
	err := s.db.QueryRowContext(ctx, `
		insert into users(id, email, password_hash, full_name, phone, role, is_active, is_verified,
			verification_hash, verification_expires_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())
		returning created_at, updated_at
	`, p.ID, p.Email, p.PasswordHash, p.FullName, nullIfEmpty(p.Phone), string(p.Role), p.IsActive, p.IsVerified,
		nullIfEmpty(p.VerificationHash), nullTime(p.VerificationExpiresAt),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Save overwrites every mutable column. Concurrent saves are last writer
// wins.
func (s *Store) Save(ctx context.Context, p *auth.Principal) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	p.Email = auth.NormalizeEmail(p.Email)
	err := s.db.QueryRowContext(ctx, `
		update users set
			email = $2, password_hash = $3, full_name = $4, phone = $5, role = $6,
			is_active = $7, is_verified = $8,
			refresh_token_hash = $9, refresh_token_expires_at = $10,
			password_reset_hash = $11, password_reset_expires_at = $12,
			verification_hash = $13, verification_expires_at = $14,
			last_login_at = $15, updated_at = now()
		where id = $1
		returning updated_at
	`, p.ID, p.Email, p.PasswordHash, p.FullName, nullIfEmpty(p.Phone), string(p.Role),
		p.IsActive, p.IsVerified,
		nullIfEmpty(p.RefreshTokenHash), nullTime(p.RefreshTokenExpiresAt),
		nullIfEmpty(p.PasswordResetHash), nullTime(p.PasswordResetExpiresAt),
		nullIfEmpty(p.VerificationHash), nullTime(p.VerificationExpiresAt),
		nullTime(p.LastLoginAt),
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.Principal, error) {
	var (
		p                                          auth.Principal
		role                                       string
		phone, refreshHash, resetHash, verifyHash  sql.NullString
		refreshExp, resetExp, verifyExp, lastLogin sql.NullTime
		created, updated                           time.Time
	)
	if err := row.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.FullName, &phone, &role, &p.IsActive, &p.IsVerified,
		&refreshHash, &refreshExp,
		&resetHash, &resetExp,
		&verifyHash, &verifyExp,
		&lastLogin, &created, &updated,
	); err != nil {
		return nil, err
	}
	p.Role = auth.Role(role)
	p.Phone = phone.String
	p.RefreshTokenHash = refreshHash.String
	p.PasswordResetHash = resetHash.String
	p.VerificationHash = verifyHash.String
	if refreshExp.Valid {
		p.RefreshTokenExpiresAt = refreshExp.Time
	}
	if resetExp.Valid {
		p.PasswordResetExpiresAt = resetExp.Time
	}
	if verifyExp.Valid {
		p.VerificationExpiresAt = verifyExp.Time
	}
	if lastLogin.Valid {
		p.LastLoginAt = lastLogin.Time
	}
	p.CreatedAt = created
	p.UpdatedAt = updated
	return &p, nil
}
