package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is ordered: guest < customer < admin < super_admin.
type Role string

const (
	RoleGuest      Role = "guest"
	RoleCustomer   Role = "customer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) rank() int {
	switch r {
	case RoleGuest:
		return 1
	case RoleCustomer:
		return 2
	case RoleAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast reports whether r ranks at or above min. Unknown roles rank below
// everything.
func (r Role) AtLeast(min Role) bool { return r.Valid() && r.rank() >= min.rank() }

// IsAdmin is true for admin and super_admin.
func (r Role) IsAdmin() bool { return r.AtLeast(RoleAdmin) }

// ParseRole normalizes s and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("auth: unknown role %q", s)
	}
	return r, nil
}

// Principal is the identity record the security core works with. Zero times
// stand for NULL columns.
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	Phone        string
	Role         Role
	IsActive     bool
	IsVerified   bool

	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time

	PasswordResetHash      string
	PasswordResetExpiresAt time.Time

	VerificationHash      string
	VerificationExpiresAt time.Time

	LastLoginAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether the principal holds an admin role.
func (p *Principal) IsAdmin() bool { return p != nil && p.Role.IsAdmin() }

// ClearRefreshToken drops the persisted refresh credential.
func (p *Principal) ClearRefreshToken() {
	p.RefreshTokenHash = ""
	p.RefreshTokenExpiresAt = time.Time{}
}

// View is the client-facing projection of a principal.
type View struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Phone       string     `json:"phone,omitempty"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"is_active"`
	IsVerified  bool       `json:"is_verified"`
	LastLoginAt *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// View strips secrets from p.
func (p *Principal) View() View {
	v := View{
		ID:         p.ID,
		Email:      p.Email,
		FullName:   p.FullName,
		Phone:      p.Phone,
		Role:       p.Role,
		IsActive:   p.IsActive,
		IsVerified: p.IsVerified,
		CreatedAt:  p.CreatedAt,
	}
	if !p.LastLoginAt.IsZero() {
		t := p.LastLoginAt
		v.LastLoginAt = &t
	}
	return v
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
