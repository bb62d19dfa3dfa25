package auth

import "context"

// Store is the principal persistence the security core depends on.
// Implementations return ErrNotFound on a miss and ErrConflict when Create
// hits an existing email.
type Store interface {
	FindByID(ctx context.Context, id string) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	// FindByResetTokenHash looks up the principal holding an unexpired or
	// expired reset digest; expiry is checked by the caller.
	FindByResetTokenHash(ctx context.Context, digest string) (*Principal, error)
	FindByVerificationHash(ctx context.Context, digest string) (*Principal, error)
	Create(ctx context.Context, p *Principal) error
	// Save overwrites the mutable columns of an existing principal.
	Save(ctx context.Context, p *Principal) error
}
