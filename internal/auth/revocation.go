package auth

import (
	"context"
	"sync"
	"time"
)

// Revoker tracks access token ids that must be refused before they expire.
type Revoker interface {
	RevokeJTI(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) bool
}

// NopRevoker never revokes anything; access tokens live out their TTL.
type NopRevoker struct{}

func (NopRevoker) RevokeJTI(context.Context, string, time.Time) error { return nil }
func (NopRevoker) IsRevoked(context.Context, string) bool             { return false }

// MemoryRevoker is a process-local denylist. Entries drop out once the token
// they name would have expired anyway.
type MemoryRevoker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevoker(now func() time.Time) *MemoryRevoker {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevoker{entries: make(map[string]time.Time), now: now}
}

func (r *MemoryRevoker) RevokeJTI(_ context.Context, jti string, until time.Time) error {
	if jti == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, exp := range r.entries {
		if !now.Before(exp) {
			delete(r.entries, id)
		}
	}
	if now.Before(until) {
		r.entries[jti] = until
	}
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, jti string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.entries[jti]
	return ok && r.now().Before(exp)
}
