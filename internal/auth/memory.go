package auth

import (
	"context"
	"sync"
	"time"

	"hublievents.com/internal/ids"
)

// MemoryStore is a process-local Store used by tests and the dev server when
// no DSN is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Principal
	byEmail map[string]string
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) FindByResetTokenHash(ctx context.Context, digest string) (*Principal, error) {
	return s.findBy(ctx, func(p *Principal) bool { return p.PasswordResetHash == digest })
}

func (s *MemoryStore) FindByVerificationHash(ctx context.Context, digest string) (*Principal, error) {
	return s.findBy(ctx, func(p *Principal) bool { return p.VerificationHash == digest })
}

func (s *MemoryStore) findBy(ctx context.Context, match func(*Principal) bool) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Create(ctx context.Context, p *Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(p.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrConflict
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := s.now().UTC()
	p.Email = email
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.byID[p.ID] = &cp
	s.byEmail[email] = p.ID
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[p.ID]
	if !ok {
		return ErrNotFound
	}
	email := NormalizeEmail(p.Email)
	if email != cur.Email {
		if _, taken := s.byEmail[email]; taken {
			return ErrConflict
		}
		delete(s.byEmail, cur.Email)
		s.byEmail[email] = p.ID
	}
	p.Email = email
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now().UTC()
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}
