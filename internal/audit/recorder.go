package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"hublievents.com/internal/ids"
	"hublievents.com/internal/obs"
)

// ErrWriteFailed wraps the last storage error once retries are exhausted. The
// entry has been logged by then.
var ErrWriteFailed = errors.New("audit: write failed")

// ErrRejected is returned by stores when an entry can never be written, such
// as a reference to an unknown admin. It is not retried.
var ErrRejected = errors.New("audit: entry rejected by store")

const (
	DefaultActivityLimit = 20
	MaxActivityLimit     = 100
)

// Recorder is the only write path into the audit log.
type Recorder struct {
	store           Store
	now             func() time.Time
	retries         int
	initialInterval time.Duration
}

// RecorderOption configures Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithRetry sets how many times a failed insert is retried and the first
// backoff interval.
func WithRetry(retries int, initial time.Duration) RecorderOption {
	return func(r *Recorder) {
		if retries >= 0 {
			r.retries = retries
		}
		if initial > 0 {
			r.initialInterval = initial
		}
	}
}

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:           store,
		now:             time.Now,
		retries:         3,
		initialInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record derives the risk level, stamps the entry and appends it. Empty
// request fields are filled from RequestMeta on ctx.
func (r *Recorder) Record(ctx context.Context, ev Event) (Entry, error) {
	if strings.TrimSpace(string(ev.Action)) == "" {
		return Entry{}, errors.New("audit: action is required")
	}
	if strings.TrimSpace(ev.ResourceType) == "" {
		return Entry{}, errors.New("audit: resource type is required")
	}

	meta := MetaFromContext(ctx)
	entry := Entry{
		ID:           ids.New(),
		AdminID:      ev.AdminID,
		Action:       ev.Action,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		Notes:        ev.Notes,
		IPAddress:    firstNonEmpty(ev.IPAddress, meta.IPAddress),
		UserAgent:    firstNonEmpty(ev.UserAgent, meta.UserAgent),
		SessionID:    firstNonEmpty(ev.SessionID, meta.SessionID),
		RiskLevel:    RiskFor(ev.Action),
		CreatedAt:    r.now().UTC(),
	}
	var err error
	if entry.OldValues, err = encodeSnapshot(ev.OldValues); err != nil {
		return Entry{}, fmt.Errorf("audit: encode old values: %w", err)
	}
	if entry.NewValues, err = encodeSnapshot(ev.NewValues); err != nil {
		return Entry{}, fmt.Errorf("audit: encode new values: %w", err)
	}
	if entry.Changes, err = encodeSnapshot(ev.Changes); err != nil {
		return Entry{}, fmt.Errorf("audit: encode changes: %w", err)
	}

	if err := r.insert(ctx, &entry); err != nil {
		obs.ObserveAuditWriteFailure()
		logWriteFailure(ctx, entry, err)
		return entry, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return entry, nil
}

func (r *Recorder) insert(ctx context.Context, entry *Entry) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxElapsedTime = 0

	op := func() error {
		err := r.store.Insert(ctx, entry)
		if err != nil && (ctx.Err() != nil || errors.Is(err, ErrRejected)) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.retries)), ctx))
}

// Query returns one page of filtered entries, newest first.
func (r *Recorder) Query(ctx context.Context, f Filter, p Page) (Result, error) {
	p = p.Normalize()
	res, err := r.store.Query(ctx, f, p)
	if err != nil {
		return Result{}, fmt.Errorf("audit: query: %w", err)
	}
	res.Page = p
	return res, nil
}

// Recent returns the newest entries across all admins.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	res, err := r.Query(ctx, Filter{}, Page{Number: 1, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
