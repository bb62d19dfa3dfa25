package audit

import (
	"context"
	"strings"

	"hublievents.com/internal/obs"
)

type ctxKey string

const metaKey ctxKey = "audit_request_meta"

// RequestMeta is the per-request context an audit entry inherits when the
// caller leaves the fields empty.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
	SessionID string
}

// WithRequestMeta attaches request metadata to ctx.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey, m)
}

// WithRequestID sets only the request id, keeping other metadata.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	m := MetaFromContext(ctx)
	m.RequestID = requestID
	return WithRequestMeta(ctx, m)
}

// MetaFromContext returns the stored metadata or a zero value.
func MetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	m, _ := ctx.Value(metaKey).(RequestMeta)
	return m
}

// logWriteFailure is the channel of last resort when an entry cannot be
// stored: the full entry goes to the process log at error level.
func logWriteFailure(ctx context.Context, entry Entry, cause error) {
	logger := obs.Logger()
	ev := logger.Error().
		Err(cause).
		Str("type", "audit").
		Str("event", "audit_write_failed").
		Str("id", entry.ID).
		Str("admin_id", entry.AdminID).
		Str("action", string(entry.Action)).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("risk_level", string(entry.RiskLevel)).
		Str("ip_address", entry.IPAddress).
		Str("notes", entry.Notes).
		Time("created_at", entry.CreatedAt)
	if rid := MetaFromContext(ctx).RequestID; rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if len(entry.NewValues) > 0 {
		ev = ev.RawJSON("new_values", entry.NewValues)
	}
	ev.Msg("audit_write_failed")
}
