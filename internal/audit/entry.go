package audit

import (
	"context"
	"encoding/json"
	"time"

	gojson "github.com/goccy/go-json"
)

// Event is what callers hand to Recorder.Record. Risk is derived from
// Action by the recorder.
type Event struct {
	AdminID      string
	Action       Action
	ResourceType string
	ResourceID   string
	OldValues    any
	NewValues    any
	Changes      any
	Notes        string
	IPAddress    string
	UserAgent    string
	SessionID    string
}

// Entry is a persisted audit row. Empty strings and nil raw messages stand
// for NULL.
type Entry struct {
	ID           string
	AdminID      string
	Action       Action
	ResourceType string
	ResourceID   string
	OldValues    json.RawMessage
	NewValues    json.RawMessage
	Changes      json.RawMessage
	IPAddress    string
	UserAgent    string
	SessionID    string
	Notes        string
	RiskLevel    RiskLevel
	CreatedAt    time.Time
}

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	AdminID      string
	Action       Action
	ResourceType string
	RiskLevel    RiskLevel
	From         time.Time
	To           time.Time
}

// Page is 1-based.
type Page struct {
	Number int
	Limit  int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Normalize clamps p into the accepted range.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Limit }

// Result is one page of entries, newest first, plus the unpaged total.
type Result struct {
	Entries []Entry
	Total   int
	Page    Page
}

// Pages is the number of pages needed for Total.
func (r Result) Pages() int {
	if r.Page.Limit <= 0 || r.Total == 0 {
		return 0
	}
	return (r.Total + r.Page.Limit - 1) / r.Page.Limit
}

// Store persists entries. Insert never updates an existing row.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter, p Page) (Result, error)
}

// View is the dashboard projection of an entry.
type View struct {
	ID                string          `json:"id"`
	AdminID           *string         `json:"admin_id"`
	Action            Action          `json:"action"`
	ActionDescription string          `json:"action_description"`
	ResourceType      string          `json:"resource_type"`
	ResourceID        *string         `json:"resource_id"`
	OldValues         json.RawMessage `json:"old_values,omitempty"`
	NewValues         json.RawMessage `json:"new_values,omitempty"`
	Changes           json.RawMessage `json:"changes,omitempty"`
	IPAddress         string          `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	IsHighRisk        bool            `json:"is_high_risk"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (e Entry) View() View {
	v := View{
		ID:                e.ID,
		Action:            e.Action,
		ActionDescription: e.Action.Description(),
		ResourceType:      e.ResourceType,
		OldValues:         e.OldValues,
		NewValues:         e.NewValues,
		Changes:           e.Changes,
		IPAddress:         e.IPAddress,
		UserAgent:         e.UserAgent,
		Notes:             e.Notes,
		RiskLevel:         e.RiskLevel,
		IsHighRisk:        e.RiskLevel.IsHigh(),
		CreatedAt:         e.CreatedAt,
	}
	if e.AdminID != "" {
		id := e.AdminID
		v.AdminID = &id
	}
	if e.ResourceID != "" {
		id := e.ResourceID
		v.ResourceID = &id
	}
	return v
}

// encodeSnapshot marshals a caller value. nil stays nil and raw JSON passes
// through untouched.
func encodeSnapshot(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	}
	return gojson.Marshal(v)
}
