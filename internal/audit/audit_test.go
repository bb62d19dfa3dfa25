package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hublievents.com/internal/obs"
)

func TestRiskForCoversEveryAction(t *testing.T) {
	want := map[Action]RiskLevel{
		ActionUserRoleChanged:      RiskCritical,
		ActionSystemConfigChanged:  RiskCritical,
		ActionSecurityAlert:        RiskCritical,
		ActionUserDeleted:          RiskHigh,
		ActionUserBanned:           RiskHigh,
		ActionDesignDeleted:        RiskHigh,
		ActionEnquiryDeleted:       RiskHigh,
		ActionUserUpdated:          RiskMedium,
		ActionEnquiryStatusChanged: RiskMedium,
		ActionGalleryImageApproved: RiskMedium,
		ActionGalleryImageUploaded: RiskLow,
		ActionLoginAttempt:         RiskLow,
	}
	for _, a := range Actions {
		got := RiskFor(a)
		if !got.Valid() {
			t.Fatalf("%s mapped to invalid level %q", a, got)
		}
		if w, ok := want[a]; ok && got != w {
			t.Fatalf("%s: want %s got %s", a, w, got)
		}
		if a.Description() == "" {
			t.Fatalf("%s has no description", a)
		}
	}
	if got := RiskFor(Action("something_new")); got != RiskMedium {
		t.Fatalf("unknown action should be medium, got %s", got)
	}
	if len(Actions) != len(descriptions) {
		t.Fatalf("actions=%d descriptions=%d", len(Actions), len(descriptions))
	}
}

func TestParseActionAndRisk(t *testing.T) {
	if a, ok := ParseAction(" USER_BANNED "); !ok || a != ActionUserBanned {
		t.Fatalf("parse action: %q %v", a, ok)
	}
	if _, ok := ParseAction("nope"); ok {
		t.Fatal("unknown action parsed")
	}
	for name, want := range map[Action]bool{
		"invoice_exported": true, ActionUserBanned: true, "a1": true,
		"": false, "9lives": false, "has space": false, "Upper": false, "dash-ed": false,
		Action(strings.Repeat("a", maxActionLen+1)): false,
	} {
		if name.WellFormed() != want {
			t.Fatalf("WellFormed(%q) = %v", name, !want)
		}
	}
	if r, ok := ParseRiskLevel("High"); !ok || r != RiskHigh || !r.IsHigh() {
		t.Fatalf("parse risk: %q %v", r, ok)
	}
	if RiskMedium.IsHigh() {
		t.Fatal("medium is not high")
	}
}

func TestRecordDerivesRiskAndFillsRequestMeta(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, WithClock(func() time.Time { return fixed }))

	ctx := WithRequestMeta(context.Background(), RequestMeta{
		RequestID: "req-1",
		IPAddress: "10.0.0.9",
		UserAgent: "curl/8",
	})
	entry, err := rec.Record(ctx, Event{
		AdminID:      "admin-1",
		Action:       ActionUserRoleChanged,
		ResourceType: "user",
		ResourceID:   "user-7",
		OldValues:    map[string]string{"role": "customer"},
		NewValues:    map[string]string{"role": "admin"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.RiskLevel != RiskCritical {
		t.Fatalf("risk: %s", entry.RiskLevel)
	}
	if entry.IPAddress != "10.0.0.9" || entry.UserAgent != "curl/8" {
		t.Fatalf("meta not applied: %+v", entry)
	}
	if !entry.CreatedAt.Equal(fixed) || entry.ID == "" {
		t.Fatalf("stamp: %+v", entry)
	}
	var old map[string]string
	if err := json.Unmarshal(entry.OldValues, &old); err != nil || old["role"] != "customer" {
		t.Fatalf("old values: %s %v", entry.OldValues, err)
	}
	if entry.Changes != nil {
		t.Fatalf("changes should be nil, got %s", entry.Changes)
	}
	if store.Len() != 1 {
		t.Fatalf("stored %d", store.Len())
	}
}

func TestRecordRejectsMissingFields(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())
	if _, err := rec.Record(context.Background(), Event{ResourceType: "user"}); err == nil {
		t.Fatal("expected error without action")
	}
	if _, err := rec.Record(context.Background(), Event{Action: ActionUserUpdated}); err == nil {
		t.Fatal("expected error without resource type")
	}
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *MemoryStore
}

func (f *flakyStore) Insert(ctx context.Context, e *Entry) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.inner.Insert(ctx, e)
}

func (f *flakyStore) Query(ctx context.Context, fl Filter, p Page) (Result, error) {
	return f.inner.Query(ctx, fl, p)
}

func TestRecordRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2, inner: NewMemoryStore()}
	rec := NewRecorder(store, WithRetry(3, time.Millisecond))

	if _, err := rec.Record(context.Background(), Event{Action: ActionUserBanned, ResourceType: "user"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
	if store.inner.Len() != 1 {
		t.Fatalf("entry not stored")
	}
}

func TestRecordLogsWhenRetriesExhausted(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	store := &flakyStore{failures: 100, inner: NewMemoryStore()}
	rec := NewRecorder(store, WithRetry(1, time.Millisecond))

	ctx := WithRequestID(context.Background(), "req-42")
	entry, err := rec.Record(ctx, Event{AdminID: "a1", Action: ActionSecurityAlert, ResourceType: "system"})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if entry.RiskLevel != RiskCritical {
		t.Fatalf("entry should still be returned: %+v", entry)
	}
	if store.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", store.calls)
	}
	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"type":"audit"`, `"event":"audit_write_failed"`, `"request_id":"req-42"`, `"action":"security_alert"`, `"admin_id":"a1"`, `"error":"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %s: %s", want, out)
		}
	}
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	rec := NewRecorder(store, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := rec.Record(ctx, Event{AdminID: "a1", Action: ActionUserUpdated, ResourceType: "user"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := rec.Record(ctx, Event{AdminID: "a2", Action: ActionUserDeleted, ResourceType: "user"}); err != nil {
		t.Fatal(err)
	}

	res, err := rec.Query(ctx, Filter{AdminID: "a1"}, Page{Number: 2, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 5 || len(res.Entries) != 2 || res.Pages() != 3 {
		t.Fatalf("unexpected page: total=%d len=%d pages=%d", res.Total, len(res.Entries), res.Pages())
	}
	if !res.Entries[0].CreatedAt.After(res.Entries[1].CreatedAt) {
		t.Fatal("entries not newest first")
	}

	high, err := rec.Query(ctx, Filter{RiskLevel: RiskHigh}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if high.Total != 1 || high.Entries[0].AdminID != "a2" || high.Page.Limit != DefaultPageLimit {
		t.Fatalf("risk filter: %+v", high)
	}

	window, err := rec.Query(ctx, Filter{From: base.Add(2 * time.Minute), To: base.Add(3 * time.Minute)}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if window.Total != 2 {
		t.Fatalf("time window total=%d", window.Total)
	}

	recent, err := rec.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 6 || recent[0].AdminID != "a2" {
		t.Fatalf("recent: %d first=%s", len(recent), recent[0].AdminID)
	}
}

func TestEntryView(t *testing.T) {
	e := Entry{ID: "x", Action: ActionUserBanned, ResourceType: "user", RiskLevel: RiskHigh}
	v := e.View()
	if !v.IsHighRisk || v.ActionDescription != "Banned user account" {
		t.Fatalf("view: %+v", v)
	}
	if v.AdminID != nil || v.ResourceID != nil {
		t.Fatal("empty ids should be null")
	}
	if got := Action("custom_thing").Description(); got != "Performed custom thing" {
		t.Fatalf("fallback description: %q", got)
	}
}
