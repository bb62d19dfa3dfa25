package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"hublievents.com/internal/audit"
	"hublievents.com/internal/auth"
)

type logsResponse struct {
	Logs  []audit.View `json:"logs"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Pages int          `json:"pages"`
}

func (a *API) adminLogs(w http.ResponseWriter, r *http.Request, _ *auth.Principal, _ *auth.Claims) {
	q := r.URL.Query()
	filter, err := parseLogFilter(q)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1<<20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page "+err.Error())
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), audit.DefaultPageLimit, 1, audit.MaxPageLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
		return
	}

	res, err := a.audit.Query(r.Context(), filter, audit.Page{Number: page, Limit: limit})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	views := make([]audit.View, 0, len(res.Entries))
	for _, e := range res.Entries {
		views = append(views, e.View())
	}
	writeJSON(w, http.StatusOK, logsResponse{
		Logs:  views,
		Total: res.Total,
		Page:  res.Page.Number,
		Limit: res.Page.Limit,
		Pages: res.Pages(),
	})
}

func (a *API) adminActivity(w http.ResponseWriter, r *http.Request, _ *auth.Principal, _ *auth.Claims) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), audit.DefaultActivityLimit, 1, audit.MaxActivityLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	entries, err := a.audit.Recent(r.Context(), limit)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	views := make([]audit.View, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func parseLogFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		AdminID:      strings.TrimSpace(q.Get("admin_id")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
	}
	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		act, _ := audit.ParseAction(raw)
		if !act.WellFormed() {
			return audit.Filter{}, errInvalidParam("action")
		}
		f.Action = act
	}
	if raw := strings.TrimSpace(q.Get("risk_level")); raw != "" {
		risk, ok := audit.ParseRiskLevel(raw)
		if !ok {
			return audit.Filter{}, errInvalidParam("risk_level")
		}
		f.RiskLevel = risk
	}
	var err error
	if f.From, err = parseDateParam(q.Get("date_from"), false); err != nil {
		return audit.Filter{}, errInvalidParam("date_from")
	}
	if f.To, err = parseDateParam(q.Get("date_to"), true); err != nil {
		return audit.Filter{}, errInvalidParam("date_to")
	}
	return f, nil
}

// parseDateParam accepts RFC 3339 or a bare date. A bare date_to covers the
// whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

type paramError string

func (e paramError) Error() string { return "invalid " + string(e) }

func errInvalidParam(name string) error { return paramError(name) }
