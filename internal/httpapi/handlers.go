package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"hublievents.com/internal/audit"
	"hublievents.com/internal/auth"
	"hublievents.com/internal/csrf"
	"hublievents.com/internal/obs"
)

// ReadyProbe runs named dependency checks (database ping, redis ping).
type ReadyProbe struct {
	Checks map[string]func(context.Context) error
}

// Check runs every check in name order and reports the first failure.
func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rp.Checks[name](ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	Service *auth.Service
	Gate    *auth.Gate
	Audit   *audit.Recorder
	CSRF    *csrf.Guard
	Ready   ReadyProbe
}

// Options tune the middleware chain.
type Options struct {
	Version      string
	Production   bool
	CORSOrigins  []string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64

	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For
	// and X-Real-IP for throttling purposes. Empty trusts no one.
	TrustedProxies []string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	gate       *auth.Gate
	audit      *audit.Recorder
	csrf       *csrf.Guard
	readyProbe ReadyProbe
	proxies    TrustedProxies
	opts       Options
	now        func() time.Time
}

func New(deps Deps, opts Options) (*API, error) {
	switch {
	case deps.Service == nil:
		return nil, errors.New("httpapi: auth service is required")
	case deps.Gate == nil:
		return nil, errors.New("httpapi: gate is required")
	case deps.Audit == nil:
		return nil, errors.New("httpapi: audit recorder is required")
	case deps.CSRF == nil:
		return nil, errors.New("httpapi: csrf guard is required")
	}
	proxies, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		mux:        http.NewServeMux(),
		svc:        deps.Service,
		gate:       deps.Gate,
		audit:      deps.Audit,
		csrf:       deps.CSRF,
		readyProbe: deps.Ready,
		proxies:    proxies,
		opts:       opts,
		now:        time.Now,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /health", a.Healthz)
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("GET /api/v1/info", a.Info)

	a.mux.HandleFunc("POST /api/v1/auth/register", a.register)
	a.mux.HandleFunc("POST /api/v1/auth/login", a.login)
	a.mux.HandleFunc("POST /api/v1/auth/refresh", a.refresh)
	a.mux.HandleFunc("POST /api/v1/auth/logout", a.guard(auth.RequireEnabled, a.logout))
	a.mux.HandleFunc("GET /api/v1/auth/me", a.guard(auth.RequireActive, a.me))
	a.mux.HandleFunc("POST /api/v1/auth/password/change", a.guard(auth.RequireActive, a.changePassword))
	a.mux.HandleFunc("POST /api/v1/auth/password/check", a.checkPassword)
	a.mux.HandleFunc("POST /api/v1/auth/password-reset/request", a.requestPasswordReset)
	a.mux.HandleFunc("POST /api/v1/auth/password-reset/confirm", a.confirmPasswordReset)
	a.mux.HandleFunc("POST /api/v1/auth/verify-email", a.verifyEmail)
	a.mux.HandleFunc("POST /api/v1/auth/verify-email/request", a.guard(nil, a.requestVerification))

	a.mux.HandleFunc("GET /api/v1/admin/logs", a.guard(auth.RequireSuperAdmin, a.adminLogs))
	a.mux.HandleFunc("GET /api/v1/admin/activity", a.guard(auth.RequireAdmin, a.adminActivity))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the mux wrapped in the full middleware chain. Request ids
// are assigned first so every later layer can log them.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.csrf.Protect(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec, a.proxies)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h, a.opts.Production)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h, a.csrf.SessionCookie())
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    obs.ServiceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}
