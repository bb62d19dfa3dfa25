// Package csrf guards state-changing requests with stateless double-submit
// tokens. A token is "<unix ts>:<hex hmac>" where the HMAC covers
// "<session id>:<unix ts>", so it is only valid for the session cookie that
// produced it and only for TokenTTL.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hublievents.com/internal/ids"
	"hublievents.com/internal/obs"
)

var (
	ErrTokenMissing = errors.New("csrf: token missing")
	ErrTokenInvalid = errors.New("csrf: token invalid")
	ErrTokenExpired = errors.New("csrf: token expired")
	ErrNoSession    = errors.New("csrf: session missing")
)

const (
	DefaultTokenTTL   = 5 * time.Minute
	DefaultSessionTTL = 24 * time.Hour

	// futureSkew tolerates a client-minted timestamp slightly ahead of us.
	futureSkew = 30 * time.Second
)

// Config holds the guard settings. Secret is required.
type Config struct {
	Secret []byte

	SessionCookie string
	TokenCookie   string
	HeaderName    string
	FormField     string
	CookiePath    string

	// CookieSecure sets the Secure flag on both cookies.
	CookieSecure bool

	TokenTTL   time.Duration
	SessionTTL time.Duration

	// ExemptPaths are matched by prefix.
	ExemptPaths []string

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production defaults without a secret.
func DefaultConfig() Config {
	return Config{
		SessionCookie: "session_id",
		TokenCookie:   "csrf_token",
		HeaderName:    "X-CSRF-Token",
		FormField:     "csrf_token",
		CookiePath:    "/",
		CookieSecure:  true,
		TokenTTL:      DefaultTokenTTL,
		SessionTTL:    DefaultSessionTTL,
		ExemptPaths:   []string{"/health", "/api/v1/auth/login", "/api/v1/auth/refresh"},
	}
}

// Guard is the CSRF middleware. It keeps no per-session state.
type Guard struct {
	cfg Config
}

// New fills unset fields from DefaultConfig.
func New(cfg Config) (*Guard, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("csrf: secret is required")
	}
	def := DefaultConfig()
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = def.SessionCookie
	}
	if cfg.TokenCookie == "" {
		cfg.TokenCookie = def.TokenCookie
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.FormField == "" {
		cfg.FormField = def.FormField
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = def.CookiePath
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.ExemptPaths == nil {
		cfg.ExemptPaths = def.ExemptPaths
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Secret = append([]byte(nil), cfg.Secret...)
	return &Guard{cfg: cfg}, nil
}

// Protect wraps next. Exempt paths only get a session cookie; safe methods
// get a fresh token cookie; everything else must present a valid token.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isExempt(r.URL.Path) {
			if _, err := g.session(r); err != nil {
				if _, err := g.newSession(w); err != nil {
					g.reject(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		if isSafe(r.Method) {
			sid, err := g.session(r)
			if err != nil {
				if sid, err = g.newSession(w); err != nil {
					g.reject(w, r, err)
					return
				}
			}
			g.setToken(w, g.Mint(sid, g.cfg.Now()))
			next.ServeHTTP(w, r)
			return
		}

		sid, err := g.session(r)
		if err != nil {
			g.reject(w, r, err)
			return
		}
		if err := g.Verify(sid, g.tokenFrom(r)); err != nil {
			g.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionCookie is the name of the cookie carrying the session id.
func (g *Guard) SessionCookie() string { return g.cfg.SessionCookie }

// Mint returns the token for session at the given time.
func (g *Guard) Mint(sessionID string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return ts + ":" + g.sign(sessionID, ts)
}

// Verify checks token against sessionID using the guard's clock.
func (g *Guard) Verify(sessionID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenMissing
	}
	if sessionID == "" {
		return ErrNoSession
	}
	ts, sig, ok := strings.Cut(token, ":")
	if !ok || ts == "" || sig == "" {
		return ErrTokenInvalid
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}
	want := g.sign(sessionID, ts)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrTokenInvalid
	}
	issued := time.Unix(unix, 0)
	now := g.cfg.Now()
	if now.Sub(issued) > g.cfg.TokenTTL {
		return ErrTokenExpired
	}
	if issued.Sub(now) > futureSkew {
		return ErrTokenInvalid
	}
	return nil
}

func (g *Guard) sign(sessionID, ts string) string {
	mac := hmac.New(sha256.New, g.cfg.Secret)
	mac.Write([]byte(sessionID + ":" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Guard) session(r *http.Request) (string, error) {
	c, err := r.Cookie(g.cfg.SessionCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", ErrNoSession
	}
	return c.Value, nil
}

func (g *Guard) newSession(w http.ResponseWriter) (string, error) {
	sid, err := ids.Opaque(32)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.SessionCookie,
		Value:    sid,
		Path:     g.cfg.CookiePath,
		MaxAge:   int(g.cfg.SessionTTL / time.Second),
		Secure:   g.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return sid, nil
}

// setToken leaves HttpOnly off so browser scripts can echo the value back.
func (g *Guard) setToken(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.TokenCookie,
		Value:    token,
		Path:     g.cfg.CookiePath,
		MaxAge:   int(g.cfg.TokenTTL / time.Second),
		Secure:   g.cfg.CookieSecure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// tokenFrom prefers the header. The form field is read only for form
// bodies so JSON payloads are left unread for the handler.
func (g *Guard) tokenFrom(r *http.Request) string {
	if tok := r.Header.Get(g.cfg.HeaderName); tok != "" {
		return tok
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return ""
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return ""
		}
	default:
		return ""
	}
	return r.PostFormValue(g.cfg.FormField)
}

func (g *Guard) isExempt(path string) bool {
	for _, p := range g.cfg.ExemptPaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isSafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, err error) {
	obs.ObserveCSRFRejection()
	logger := obs.Logger()
	logger.Warn().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("csrf_rejected")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"csrf_failed","message":"CSRF validation failed"}`))
}
