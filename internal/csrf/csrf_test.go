package csrf

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGuard(t *testing.T, c *clock) *Guard {
	t.Helper()
	g, err := New(Config{
		Secret:      []byte("csrf-test-secret-0123456789abcdef"),
		ExemptPaths: []string{"/health", "/api/v1/auth/login"},
		Now:         c.now,
	})
	require.NoError(t, err)
	return g
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestMintVerifyBoundToSession(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, c)

	tok := g.Mint("session-a", c.t)
	require.NoError(t, g.Verify("session-a", tok))
	assert.ErrorIs(t, g.Verify("session-b", tok), ErrTokenInvalid)
	assert.ErrorIs(t, g.Verify("session-a", ""), ErrTokenMissing)
	assert.ErrorIs(t, g.Verify("", tok), ErrNoSession)
	assert.ErrorIs(t, g.Verify("session-a", "garbage"), ErrTokenInvalid)
	assert.ErrorIs(t, g.Verify("session-a", "abc:def"), ErrTokenInvalid)

	_, sig, _ := strings.Cut(tok, ":")
	forgedTS := "1700000100:" + sig
	assert.ErrorIs(t, g.Verify("session-a", forgedTS), ErrTokenInvalid, "timestamp is covered by the MAC")
}

func TestVerifyWindow(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, c)
	tok := g.Mint("s", c.t)

	c.t = c.t.Add(300 * time.Second)
	require.NoError(t, g.Verify("s", tok), "token valid at exactly 300s")

	c.t = c.t.Add(time.Second)
	assert.ErrorIs(t, g.Verify("s", tok), ErrTokenExpired)

	future := g.Mint("s", c.t.Add(time.Hour))
	assert.ErrorIs(t, g.Verify("s", future), ErrTokenInvalid)
}

func TestSafeMethodIssuesCookies(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, c)
	h := g.Protect(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	sess := cookieNamed(rec, "session_id")
	require.NotNil(t, sess, "session cookie minted on first GET")
	assert.True(t, sess.HttpOnly)
	assert.True(t, sess.Secure)
	assert.Equal(t, http.SameSiteStrictMode, sess.SameSite)
	assert.Equal(t, 86400, sess.MaxAge)

	tok := cookieNamed(rec, "csrf_token")
	require.NotNil(t, tok)
	assert.False(t, tok.HttpOnly)
	assert.Equal(t, 300, tok.MaxAge)
	require.NoError(t, g.Verify(sess.Value, tok.Value))
}

func TestUnsafeMethodRequiresToken(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, c)
	h := g.Protect(okHandler)
	sid := "sess-123"
	tok := g.Mint(sid, c.t)

	post := func(mutate func(r *http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		mutate(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(func(r *http.Request) {})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"csrf_failed","message":"CSRF validation failed"}`, rec.Body.String())

	rec = post(func(r *http.Request) { r.Header.Set("X-CSRF-Token", tok) })
	assert.Equal(t, http.StatusForbidden, rec.Code, "no session cookie")

	rec = post(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "session_id", Value: "other"})
		r.Header.Set("X-CSRF-Token", tok)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "token from another session")

	rec = post(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "session_id", Value: sid})
		r.Header.Set("X-CSRF-Token", tok)
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c.t = c.t.Add(301 * time.Second)
	rec = post(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "session_id", Value: sid})
		r.Header.Set("X-CSRF-Token", tok)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "expired token")
}

func TestFormFieldAccepted(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, c)
	h := g.Protect(okHandler)

	form := url.Values{"csrf_token": {g.Mint("sid", c.t)}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/things", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sid"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExemptPathsSkipVerification(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, c)
	h := g.Protect(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, cookieNamed(rec, "session_id"), "exempt path mints a session")
	assert.Nil(t, cookieNamed(rec, "csrf_token"))

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "existing"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, cookieNamed(rec, "session_id"), "existing session kept")
}
