package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"hublievents.com/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// principalHandler is a handler that runs after the bearer token resolved.
type principalHandler func(w http.ResponseWriter, r *http.Request, p *auth.Principal, claims *auth.Claims)

// guard resolves the caller and runs check before h. A nil check admits any
// authenticated principal, verified or not.
func (a *API) guard(check func(*auth.Principal) error, h principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		p, claims, err := a.gate.CurrentPrincipal(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		if check != nil {
			if err := check(p); err != nil {
				writeAuthError(w, r, err)
				return
			}
		}
		ctx := auth.ContextWithPrincipal(r.Context(), p)
		ctx = auth.ContextWithClaims(ctx, claims)
		h(w, r.WithContext(ctx), p, claims)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
