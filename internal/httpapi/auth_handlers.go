package httpapi

import (
	"net/http"

	"hublievents.com/internal/auth"
	"hublievents.com/internal/obs"
)

const resetRequestedMessage = "If the email exists, a password reset link has been sent"

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
	FullName string `json:"full_name" validate:"required,min=2,max=100"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	Role     string `json:"role" validate:"omitempty,oneof=guest customer"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

type passwordCheckRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetConfirmRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type tokenResponse struct {
	auth.TokenPair
	User auth.View `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p.View())
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, pair, err := a.svc.Login(r.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: a.proxies.ClientAddr(r),
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: p.View()})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: p.View()})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request, p *auth.Principal, claims *auth.Claims) {
	if err := a.svc.Logout(r.Context(), p, claims); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Successfully logged out"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request, p *auth.Principal, _ *auth.Claims) {
	writeJSON(w, http.StatusOK, p.View())
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request, p *auth.Principal, _ *auth.Claims) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

func (a *API) checkPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, auth.CheckPassword(req.Password))
}

// requestPasswordReset answers identically whether or not the address is
// registered. Storage failures are logged, not reported.
func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		logger := obs.Logger()
		logger.Error().
			Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("password_reset_request_failed")
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: resetRequestedMessage})
}

func (a *API) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset successfully"})
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.svc.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.View())
}

func (a *API) requestVerification(w http.ResponseWriter, r *http.Request, p *auth.Principal, _ *auth.Claims) {
	if !p.IsActive {
		writeAuthError(w, r, auth.ErrAccountDisabled)
		return
	}
	if err := a.svc.RequestVerification(r.Context(), p); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Verification email sent"})
}
