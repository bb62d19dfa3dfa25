package auth

import (
	"context"

	"hublievents.com/internal/obs"
)

// Notifier delivers one-time tokens to the principal out of band.
type Notifier interface {
	SendPasswordReset(ctx context.Context, p *Principal, token string) error
	SendVerification(ctx context.Context, p *Principal, token string) error
}

// LogNotifier writes the delivery to the process log. Tokens are only
// included at debug level.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(_ context.Context, p *Principal, token string) error {
	logger := obs.Logger()
	logger.Info().Str("user_id", p.ID).Str("email", p.Email).Msg("password_reset_issued")
	logger.Debug().Str("user_id", p.ID).Str("token", token).Msg("password_reset_token")
	return nil
}

func (LogNotifier) SendVerification(_ context.Context, p *Principal, token string) error {
	logger := obs.Logger()
	logger.Info().Str("user_id", p.ID).Str("email", p.Email).Msg("verification_issued")
	logger.Debug().Str("user_id", p.ID).Str("token", token).Msg("verification_token")
	return nil
}
