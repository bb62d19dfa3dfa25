// Command createadmin creates the first super admin, or promotes an existing
// account to super admin. Running it twice is harmless.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"hublievents.com/internal/audit"
	"hublievents.com/internal/auth"
	"hublievents.com/internal/config"
	"hublievents.com/internal/obs"
	"hublievents.com/internal/store/pg"
)

func main() {
	var (
		email    = flag.String("email", os.Getenv("HUBLI_ADMIN_EMAIL"), "Admin email")
		password = flag.String("password", os.Getenv("HUBLI_ADMIN_PASSWORD"), "Admin password")
		name     = flag.String("name", "Administrator", "Full name")
		generate = flag.Bool("generate", false, "Generate a strong password and print it once")
	)
	flag.Parse()

	if err := run(*email, *password, *name, *generate); err != nil {
		logger := obs.Logger()
		logger.Fatal().Err(err).Msg("createadmin failed")
	}
}

func run(email, password, name string, generate bool) error {
	if email == "" {
		return errors.New("missing email: provide via -email or HUBLI_ADMIN_EMAIL")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	obs.SetLevel(cfg.Log.Level)
	logger := obs.Logger()

	if generate {
		if password, err = auth.GeneratePassword(16); err != nil {
			return err
		}
	}

	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(store, audit.WithRetry(cfg.Audit.RetryAttempts, cfg.Audit.RetryInitialInterval))
	svc, err := auth.NewService(store, tokens,
		auth.WithHasher(auth.NewBcryptHasher(cfg.Auth.BcryptCost)),
		auth.WithAuditRecorder(recorder),
	)
	if err != nil {
		return err
	}

	p, created, err := svc.Bootstrap(ctx, email, password, name)
	if err != nil {
		if ve, ok := auth.IsValidation(err); ok {
			for _, f := range ve.Feedback {
				fmt.Fprintln(os.Stderr, " -", f)
			}
		}
		return err
	}
	if created {
		logger.Info().Str("user_id", p.ID).Str("email", p.Email).Msg("super_admin_created")
		if generate {
			fmt.Printf("generated password for %s: %s\n", p.Email, password)
		}
	} else {
		logger.Info().Str("user_id", p.ID).Str("email", p.Email).Msg("super_admin_promoted")
	}
	return nil
}
