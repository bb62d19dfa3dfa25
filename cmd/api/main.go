package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"hublievents.com/internal/audit"
	"hublievents.com/internal/auth"
	"hublievents.com/internal/config"
	"hublievents.com/internal/csrf"
	"hublievents.com/internal/grpcapi"
	"hublievents.com/internal/httpapi"
	"hublievents.com/internal/obs"
	"hublievents.com/internal/ratelimit"
	"hublievents.com/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		logger := obs.Logger()
		logger.Fatal().Err(err).Msg("api_exit")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	checks := map[string]func(context.Context) error{}

	var (
		users auth.Store
		logs  audit.Store
	)
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		users, logs = store, store
		checks["postgres"] = store.Ping
	} else {
		if cfg.IsProduction() {
			return errors.New("database.dsn is required in production")
		}
		logger.Warn().Msg("no database configured, using in-memory stores")
		users, logs = auth.NewMemoryStore(), audit.NewMemoryStore()
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(time.Now, 0)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if limiter, err = ratelimit.NewRedis(rdb, time.Now); err != nil {
			return err
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(logs, audit.WithRetry(cfg.Audit.RetryAttempts, cfg.Audit.RetryInitialInterval))

	var revoker auth.Revoker = auth.NopRevoker{}
	if cfg.Security.RevocationEnabled {
		revoker = auth.NewMemoryRevoker(time.Now)
	}

	svc, err := auth.NewService(users, tokens,
		auth.WithHasher(auth.NewBcryptHasher(cfg.Auth.BcryptCost)),
		auth.WithAuditRecorder(recorder),
		auth.WithLoginLimiter(limiter, cfg.Security.LoginAttempts, cfg.Security.LoginWindow),
		auth.WithRevoker(revoker),
		auth.WithResetTTL(cfg.Auth.ResetTTL),
	)
	if err != nil {
		return err
	}
	gate := auth.NewGate(tokens, users, auth.WithGateAudit(recorder), auth.WithGateRevoker(revoker))

	guard, err := csrf.New(csrf.Config{
		Secret:       []byte(cfg.CSRF.Secret),
		TokenTTL:     cfg.CSRF.TokenTTL,
		SessionTTL:   cfg.CSRF.SessionTTL,
		ExemptPaths:  cfg.CSRF.ExemptPaths,
		CookieSecure: cfg.CSRF.CookieSecure,
	})
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{Checks: checks}
	api, err := httpapi.New(httpapi.Deps{
		Service: svc,
		Gate:    gate,
		Audit:   recorder,
		CSRF:    guard,
		Ready:   ready,
	}, httpapi.Options{
		Version:        version,
		Production:     cfg.IsProduction(),
		CORSOrigins:    cfg.Security.CORSOrigins,
		TrustedProxies: cfg.Security.TrustedProxies,
		RateBurst:      cfg.Security.RateLimitBurst,
		RatePerSec:     cfg.Security.RateLimitPerSec,
		MaxBodyBytes:   cfg.Security.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	health := grpcapi.NewHealth(ready)
	grpcSrv := grpcapi.NewServer(health)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go health.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("http_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("grpc_listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting_down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server_failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http_shutdown")
	}
	grpcSrv.GracefulStop()
	logger.Info().Msg("stopped")
	return serveErr
}
