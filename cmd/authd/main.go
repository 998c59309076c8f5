// Command authd runs the authentication service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/realhut/authd/internal/auth"
	"github.com/realhut/authd/internal/cache"
	"github.com/realhut/authd/internal/config"
	"github.com/realhut/authd/internal/guard"
	"github.com/realhut/authd/internal/httpapi"
	"github.com/realhut/authd/internal/kvstore"
	"github.com/realhut/authd/internal/mail"
	"github.com/realhut/authd/internal/metrics"
	"github.com/realhut/authd/internal/notify"
	"github.com/realhut/authd/internal/password"
	"github.com/realhut/authd/internal/ticket"
	"github.com/realhut/authd/internal/token"
	"github.com/realhut/authd/internal/user/postgres"
	"github.com/realhut/authd/pkg/slogx"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slogx.New(slogx.Config{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return err
	}

	tokens, err := token.NewManager(token.Config{
		Secret: cfg.JWTSecret,
		TTL:    cfg.TokenTTL,
		Issuer: cfg.ServiceName,
	}, redisClient)
	if err != nil {
		return err
	}

	var transport mail.Transport = mail.NewSMTPTransport(mail.SMTPConfig{
		Addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		Host:     cfg.SMTPHost,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if cfg.Env == "development" {
		transport = &mail.LogTransport{Logger: logger}
	}

	m := metrics.New()
	queue := notify.NewQueue(notify.Config{}, transport, logger, m)
	defer queue.Close()

	svc, err := auth.NewService(auth.Config{
		Users:        postgres.NewRepository(pool),
		Hasher:       hasher,
		Guard:        guard.New(kvstore.New(redisClient), guard.DefaultConfig()),
		Tickets:      ticket.New(redisClient, 0),
		Tokens:       tokens,
		Queue:        queue,
		Cache:        cache.NewProfileCache(redisClient),
		Validator:    auth.NewDenyListValidator(auth.DefaultDeniedDomains),
		Logger:       logger,
		Metrics:      m,
		ResetURLBase: cfg.ResetURLBase,
	})
	if err != nil {
		return err
	}

	app := httpapi.New(httpapi.Config{
		Auth:           svc,
		Logger:         logger,
		Metrics:        m,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return nil
}
