// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	JWTSecret []byte
	TokenTTL  time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	ResetURLBase string

	RateLimitRPS   float64
	RateLimitBurst int

	ServiceName string
	Env         string
	LogLevel    string
	LogFormat   string
}

// Load reads the environment. Only DATABASE_URL and JWT_SECRET are
// mandatory; everything else has a development-friendly default.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envInt("PORT", 8080),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   envStr("REDIS_ADDR", "localhost:6379"),
		RedisDB:     envInt("REDIS_DB", 0),

		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
		TokenTTL:  envDuration("TOKEN_TTL", 30*24*time.Hour),

		SMTPHost:     envStr("SMTP_HOST", "localhost"),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     envStr("MAIL_FROM", "no-reply@realhut.test"),

		ResetURLBase: envStr("RESET_URL_BASE", "http://localhost:3000/reset_password"),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 10),

		ServiceName: envStr("SERVICE_NAME", "authd"),
		Env:         envStr("ENV", "development"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFormat:   envStr("LOG_FORMAT", "json"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
