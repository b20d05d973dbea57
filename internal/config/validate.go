package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Event log backend
	switch c.Events.Backend {
	case "postgres":
	case "mongo":
		if c.Mongo.URI == "" {
			errs = append(errs, "MONGO_URI is required when EVENTS_BACKEND=mongo")
		}
	default:
		errs = append(errs, fmt.Sprintf("EVENTS_BACKEND must be postgres or mongo, got %q", c.Events.Backend))
	}

	if c.Plans.DefaultPlan == "" {
		errs = append(errs, "PLANS_DEFAULT is required")
	}

	if c.Store.Timeout <= 0 {
		errs = append(errs, "STORE_TIMEOUT must be positive")
	}

	if c.RateLimit.Requests < 1 || c.RateLimit.WindowSec < 1 {
		errs = append(errs, "RATELIMIT_REQUESTS and RATELIMIT_WINDOW_SEC must be positive")
	}

	// Auth secret: warn only
	if c.Auth.JWTSecret == "" {
		slog.Warn("AUTH_JWT_SECRET is empty: plan mutations are not protected")
	} else if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "AUTH_JWT_SECRET must be at least 32 characters")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
