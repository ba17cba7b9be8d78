package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// loadConfig layers the defaults, the optional YAML file, a .env file in the
// working directory and finally HARRIER_* environment variables.
func loadConfig(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFromFlags(cmd *cobra.Command) (*domain.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path)
}

func applyEnv(cfg *domain.Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("HARRIER_HOST", &cfg.Server.Host)
	num("HARRIER_PORT", &cfg.Server.Port)

	str("HARRIER_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("HARRIER_JWT_ISSUER", &cfg.Auth.Issuer)
	str("HARRIER_JWT_AUDIENCE", &cfg.Auth.Audience)
	if v, ok := os.LookupEnv("HARRIER_OPERATOR_SUBJECTS"); ok {
		cfg.Auth.OperatorSubjects = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Auth.OperatorSubjects = append(cfg.Auth.OperatorSubjects, s)
			}
		}
	}

	str("HARRIER_RULE_TABLE_DIR", &cfg.RuleTableDir)
	str("HARRIER_RULE_RELOAD_SCHEDULE", &cfg.AuditRules.ReloadSchedule)

	str("HARRIER_DB_DRIVER", &cfg.Repository.Driver)
	str("HARRIER_SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("HARRIER_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	num("HARRIER_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	str("HARRIER_POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("HARRIER_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("HARRIER_POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("HARRIER_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("HARRIER_CACHE_TYPE", &cfg.Cache.Type)
	str("HARRIER_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("HARRIER_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	dur("HARRIER_RESULT_TTL", &cfg.Cache.ResultTTL)

	str("HARRIER_EVENTBUS_TYPE", &cfg.EventBus.Type)
	str("HARRIER_NATS_URL", &cfg.EventBus.NATSUrl)
	str("HARRIER_NATS_TOKEN", &cfg.EventBus.NATSToken)
	str("HARRIER_NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)

	flag("HARRIER_RATE_LIMIT", &cfg.RateLimit.Enabled)
	num("HARRIER_RATE_LIMIT_REQUESTS", &cfg.RateLimit.Requests)
	flag("HARRIER_PERSIST_RESULTS", &cfg.PersistResults)

	str("HARRIER_LOG_LEVEL", &cfg.Logging.Level)
	str("HARRIER_LOG_FORMAT", &cfg.Logging.Format)
	flag("HARRIER_TRACING", &cfg.Tracing.Enabled)

	return errors.Join(errs...)
}

// newLogger builds the process logger. HARRIER_DEBUG=true forces debug level.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("HARRIER_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
