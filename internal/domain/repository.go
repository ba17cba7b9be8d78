// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository persists saved calculations and custom audit rules.
// Calculation methods require the caller identity for isolation.
type Repository interface {
	// Saved calculations
	SaveCalculation(ctx context.Context, identity string, calc *Calculation) error
	GetCalculation(ctx context.Context, identity string, id string) (*Calculation, error)
	ListCalculations(ctx context.Context, identity string, financialYear string) ([]*Calculation, error)

	// Custom audit rules (global)
	SaveAuditRule(ctx context.Context, rule *AuditRuleConfig) error
	GetAuditRule(ctx context.Context, id string) (*AuditRuleConfig, error)
	ListAuditRules(ctx context.Context) ([]*AuditRuleConfig, error)
	DisableAuditRule(ctx context.Context, id string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
