// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCalculation stores a completed calculation for identity.
// Saving an ID that already exists is a no-op, so redelivered events are harmless.
func (r *SQLRepository) SaveCalculation(ctx context.Context, identity string, calc *domain.Calculation) error {
	if identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	if calc == nil || calc.ID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}

	calc.Identity = identity
	if calc.CreatedAt.IsZero() {
		calc.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(calc)
	if err != nil {
		return fmt.Errorf("failed to encode calculation: %w", err)
	}

	var totalTax int64
	if calc.Result != nil {
		totalTax = int64(calc.Result.TotalTax)
	}

	query := `
		INSERT INTO calculations (
			id, identity, kind, financial_year, regime, total_tax, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		calc.ID, identity, calc.Kind, calc.FinancialYear, calc.Regime,
		totalTax, string(payload), calc.CreatedAt,
	)
	return err
}

// GetCalculation retrieves a calculation by ID with identity isolation.
func (r *SQLRepository) GetCalculation(ctx context.Context, identity string, id string) (*domain.Calculation, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM calculations
		WHERE identity = ? AND id = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), identity, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeCalculation(payload)
}

// ListCalculations returns identity's calculations, newest first.
// An empty financialYear lists every year.
func (r *SQLRepository) ListCalculations(ctx context.Context, identity string, financialYear string) ([]*domain.Calculation, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM calculations
		WHERE identity = ?
	`
	args := []any{identity}
	if financialYear != "" {
		query += ` AND financial_year = ?`
		args = append(args, financialYear)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calcs := []*domain.Calculation{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		calc, err := decodeCalculation(payload)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}

	return calcs, rows.Err()
}

func decodeCalculation(payload string) (*domain.Calculation, error) {
	var calc domain.Calculation
	if err := json.Unmarshal([]byte(payload), &calc); err != nil {
		return nil, fmt.Errorf("failed to parse calculation: %w", err)
	}
	return &calc, nil
}

// SaveAuditRule inserts or updates a custom audit rule.
func (r *SQLRepository) SaveAuditRule(ctx context.Context, rule *domain.AuditRuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO audit_rules (
			id, title, description, expression, flag_type, severity,
			penalty, affected_section, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			expression = excluded.expression,
			flag_type = excluded.flag_type,
			severity = excluded.severity,
			penalty = excluded.penalty,
			affected_section = excluded.affected_section,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Title, rule.Description, rule.Expression,
		rule.FlagType, rule.Severity, rule.Penalty, rule.AffectedSection,
		enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

const auditRuleColumns = `id, title, description, expression, flag_type, severity,
			   penalty, affected_section, enabled, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAuditRule(s scanner) (*domain.AuditRuleConfig, error) {
	var rule domain.AuditRuleConfig
	var description, section sql.NullString
	var enabled int

	if err := s.Scan(
		&rule.ID, &rule.Title, &description, &rule.Expression,
		&rule.FlagType, &rule.Severity, &rule.Penalty, &section,
		&enabled, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.AffectedSection = domain.SectionCode(section.String)
	rule.Enabled = enabled == 1
	return &rule, nil
}

// GetAuditRule retrieves a custom audit rule, enabled or not.
func (r *SQLRepository) GetAuditRule(ctx context.Context, id string) (*domain.AuditRuleConfig, error) {
	query := `SELECT ` + auditRuleColumns + ` FROM audit_rules WHERE id = ?`

	rule, err := scanAuditRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListAuditRules returns every stored rule ordered by ID.
// Disabled rules are included; the rule engine skips them on load.
func (r *SQLRepository) ListAuditRules(ctx context.Context) ([]*domain.AuditRuleConfig, error) {
	query := `SELECT ` + auditRuleColumns + ` FROM audit_rules ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []*domain.AuditRuleConfig{}
	for rows.Next() {
		rule, err := scanAuditRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DisableAuditRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DisableAuditRule(ctx context.Context, id string) error {
	query := `
		UPDATE audit_rules
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
