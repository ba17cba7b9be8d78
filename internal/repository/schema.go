package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

// schemaCalculations stores completed computations. The full calculation is
// kept as JSON in payload; the other columns exist for lookup and listing.
const schemaCalculations = `
CREATE TABLE IF NOT EXISTS calculations (
    id TEXT PRIMARY KEY,
    identity TEXT NOT NULL,
    kind TEXT NOT NULL,
    financial_year TEXT NOT NULL,
    regime TEXT NOT NULL,
    total_tax BIGINT NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_identity ON calculations(identity);
CREATE INDEX IF NOT EXISTS idx_calculations_year ON calculations(identity, financial_year);
CREATE INDEX IF NOT EXISTS idx_calculations_created ON calculations(identity, created_at);
`

const schemaAuditRules = `
CREATE TABLE IF NOT EXISTS audit_rules (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    flag_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    penalty INTEGER NOT NULL DEFAULT 0,
    affected_section TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_rules_enabled ON audit_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCalculations,
		schemaAuditRules,
	}
}
