package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/harrier/internal/domain"
)

// sslModes are the sslmode values lib/pq understands.
var sslModes = []string{"disable", "require", "verify-ca", "verify-full"}

const pingTimeout = 5 * time.Second

// openPostgres opens and pings the calculations database on PostgreSQL.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database %s: %w", redactDSN(dsn), err)
	}

	return db, nil
}

// postgresDSN builds a postgres:// URL so credentials with spaces, '=' or
// '@' survive intact.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	mode, err := getSSLMode(cfg.PostgresSSLMode)
	if err != nil {
		return "", err
	}

	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "harrier"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {mode}}.Encode(),
	}
	switch {
	case cfg.PostgresUser != "" && cfg.PostgresPassword != "":
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	case cfg.PostgresUser != "":
		u.User = url.User(cfg.PostgresUser)
	}
	return u.String(), nil
}

// getSSLMode defaults to "disable" and rejects modes lib/pq would refuse at
// connect time.
func getSSLMode(mode string) (string, error) {
	if mode == "" {
		return "disable", nil
	}
	if !slices.Contains(sslModes, mode) {
		return "", fmt.Errorf("%w: postgres sslmode %q (want one of %v)", ErrInvalidInput, mode, sslModes)
	}
	return mode, nil
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres"
	}
	return u.Redacted()
}
