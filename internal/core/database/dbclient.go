package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/citedoc/internal/config"
)

// Open connects to Postgres through the pgx stdlib driver.
// When SSL_CERT_PATH is set the connection verifies the server against that CA.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := dataSourceName(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func dataSourceName(databaseURL, certPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if certPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
