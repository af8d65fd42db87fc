package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/scriptdeck/scriptdeck/internal/common/config"
)

// History appends and repository updates are short single-row statements,
// so the default pool stays small.
const (
	defaultPostgresMaxConns = 10
	defaultPostgresMinConns = 2
	postgresConnMaxIdle     = 5 * time.Minute
	postgresPingTimeout     = 5 * time.Second
)

// OpenPostgres opens a pgx-backed pool shared by the writer and reader
// sides of a Pool.
func OpenPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required for the postgres driver")
	}
	conn, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	maxConns, minConns := cfg.MaxConns, cfg.MinConns
	if maxConns <= 0 {
		maxConns = defaultPostgresMaxConns
	}
	if minConns <= 0 || minConns > maxConns {
		minConns = min(defaultPostgresMinConns, maxConns)
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)
	conn.SetConnMaxIdleTime(postgresConnMaxIdle)

	ctx, cancel := context.WithTimeout(context.Background(), postgresPingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return conn, nil
}
