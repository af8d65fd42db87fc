// Package persistence opens the shared database pool from configuration.
package persistence

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/db"
)

// Provide creates the database pool used by the history and repository
// stores. A nil log falls back to logger.Default.
func Provide(cfg *config.Config, log *logger.Logger) (*db.Pool, func() error, error) {
	if log == nil {
		log = logger.Default()
	}
	switch cfg.Database.Driver {
	case "", "sqlite":
		return provideSQLite(cfg.Database.Path, log)
	case "postgres":
		return providePostgres(cfg.Database, log)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func provideSQLite(dbPath string, log *logger.Logger) (*db.Pool, func() error, error) {
	dbPath, err := config.ExpandHome(dbPath)
	if err != nil {
		return nil, nil, err
	}
	writerConn, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	readerConn, err := db.OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writerConn.Close()
		return nil, nil, fmt.Errorf("failed to open sqlite reader: %w", err)
	}
	pool := db.NewPool(sqlx.NewDb(writerConn, "sqlite3"), sqlx.NewDb(readerConn, "sqlite3"))
	log.Info("Database initialized", zap.String("db_path", dbPath), zap.String("db_driver", "sqlite"))
	cleanup := func() error {
		_, _ = pool.Writer().Exec("PRAGMA optimize")
		return pool.Close()
	}
	return pool, cleanup, nil
}

func providePostgres(cfg config.DatabaseConfig, log *logger.Logger) (*db.Pool, func() error, error) {
	shared, err := db.OpenPostgres(cfg)
	if err != nil {
		return nil, nil, err
	}
	pool := db.NewPool(shared, shared)
	log.Info("Database initialized", zap.String("db_driver", "postgres"))
	return pool, pool.Close, nil
}
