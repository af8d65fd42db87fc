package main

import (
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo/store"
	"github.com/scriptdeck/scriptdeck/internal/persistence"
	"github.com/scriptdeck/scriptdeck/internal/process/history"
)

// Repositories holds the SQL-backed stores.
type Repositories struct {
	History      *history.Store
	Repositories *store.Repository
}

func provideRepositories(cfg *config.Config, log *logger.Logger) (*Repositories, []func() error, error) {
	cleanups := make([]func() error, 0, 3)
	pool, cleanup, err := persistence.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, cleanup)

	historyStore, cleanup, err := history.Provide(pool)
	if err != nil {
		return nil, cleanups, err
	}
	cleanups = append(cleanups, cleanup)

	repoStore, cleanup, err := store.Provide(pool)
	if err != nil {
		return nil, cleanups, err
	}
	cleanups = append(cleanups, cleanup)

	return &Repositories{History: historyStore, Repositories: repoStore}, cleanups, nil
}
