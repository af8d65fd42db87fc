package main

import (
	"github.com/scriptdeck/scriptdeck/internal/catalog"
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

// Services holds the long-lived domain services.
type Services struct {
	Events       *events.Broadcaster
	Processes    *process.Registry
	Repositories *gitrepo.Manager
	Catalog      *catalog.Catalog
}

func provideServices(cfg *config.Config, log *logger.Logger, repos *Repositories) (*Services, error) {
	broadcaster := events.NewBroadcaster(log, cfg.Events.ObserverBuffer)

	registry := process.NewRegistry(broadcaster, repos.History, log, process.Options{
		BufferMaxBytes:     cfg.Process.BufferMaxBytes,
		KillGracePeriod:    cfg.Process.KillGraceDuration(),
		CompletedRetention: cfg.Process.CompletedRetentionDuration(),
	})

	gitMgr, err := gitrepo.NewManager(cfg.Git, repos.Repositories, log)
	if err != nil {
		return nil, err
	}

	scripts, err := catalog.New(cfg.Scripts, gitMgr, log)
	if err != nil {
		return nil, err
	}

	return &Services{
		Events:       broadcaster,
		Processes:    registry,
		Repositories: gitMgr,
		Catalog:      scripts,
	}, nil
}
