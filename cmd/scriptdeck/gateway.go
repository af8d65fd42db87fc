package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/api"
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
	"github.com/scriptdeck/scriptdeck/internal/events/bus"
)

// killCommandSubject receives kill requests from other services:
// {"type":"kill","data":{"processId":"..."}}.
const killCommandSubject = "commands.kill"

// streamPaths are long-lived responses exempt from the server write timeout.
var streamPaths = map[string]struct{}{
	"/api/processes/events": {},
	"/api/processes/ws":     {},
}

func provideRouter(cfg *config.Config, log *logger.Logger, svc *Services) *gin.Engine {
	return api.NewRouter(api.Deps{
		Processes:    svc.Processes,
		Events:       svc.Events,
		Scripts:      svc.Catalog,
		Repositories: svc.Repositories,
		Shell:        cfg.Process.DefaultShell,
		Heartbeat:    cfg.Events.HeartbeatDuration(),
	}, log)
}

// withStreamDeadlines clears the connection write deadline for event
// stream requests so the server WriteTimeout only bounds regular requests.
func withStreamDeadlines(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := streamPaths[r.URL.Path]; ok {
			if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
				log.Debug("failed to clear write deadline", zap.String("path", r.URL.Path), zap.Error(err))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// provideEventRelay connects to NATS when configured, mirrors broadcast
// events onto it and accepts remote kill commands. It returns a nil bus
// when the relay is disabled.
func provideEventRelay(ctx context.Context, cfg *config.Config, log *logger.Logger, svc *Services) (bus.EventBus, func() error, error) {
	if cfg.NATS.URL == "" {
		log.Info("NATS relay disabled")
		return nil, func() error { return nil }, nil
	}

	log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
	natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		return nil, nil, err
	}

	relay := events.NewRelay(svc.Events, natsBus, cfg.NATS.SubjectPrefix, log)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	sub, err := subscribeKillCommands(natsBus, cfg.NATS.SubjectPrefix, svc, log)
	if err != nil {
		log.Error("Failed to subscribe to kill commands", zap.Error(err))
	}

	cleanup := func() error {
		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				log.Warn("failed to unsubscribe kill commands", zap.Error(err))
			}
		}
		<-relayDone
		natsBus.Close()
		return nil
	}
	log.Info("Connected to NATS event relay", zap.String("prefix", cfg.NATS.SubjectPrefix))
	return natsBus, cleanup, nil
}

func subscribeKillCommands(eventBus bus.EventBus, prefix string, svc *Services, log *logger.Logger) (bus.Subscription, error) {
	subject := strings.Join([]string{prefix, killCommandSubject}, ".")
	return eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		data, ok := event.Data.(map[string]any)
		if !ok {
			return fmt.Errorf("kill command %s has no data", event.ID)
		}
		processID, _ := data["processId"].(string)
		if processID == "" {
			return fmt.Errorf("kill command %s has no processId", event.ID)
		}
		log.Info("remote kill requested",
			zap.String("process_id", processID),
			zap.String("source", event.Source))
		return svc.Processes.Kill(ctx, processID)
	})
}
