// Package app wires the concierge together: transport, store, workflows,
// router, and the periodic jobs. It owns startup order and shutdown order;
// nothing else in the module holds global state.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/concierge/pkg/concierge/broadcast"
	"github.com/jholhewres/concierge/pkg/concierge/config"
	"github.com/jholhewres/concierge/pkg/concierge/content"
	"github.com/jholhewres/concierge/pkg/concierge/groups"
	"github.com/jholhewres/concierge/pkg/concierge/history"
	"github.com/jholhewres/concierge/pkg/concierge/identity"
	"github.com/jholhewres/concierge/pkg/concierge/llm"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
	"github.com/jholhewres/concierge/pkg/concierge/messaging/discord"
	"github.com/jholhewres/concierge/pkg/concierge/messaging/whatsapp"
	"github.com/jholhewres/concierge/pkg/concierge/reminder"
	"github.com/jholhewres/concierge/pkg/concierge/responder"
	"github.com/jholhewres/concierge/pkg/concierge/router"
)

// App is the running concierge agent.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	transport  messaging.Transport
	store      reminder.Store
	reminders  *reminder.Service
	dispatcher *reminder.Dispatcher
	memory     *history.Memory
	router     *router.Router

	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the agent from config. Nothing connects yet; Start does.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := reminder.OpenStore(cfg.Reminders.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening reminder store: %w", err)
	}

	reminders, err := reminder.NewService(store, cfg.Timezone)
	if err != nil {
		store.Close()
		return nil, err
	}

	ids := identity.NewResolver(transport, logger)
	memory := history.New(cfg.History.MaxEntries, cfg.History.TTL, logger)
	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, logger)

	broadcasts := broadcast.New(transport, ids,
		cfg.Broadcast.IncludeGroups, cfg.Broadcast.SendDelay, logger)

	activities := make(map[string]groups.Activity, len(cfg.Activities))
	for name, a := range cfg.Activities {
		activities[name] = groups.Activity{GroupID: a.GroupID, Label: a.Label}
	}
	groupsWF := groups.New(transport, activities, logger)

	resp := responder.New(client, content.New(), memory, cfg.Name, logger)

	rt := router.New(
		router.Config{
			AgentName:      cfg.Name,
			Aliases:        cfg.Aliases(),
			AdminAllowlist: cfg.Admin.Allowlist,
			RelayAddress:   cfg.Admin.RelayAddress,
		},
		transport, ids, broadcasts, groupsWF, reminders, resp, client, memory, logger,
	)

	return &App{
		cfg:        cfg,
		logger:     logger.With("component", "app"),
		transport:  transport,
		store:      store,
		reminders:  reminders,
		dispatcher: reminder.NewDispatcher(store, transport, logger),
		memory:     memory,
		router:     rt,
		done:       make(chan struct{}),
	}, nil
}

// newTransport constructs the configured messaging transport.
func newTransport(cfg *config.Config, logger *slog.Logger) (messaging.Transport, error) {
	switch cfg.Transport.Kind {
	case "", "whatsapp":
		return whatsapp.New(cfg.Transport.WhatsApp, logger), nil
	case "discord":
		return discord.New(cfg.Transport.Discord, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q (want whatsapp or discord)", cfg.Transport.Kind)
	}
}

// Start connects the transport, schedules the periodic jobs, and begins the
// message loop. Returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s transport: %w", a.transport.Name(), err)
	}

	a.cron = cron.New()

	tick := fmt.Sprintf("@every %s", a.cfg.Reminders.PollInterval)
	if _, err := a.cron.AddFunc(tick, func() { a.dispatcher.Tick(ctx) }); err != nil {
		return fmt.Errorf("scheduling reminder dispatcher: %w", err)
	}

	sweep := fmt.Sprintf("@every %s", a.cfg.History.SweepInterval)
	if _, err := a.cron.AddFunc(sweep, a.memory.Sweep); err != nil {
		return fmt.Errorf("scheduling history sweep: %w", err)
	}

	a.cron.Start()

	go a.loop(ctx)

	a.logger.Info("concierge started",
		"transport", a.transport.Name(),
		"poll_interval", a.cfg.Reminders.PollInterval,
		"aliases", a.cfg.MentionHandles)
	return nil
}

// loop processes inbound messages sequentially. One message at a time keeps
// workflow state transitions ordered per the platform's delivery order.
func (a *App) loop(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.transport.Messages():
			if !ok {
				return
			}
			a.router.HandleMessage(ctx, msg)
		}
	}
}

// Stop shuts everything down: periodic jobs first so no tick runs against a
// closing transport, then the transport, then the store.
func (a *App) Stop() {
	a.logger.Info("stopping")

	if a.cron != nil {
		// Wait for any in-flight job to finish.
		<-a.cron.Stop().Done()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.transport.Disconnect(); err != nil {
		a.logger.Warn("transport disconnect", "error", err)
	}
	<-a.done

	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}

	a.logger.Info("stopped")
}
