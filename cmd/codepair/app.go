package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinemde/codepair/agentloop"
	"github.com/martinemde/codepair/config"
	"github.com/martinemde/codepair/conversation"
	"github.com/martinemde/codepair/natsbus"
	"github.com/martinemde/codepair/sandbox"
	"github.com/martinemde/codepair/store"
	"github.com/martinemde/codepair/unifiedllm"
)

// app holds the components shared by the run and serve commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	client *unifiedllm.Client
	store  *store.Store
	bus    *natsbus.Bus
	nats   *natsbus.Client
	orch   *conversation.Orchestrator
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg := a.cfg

	adapterOpts := []unifiedllm.GollmAdapterOption{
		unifiedllm.WithAPIKey(cfg.Model.APIKey),
		unifiedllm.WithModel(cfg.Model.Name),
	}
	if cfg.Model.MaxTokens > 0 {
		adapterOpts = append(adapterOpts, unifiedllm.WithMaxTokens(cfg.Model.MaxTokens))
	}
	if cfg.Model.Temperature != nil {
		adapterOpts = append(adapterOpts, unifiedllm.WithTemperature(*cfg.Model.Temperature))
	}
	adapter, err := unifiedllm.NewGollmAdapter(cfg.Model.Provider, adapterOpts...)
	if err != nil {
		return fmt.Errorf("model provider: %w", err)
	}
	a.client = unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Model.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Model.Provider),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(a.logger)),
	)

	sbCfg, err := cfg.SandboxSettings()
	if err != nil {
		return err
	}
	sbCfg.Logger = a.logger
	sb := sandbox.New(sbCfg)
	tools := agentloop.NewToolRegistry(agentloop.RunProgramTool(sb))

	var sinks []conversation.EventSink
	if cfg.Store.Enabled {
		a.store, err = store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		sinks = append(sinks, store.NewRecorder(a.store))
	}
	if cfg.NATS.Enabled {
		if err := a.connectBus(); err != nil {
			return err
		}
		sinks = append(sinks, natsbus.NewEventPublisher(a.nats))
	}

	coder := agentloop.New(a.client, tools, a.agentConfig(conversation.DefaultCoderName, agentloop.CoderPrompt))
	critic := agentloop.New(a.client, tools, a.agentConfig(conversation.DefaultCriticName, agentloop.CriticPrompt))

	a.orch = conversation.NewOrchestrator(coder, critic,
		conversation.WithMaxTurns(cfg.Conversation.MaxTurns),
		conversation.WithTriggers(cfg.Conversation.ApproveTrigger, cfg.Conversation.ExitTrigger),
		conversation.WithEventBuffer(cfg.Conversation.EventBuffer),
		conversation.WithSinks(sinks...),
		conversation.WithLogger(a.logger),
	)
	return nil
}

func (a *app) connectBus() error {
	var err error
	if a.cfg.NATS.Embedded {
		a.bus, err = natsbus.New(a.cfg.NATS)
		if err != nil {
			return fmt.Errorf("start nats: %w", err)
		}
		a.nats, err = natsbus.NewClient(a.bus)
	} else {
		a.nats, err = natsbus.NewClientFromURL(a.cfg.NATS.URL)
	}
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	a.logger.Info("event bus ready", "embedded", a.cfg.NATS.Embedded)
	return nil
}

func (a *app) agentConfig(name, prompt string) agentloop.Config {
	m := a.cfg.Model
	ac := agentloop.DefaultConfig(name, prompt)
	ac.Model = m.Name
	ac.Provider = m.Provider
	ac.Temperature = m.Temperature
	if m.MaxTokens > 0 {
		maxTokens := m.MaxTokens
		ac.MaxTokens = &maxTokens
	}
	ac.MaxToolRounds = a.cfg.Conversation.MaxToolRounds
	ac.Retry.MaxRetries = m.MaxRetries
	ac.Retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		a.logger.Warn("retrying model call", "agent", name, "attempt", attempt, "delay", delay, "error", err)
	}
	ac.Logger = a.logger
	return ac
}

// Start launches a run. When the bus is up, replies published on the run's
// reply topic are forwarded to it until it finishes.
func (a *app) Start(ctx context.Context, task string) *conversation.Run {
	run := a.orch.Start(ctx, task)
	if a.nats == nil {
		return run
	}
	sub, err := natsbus.SubscribeReplies(a.nats, run, a.logger)
	if err != nil {
		a.logger.Warn("reply subscription failed", "run", run.ID(), "error", err)
		return run
	}
	go func() {
		<-run.Done()
		sub.Unsubscribe()
	}()
	return run
}

func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
}
