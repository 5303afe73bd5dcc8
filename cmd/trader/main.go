package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pollypredict/trader/internal/agent"
	"github.com/pollypredict/trader/internal/api"
	"github.com/pollypredict/trader/internal/auth"
	"github.com/pollypredict/trader/internal/cache"
	"github.com/pollypredict/trader/internal/config"
	"github.com/pollypredict/trader/internal/control"
	"github.com/pollypredict/trader/internal/discovery"
	"github.com/pollypredict/trader/internal/dispatch"
	"github.com/pollypredict/trader/internal/events"
	"github.com/pollypredict/trader/internal/ratelimit"
	"github.com/pollypredict/trader/internal/reconcile"
	"github.com/pollypredict/trader/internal/store"
	"github.com/pollypredict/trader/internal/stream"
	"github.com/pollypredict/trader/internal/trading"
	"github.com/pollypredict/trader/internal/version"
)

// queueSize bounds the shared stream queue. Drops past this point are
// recovered by periodic reconciliation.
const queueSize = 100000

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting trader",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence is optional; without a DSN everything runs in memory.
	st := store.Open(ctx, cfg.DatabaseURL, logger)

	// The kill switch survives restarts; a persisted value overrides the
	// configured startup default.
	if v := st.GetConfig(ctx, cfg.ActiveEnvironment, "global_trading_enabled"); v != "" {
		cfg.GlobalTradingEnabled = v == "true"
	}

	hub := events.NewHub(logger)
	marketCache := cache.New(logger)
	queue := make(chan stream.Message, queueSize)

	// Both environments run full pipelines side by side; the permission
	// layer decides which one approved intents reach.
	clients := make(map[string]*api.Client, len(config.Environments))
	streams := make(map[string]*stream.Client, len(config.Environments))
	engines := make(map[string]*trading.Engine, len(config.Environments))
	for _, env := range config.Environments {
		clients[env] = api.NewClient(env, config.BaseURL(env), ratelimit.New(), api.WithLogger(logger))
		streams[env] = stream.NewClient(env, config.WSURL(env), queue, logger)
		engines[env] = trading.NewEngine(env, clients[env], st, hub, logger)
		engines[env].LoadState(ctx)
	}

	permission := trading.NewPermission(
		cfg.ActiveEnvironment,
		cfg.GlobalTradingEnabled,
		func(env string) bool {
			c, ok := clients[env]
			return ok && c.IsConfigured()
		},
		hub,
		logger,
	)
	permission.SetOnApproved(func(intent trading.TradeIntent, env string) {
		engine, ok := engines[env]
		if !ok {
			logger.Error("approved intent for unknown environment", "env", env)
			return
		}
		// Execution retries internally; keep the agent loop unblocked.
		go engine.Execute(ctx, intent)
	})

	// Persist kill-switch flips so the override above sees them on the
	// next start.
	flagSub, cancelFlagSub := hub.Subscribe()
	defer cancelFlagSub()
	go func() {
		for e := range flagSub {
			if e.Type != "global_trading_change" {
				continue
			}
			enabled, _ := e.Fields["enabled"].(bool)
			st.SetConfig(ctx, permission.ActiveEnvironment(), "global_trading_enabled", strconv.FormatBool(enabled))
		}
	}()

	dispatcher := dispatch.New(queue, marketCache, engines, hub, logger)

	manager := agent.NewManager()
	for _, strategy := range []agent.Strategy{
		agent.NewPrime(agent.DefaultPrimeConfig()),
		agent.NewPeritia(agent.DefaultPeritiaConfig()),
	} {
		a := agent.New(strategy, marketCache, permission, st, hub, logger)
		if err := manager.Register(a); err != nil {
			logger.Error("failed to register agent", "agent", strategy.Name(), "error", err)
			os.Exit(1)
		}
	}

	reconcilers := make(map[string]*reconcile.Reconciler, len(engines))
	for _, env := range config.Environments {
		r := reconcile.New(env, clients[env], engines[env], hub, logger)
		reconcilers[env] = r
		streams[env].OnReconnect(func() { go r.RunOnce(ctx) })
	}

	disc := discovery.New(
		cfg.ActiveEnvironment,
		clients[cfg.ActiveEnvironment],
		marketCache,
		st,
		streams[cfg.ActiveEnvironment],
		logger,
	)

	loadCreds := func(env, keyID, privateKeyPath string) error {
		client, sc := clients[env], streams[env]
		if keyID == "" {
			client.ClearCredentials()
			sc.ClearCredentials()
			logger.Info("credentials unloaded", "env", env)
			return nil
		}
		creds, err := auth.LoadCredentials(keyID, privateKeyPath)
		if err != nil {
			return err
		}
		client.SetCredentials(creds)
		sc.SetCredentials(creds)
		// Fresh keys clear a 401 halt so execution can resume.
		engines[env].ClearHalt()
		logger.Info("credentials loaded", "env", env)
		return nil
	}

	ctl := control.NewServer(control.Deps{
		Manager:    manager,
		Permission: permission,
		Engines:    engines,
		Clients:    clients,
		Streams:    streams,
		Cache:      marketCache,
		Hub:        hub,
		LoadCreds:  loadCreds,
	}, logger)

	// Control API comes up first so the operator can watch startup.
	if err := ctl.Start(cfg.ControlAPI.Host, cfg.ControlAPI.Port); err != nil {
		logger.Error("failed to start control api", "error", err)
		os.Exit(1)
	}

	for _, env := range config.Environments {
		creds := cfg.Credentials(env)
		if creds.APIKey == "" {
			continue
		}
		if err := loadCreds(env, creds.APIKey, creds.PrivateKeyPath); err != nil {
			logger.Error("failed to load startup credentials", "env", env, "error", err)
		}
	}

	// Reconcile before agents activate so they trade against the
	// exchange's view, not a stale warm start.
	for _, env := range config.Environments {
		reconcilers[env].RunOnce(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { disc.Run(gctx); return nil })
	for _, env := range config.Environments {
		s, r := streams[env], reconcilers[env]
		g.Go(func() error { s.Run(gctx); return nil })
		g.Go(func() error { r.Run(gctx); return nil })
	}

	manager.StartAll(gctx)

	logger.Info("trader running",
		"active_environment", cfg.ActiveEnvironment,
		"global_trading_enabled", cfg.GlobalTradingEnabled,
		"control_host", cfg.ControlAPI.Host,
		"control_port", cfg.ControlAPI.Port,
	)

	<-gctx.Done()
	logger.Info("shutting down")

	manager.StopAll()
	g.Wait()

	cancelFlagSub()
	st.Close()

	// The control API stops last so the operator can watch the shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control api shutdown", "error", err)
	}

	logger.Info("trader stopped")
}
