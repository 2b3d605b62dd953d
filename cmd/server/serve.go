package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"monview/internal/adapter"
	"monview/internal/bridge"
	"monview/internal/config"
	"monview/internal/domain"
	"monview/internal/handler"
	"monview/internal/hub"
	"monview/internal/logger"
	"monview/internal/loop"
	"monview/internal/metrics"
	"monview/internal/monitoring"
	"monview/internal/preferences"
	"monview/internal/repository"
	redisrepo "monview/internal/repository/redis"
	"monview/internal/repository/sqlite"
	"monview/internal/service"
	"monview/internal/watcher"
)

var (
	serveAddrFlag string
	serveDBFlag   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Start the API, the SSE stream on /events and the Prometheus
endpoint on /metrics.

Examples:
  monview serve
  monview serve --addr :9000 --db /var/lib/monview/monview.db
  monview serve --config ./monview.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddrFlag != "" {
			cfg.Server.Addr = serveAddrFlag
		}
		if serveDBFlag != "" {
			cfg.Database.Path = serveDBFlag
		}
		return serve(cmd.Context(), cfg, path)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDBFlag, "db", "", "SQLite database path (overrides config)")
}

func loadConfig() (*config.Config, string, error) {
	return config.Load(configFlag)
}

func serve(parent context.Context, cfg *config.Config, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	if configPath != "" {
		log.Info("using config %s", configPath)
	}
	log.Info("starting monview %s\n%s", version, cfg.Summary())

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer repo.Close()
	log.Info("database opened: %s", cfg.Database.Path)

	prefBackend, closePrefs, err := preferenceBackend(parent, cfg, repo)
	if err != nil {
		return err
	}
	defer closePrefs()

	m := metrics.New()
	if err := m.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sseHub := hub.New(log.Named("hub"))
	eventBus := service.NewEventBus()

	// A missing SSH setup only disables automatic installation
	var (
		agent    service.Agent
		disabler service.PluginDisabler
	)
	sshAgent, err := adapter.NewSSHAgent(adapter.SSHConfig{
		User:           cfg.SSH.User,
		KeyPath:        cfg.SSH.KeyPath,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		Timeout:        time.Duration(cfg.SSH.Timeout),
		CommandTimeout: time.Duration(cfg.SSH.CommandTimeout),
	}, log.Named("ssh"))
	if err != nil {
		log.Warn("SSH agent unavailable, only manual installation is offered: %v", err)
	} else {
		agent, disabler = sshAgent, sshAgent
	}

	machineSvc := service.NewMachineService(repo, eventBus, log.Named("machines"))
	ruleSvc := service.NewRuleService(repo, eventBus, log.Named("rules"))
	metricSvc := service.NewMetricService(repo, disabler, eventBus, cfg.Metrics(), log.Named("metrics"))
	monitoringSvc, err := service.NewMonitoringService(machineSvc, agent, cfg.Install.Command, log.Named("monitoring"))
	if err != nil {
		return err
	}
	session := service.NewSession(cfg.Session.Authenticated, cfg.Session.Plan, func() {
		sseHub.Publish("", handler.MsgLoginRequired, map[string]string{"account_url": cfg.Server.AccountURL})
	})
	prefs := preferences.New(prefBackend, log.Named("preferences"))

	l := loop.New()
	broker := handler.NewDialogBroker(sseHub)
	candidates := func(machine *domain.Machine) []*domain.Metric {
		var out []*domain.Metric
		for _, metric := range metricSvc.CustomMetrics() {
			if !metric.HasMachine(machine) {
				out = append(out, metric)
			}
		}
		return out
	}
	views := handler.NewViewManager(monitoring.Deps{
		Loop:         l,
		Events:       eventBus,
		Rules:        ruleSvc,
		Metrics:      metricSvc,
		Monitoring:   monitoringSvc,
		Preferences:  prefs,
		Session:      session,
		Logger:       log.Named("view"),
		Recorder:     m,
		DisableDelay: time.Duration(cfg.Server.DisableDelay),
		AccountURL:   cfg.Server.AccountURL,
	}, broker, sseHub, candidates, m, log.Named("views"))

	monitorHandler := handler.NewMonitorHandler(machineSvc, metricSvc, prefs, views, broker, log.Named("http"))
	if cfg.Probe.Nmap {
		monitorHandler.SetReachabilityChecker(adapter.NewNmapChecker(log.Named("probe"),
			adapter.WithTimeout(time.Duration(cfg.Probe.Timeout)),
			adapter.WithSkipHostDiscovery(cfg.Probe.SkipHostDiscovery),
		))
	}

	mux := http.NewServeMux()
	monitorHandler.Routes(mux)
	mux.Handle("GET /events", sseHub)
	mux.Handle("GET /metrics", m.Handler())

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.Chain(mux,
			handler.Recover(log),
			handler.CORS,
			handler.Logger(log.Named("http"), m),
		),
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout, it would cut SSE streams
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The loop outlives the group so views can be closed during shutdown
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go l.Run(loopCtx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sseHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := views.CloseAll(shutdownCtx); err != nil {
			log.Warn("close views: %v", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if configPath != "" {
		reloader := watcher.NewConfigReloader(configPath, cfg, metricSvc, session, log.Named("config"))
		g.Go(func() error {
			if err := reloader.Run(gctx); err != nil && gctx.Err() == nil {
				log.Warn("config watcher stopped: %v", err)
			}
			return nil
		})
	}

	if cfg.Kafka.Enabled {
		origin := uuid.NewString()
		consumer := bridge.NewConsumer(
			bridge.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			eventBus, origin, log.Named("bridge"), m)
		forwarder := bridge.NewForwarder(
			bridge.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			eventBus, origin, log.Named("bridge"))

		g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(forwarder.Run(gctx)) })
		log.Info("event bridge on %s as %s", cfg.Kafka.Topic, origin)
	}

	err = g.Wait()
	if saveErr := prefs.Save(); saveErr != nil {
		log.Warn("save preferences on exit: %v", saveErr)
	}
	log.Info("server stopped")
	return err
}

// preferenceBackend picks sqlite or redis for view preferences
func preferenceBackend(ctx context.Context, cfg *config.Config, repo *sqlite.Repository) (repository.PreferenceRepository, func(), error) {
	if cfg.Preferences.Backend != config.BackendRedis {
		return repo, func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r := cfg.Preferences.Redis
	client, err := redisrepo.Dial(dialCtx, r.Addr, r.Password, r.DB)
	if err != nil {
		return nil, nil, err
	}
	return redisrepo.NewPreferenceRepository(client, r.Prefix), func() { client.Close() }, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
