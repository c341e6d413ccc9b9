package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/guide-lms/guide-router/config"
	"github.com/guide-lms/guide-router/internal/application/router"
	"github.com/guide-lms/guide-router/internal/application/rules"
	"github.com/guide-lms/guide-router/internal/application/sessions"
	"github.com/guide-lms/guide-router/internal/application/tutoring"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/group"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/student"
	"github.com/guide-lms/guide-router/internal/infrastructure/external/sheets"
	"github.com/guide-lms/guide-router/internal/infrastructure/messaging"
	"github.com/guide-lms/guide-router/internal/infrastructure/metrics"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/filecache"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/memory"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/postgres"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/redis"
	"github.com/guide-lms/guide-router/internal/infrastructure/scheduler"
	httpserver "github.com/guide-lms/guide-router/internal/interface/http"
	"github.com/guide-lms/guide-router/internal/interface/http/handlers"
	"github.com/guide-lms/guide-router/internal/interface/ws"
	"github.com/guide-lms/guide-router/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket event router (default)",
	RunE:  runServe,
}

var serveFlags struct {
	addr   string
	groups string
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (overrides SERVER_ADDR)")
	cmd.Flags().StringVar(&serveFlags.groups, "groups", "", "YAML group seed for the in-memory store (overrides RULES_GROUPS_FILE)")
}

// stores are the repositories the router persists to.
type stores struct {
	students student.Repository
	sessions session.Repository
	groups   group.Repository
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if serveFlags.addr != "" {
		cfg.Server.Addr = serveFlags.addr
	}
	if serveFlags.groups != "" {
		cfg.RuleSource.GroupsFile = serveFlags.groups
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting guide-router",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", version),
		logger.String("addr", cfg.Server.Addr),
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	collector := metrics.NewCollector()

	// ─────────────────────────────────────────────────────────────────────────
	// STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	var st stores
	if cfg.Database.URL != "" {
		conn, err := openPostgres(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", logger.Any("versions", applied))
		}

		st = stores{
			students: postgres.NewStudentRepository(conn),
			sessions: postgres.NewSessionRepository(conn),
			groups:   postgres.NewGroupRepository(conn),
		}
		health.AddCheck("postgres", handlers.NewPingCheck(conn))
	} else {
		var seed []*group.Group
		if cfg.RuleSource.GroupsFile != "" {
			if seed, err = readGroups(cfg.RuleSource.GroupsFile); err != nil {
				return err
			}
		}
		log.Warn("DATABASE_URL not set, using in-memory storage", logger.Int("groups", len(seed)))
		st = stores{
			students: memory.NewStudentRepository(),
			sessions: memory.NewSessionRepository(),
			groups:   memory.NewGroupRepository(seed...),
		}
	}

	var cache *redis.Cache
	if cfg.Redis.URL != "" || cfg.RuleSource.CacheBackend == config.CacheBackendRedis {
		if cache, err = openRedis(cfg.Redis); err != nil {
			return err
		}
		defer cache.Close()
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// RULE SOURCES
	// ─────────────────────────────────────────────────────────────────────────
	var caches sheets.CacheProvider
	switch cfg.RuleSource.CacheBackend {
	case config.CacheBackendRedis:
		caches = cache.Provider()
	case config.CacheBackendFile:
		caches = filecache.Provider(cfg.RuleSource.CacheDir)
	}

	clientCfg := sheets.DefaultClientConfig(cfg.RuleSource.BaseURL)
	clientCfg.Timeout = cfg.RuleSource.RequestTimeout
	clientCfg.MaxRetries = cfg.RuleSource.MaxRetries
	clientCfg.RetryBaseDelay = cfg.RuleSource.RetryBaseDelay
	clientCfg.Logger = log
	clientCfg.Observe = collector.ObserveSheetFetch
	client := sheets.NewClient(clientCfg)

	concurrency := cfg.RuleSource.MaxConcurrentFetches
	tutors := tutoring.NewFactory(
		rules.Config{
			Species: cfg.Router.DefaultSpecies,
			Cache: rules.CacheConfig{
				Dir:      cfg.RuleSource.CacheDir,
				TTL:      cfg.RuleSource.CacheTTL,
				Disabled: cfg.RuleSource.CacheBackend == config.CacheBackendNone,
			},
			Normalizer: event.NormalizeIncoming,
		},
		rules.Sources{
			Groups:     st.groups,
			Attributes: sheets.LoaderFactory(client, caches, sheets.ParseAttributeConcept, concurrency),
			Challenges: sheets.LoaderFactory(client, caches, sheets.ParseChallengeConcept, concurrency),
		},
		log,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// EVENT BUS AND ROUTER
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		Logger:         log,
	})
	defer bus.Close()

	if err := bus.SubscribeAll(collector.HandleLifecycle); err != nil {
		return fmt.Errorf("subscribe metrics: %w", err)
	}
	if cache != nil && cfg.Redis.PublishEvents {
		forwarder := messaging.NewRedisForwarder(cache.Client(), redis.PubSubChannel, "")
		if err := bus.SubscribeAll(forwarder.Handle); err != nil {
			return fmt.Errorf("subscribe redis forwarder: %w", err)
		}
	}

	tempUsers := student.TempUserChecker{Prefix: cfg.Router.TempUserPrefix}
	sessionSvc := sessions.NewService(st.sessions, st.students, tempUsers, bus, log)

	eventRouter := router.New(
		router.Config{
			Channel:    cfg.Router.Channel,
			TempUsers:  tempUsers,
			Normalizer: event.NormalizeIncoming,
		},
		router.Dependencies{
			Students:    st.students,
			Sessions:    st.sessions,
			Tutors:      tutors,
			Deactivator: sessionSvc,
			Publisher:   bus,
			Observer:    collector,
			Logger:      log,
		},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// TRANSPORT
	// ─────────────────────────────────────────────────────────────────────────
	wsCfg := ws.DefaultConfig()
	wsCfg.Channel = cfg.Router.Channel
	wsCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	wsCfg.DeactivateOnClose = cfg.Server.DeactivateOnDisconnect
	socket := ws.NewServer(wsCfg, ws.Dependencies{
		Router:      eventRouter,
		Sessions:    st.sessions,
		Deactivator: sessionSvc,
		Live:        sessionSvc.Live(),
		Connections: collector.WebSocketConnsTotal,
		Logger:      log,
	})

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Addr = cfg.Server.Addr
	httpCfg.ReadTimeout = cfg.Server.ReadTimeout
	httpCfg.WriteTimeout = cfg.Server.WriteTimeout
	httpCfg.AdminTokenHash = cfg.Server.AdminTokenHash
	httpCfg.Version = cfg.App.Version

	deps := httpserver.Dependencies{
		Logger:        log,
		HealthChecker: health,
		Sessions:      sessionSvc,
		Socket:        socket,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = promhttp.HandlerFor(collector.Registry, promhttp.HandlerOpts{Registry: collector.Registry})
	}
	server := httpserver.NewServer(httpCfg, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{Logger: log, JobTimeout: cfg.Scheduler.JobTimeout})
		job := scheduler.NewSweepIdleSessionsJob(sessionSvc, cfg.Scheduler.IdleTimeout, log)
		if err := sched.Register(job, cfg.Scheduler.SweepSpec); err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// RUN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case err := <-server.StartAsync():
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := socket.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
	}

	if err := errors.Join(append([]error{runErr}, errs...)...); err != nil {
		log.Error("shutdown finished with errors", logger.Err(err))
		return err
	}
	log.Info("guide-router stopped")
	return nil
}
