package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cadenzahq/clearway/pkg/api"
	"github.com/cadenzahq/clearway/pkg/audit"
	"github.com/cadenzahq/clearway/pkg/authz"
	"github.com/cadenzahq/clearway/pkg/config"
	"github.com/cadenzahq/clearway/pkg/continuity"
	"github.com/cadenzahq/clearway/pkg/guard"
	"github.com/cadenzahq/clearway/pkg/identity"
	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/prefs"
	"github.com/cadenzahq/clearway/pkg/scope"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	redisClient, err := openRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Access policy, hot-reloaded from disk when configured
	policy, err := authz.NewPolicyWatcher(cfg.Policy.Path, logger)
	if err != nil {
		log.Fatalf("Failed to load access policy: %v", err)
	}
	if cfg.Policy.Path != "" && cfg.Policy.Watch {
		go func() {
			if err := policy.Watch(ctx); err != nil {
				logger.WithError(err).Error("policy watcher stopped")
			}
		}()
	}

	// Identity and authorization
	profiles := identity.NewPostgresProfileStore(db)
	tenantSvc := tenants.NewPostgresService(db)
	sessionCache := identity.NewRedisSessionCache(redisClient)
	provider := identity.NewProvider(profiles, tenantSvc, sessionCache, logger, metrics, 0)

	resolver, err := authz.NewResolver(authz.NewPostgresDecisionStore(db), policy, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to create authorization resolver: %v", err)
	}
	provider.Subscribe(resolver.OnAuthChange)

	// Scope enforcement backed by Redis so intents survive instance restarts
	scopes := scope.NewManager(
		scope.NewClassifier(scope.DefaultRules()),
		scope.NewRedisStateStore(redisClient),
		logger, metrics,
	)
	guards := guard.New(resolver, scopes, logger, metrics)

	// Audit trail: database sink always, file sink when configured
	dbSink := audit.NewDBLogger(db, logger, metrics)
	sinks := []audit.Logger{dbSink}
	var fileSink *audit.FileLogger
	if cfg.Audit.FilePath != "" {
		fileSink, err = audit.NewFileLogger(cfg.Audit.FilePath, metrics)
		if err != nil {
			log.Fatalf("Failed to open audit file: %v", err)
		}
		sinks = append(sinks, fileSink)
	}
	auditLog := audit.NewMultiLogger(sinks...)

	retention := audit.NewRetention(db, logger, cfg.Audit.RetentionDays)
	if err := retention.Start(cfg.Audit.RetentionSchedule); err != nil {
		log.Fatalf("Failed to start audit retention: %v", err)
	}

	// Session continuity across instances via Redis pub/sub
	prefsStore := prefs.NewPostgresStore(db, cfg.Continuity.WarningLead)
	monitorLog := logrus.New()
	monitorLog.SetLevel(logrus.InfoLevel)
	monitor := continuity.NewMonitor(
		continuity.NewRedisBroadcast(redisClient),
		prefsStore,
		provider.SignOut,
		monitorLog, metrics,
		cfg.Continuity.CheckInterval,
		continuity.Prefs{
			IdleTimeout: cfg.Continuity.DefaultIdleTimeout,
			WarningLead: cfg.Continuity.WarningLead,
			Enabled:     true,
		},
	)
	provider.Subscribe(func(event identity.ChangeEvent) {
		switch event.Type {
		case identity.ChangeSignedIn:
			monitor.Track(event.SessionID, event.UserID)
		case identity.ChangeSignedOut:
			monitor.Forget(event.SessionID)
		}
	})

	var authenticator identity.Authenticator
	if cfg.Auth.IssuerURL != "" {
		authenticator, err = identity.NewOIDCAuthenticator(ctx, identity.OIDCConfig{
			IssuerURL:    cfg.Auth.IssuerURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			RedirectURL:  cfg.Auth.RedirectURL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize OIDC authenticator: %v", err)
		}
		logger.Infof("OIDC authentication enabled against %s", cfg.Auth.IssuerURL)
	} else {
		log.Fatal("An OIDC issuer is required; clearway holds no credentials of its own")
	}

	server := api.NewServer(api.Deps{
		Sessions: provider,
		Auth:     authenticator,
		Tenants:  tenantSvc,
		Guards:   guards,
		Scopes:   scopes,
		Monitor:  monitor,
		Prefs:    prefsStore,
		Audit:    auditLog,
		Trail:    dbSink,
		Logger:   logger,
		Metrics:  metrics,
	})

	var handler http.Handler = server
	if metrics != nil {
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("Clearway listening on %s", appServer.Addr)
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Health and metrics on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return monitor.Run(groupCtx)
	})

	shutdown := observability.NewShutdownManager(logger, appServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		cancel()
		retention.Stop()
		if fileSink != nil {
			return fileSink.Close()
		}
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
	}
	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("component exited with error")
	}
	logger.Info("Clearway stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
