package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/myportal/portal/pkg/access"
	"github.com/myportal/portal/pkg/api"
	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/config"
	"github.com/myportal/portal/pkg/httputil"
	"github.com/myportal/portal/pkg/middleware"
	"github.com/myportal/portal/pkg/notify"
	"github.com/myportal/portal/pkg/observability"
	"github.com/myportal/portal/pkg/orgs"
	"github.com/myportal/portal/pkg/rbac"
	"github.com/myportal/portal/pkg/schedule"
	"github.com/myportal/portal/pkg/session"
	"github.com/myportal/portal/pkg/storage"
	"github.com/myportal/portal/pkg/webhooks"
)

// memoryCounterSize bounds the in-process rate-limit counter when Redis
// is not configured.
const memoryCounterSize = 65536

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)

	// workers log through logrus; the request path uses slog
	workerLog := logrus.New()
	workerLog.SetFormatter(&logrus.JSONFormatter{})
	if cfg.LogLevel == "debug" {
		workerLog.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()

	db, err := storage.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("postgres connection failed")
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		client, err := storage.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			// rate limiting falls back to per-process counters
			logger.WithError(err).Warn("redis unavailable, using in-memory counters")
		} else {
			redisClient = client
			defer client.Close()
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// stores
	orgStore := orgs.NewStore(db)
	sessionStore := session.NewStore(db, cfg.Auth.SessionTTL)
	rbacStore := rbac.NewStore(db)
	keyStore := auth.NewSQLKeyStore(db)
	webhookStore := webhooks.NewStore(db)
	auditStore := audit.NewStore(db)
	notifyStore := notify.NewStore(db)

	hasher := auth.NewHasher(cfg.Auth.Pepper)
	resolver := rbac.NewResolver(orgStore, rbacStore)
	keyAuth := auth.NewAuthenticator(keyStore, hasher)
	keyAuth.SetObserver(func(outcome string) {
		metrics.APIKeyAuthTotal.WithLabelValues(outcome).Inc()
	})
	accessSvc := access.NewService(sessionStore, orgStore, keyAuth, resolver)
	auditor := audit.NewWriter(auditStore, logger.Slog())

	// webhook delivery pipeline
	runner := schedule.NewRunner(workerLog)
	monitor := webhooks.NewMonitor(webhookStore, nil, runner, workerLog)
	monitor.SetObserver(metrics)
	runner.Register(webhooks.TaskAttemptDelivery, func(ctx context.Context, args map[string]any) error {
		id, ok := args["event_id"].(int64)
		if !ok {
			return fmt.Errorf("attempt task needs an event_id, got %v", args["event_id"])
		}
		return monitor.AttemptByID(ctx, id)
	})
	sweeper := webhooks.NewSweeper(monitor, webhooks.SweepConfig{
		Interval:   cfg.Webhooks.SweepInterval,
		StaleAfter: cfg.Webhooks.StaleAfter,
		BatchSize:  cfg.Webhooks.BatchSize,
	}, workerLog)

	dispatcher := notify.NewDispatcher(notifyStore, monitor, notify.Config{
		EmailWebhookURL: cfg.Notify.EmailWebhookURL,
		SMSWebhookURL:   cfg.Notify.SMSWebhookURL,
	}, logger.Slog())
	dispatcher.SetObserver(metrics)

	// periodic jobs
	cronJobs := schedule.NewCron(workerLog)
	if err := cronJobs.Add("@every 10m", "sessions.sweep", func(ctx context.Context) error {
		n, err := sessionStore.DeleteExpired(ctx)
		if err != nil {
			return err
		}
		metrics.SessionsSweptTotal.Add(float64(n))
		return nil
	}); err != nil {
		logger.WithError(err).Error("registering session sweep failed")
		os.Exit(1)
	}
	if err := cronJobs.Add("@every 30s", "stats.observe", func(ctx context.Context) error {
		metrics.ObserveDBStats(db)
		if n, err := sessionStore.CountActive(ctx); err == nil {
			metrics.SessionsActive.Set(float64(n))
		}
		depths, err := webhookStore.CountByStatus(ctx)
		if err != nil {
			return err
		}
		for _, status := range []webhooks.Status{
			webhooks.StatusPending, webhooks.StatusInFlight, webhooks.StatusRetrying,
			webhooks.StatusSucceeded, webhooks.StatusFailed,
		} {
			metrics.WebhookQueueDepth.WithLabelValues(string(status)).Set(float64(depths[status]))
		}
		return nil
	}); err != nil {
		logger.WithError(err).Error("registering stats job failed")
		os.Exit(1)
	}

	// exemption policy, hot-reloaded from disk when configured
	var policy *config.PolicyStore
	if cfg.PolicyFile != "" {
		policy, err = config.NewPolicyStore(cfg.PolicyFile, workerLog)
		if err != nil {
			logger.WithError(err).Error("loading policy file failed")
			os.Exit(1)
		}
		defer policy.Close()
	}

	var counters middleware.CounterStore
	if redisClient != nil {
		counters = middleware.NewRedisCounterStore(redisClient)
	} else {
		memory, err := middleware.NewMemoryCounterStore(memoryCounterSize)
		if err != nil {
			logger.WithError(err).Error("building counter store failed")
			os.Exit(1)
		}
		counters = memory
	}
	limiter := middleware.NewRateLimiter(counters, &middleware.RateLimitConfig{
		RequestsPerWindow: int64(cfg.Limits.Requests),
		WindowDuration:    cfg.Limits.Window,
	}, policyOrNil(policy), "ip")
	limiter.SetHitCounter(metrics.RateLimitHitsTotal.WithLabelValues("ip"))
	csrfGuard := middleware.NewCSRFGuard(sessionStore, csrfPolicyOrNil(policy))
	csrfGuard.SetRejectionCounter(metrics.CSRFRejectionsTotal)

	server := api.NewServer(accessSvc, orgStore, sessionStore, rbacStore, keyStore,
		notifyStore, resolver, hasher, auditor, metrics, api.Config{
			SessionTTL:    cfg.Auth.SessionTTL,
			SecureCookies: cfg.Auth.SecureCookies,
		})
	server.SetDispatcher(dispatcher)

	checker := observability.NewHealthChecker(db, redisClient)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", checker.Readiness).Methods(http.MethodGet)
	server.RegisterRoutes(router,
		webhooks.NewHandlers(monitor).RegisterRoutes,
		audit.NewHandlers(auditStore).RegisterRoutes,
	)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger.Slog()),
		httputil.RecoveryMiddleware(logger.Slog()),
		observability.HTTPMetricsMiddleware(metrics),
		limiter.Handler,
		csrfGuard.Handler,
	)(router)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// health and metrics live on their own port, outside the middleware
	// chain, so probes are never rate limited
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, checker)
	observability.RegisterMetricsEndpoint(opsMux, registry)
	opsServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: opsMux,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	sweeper.Start(workerCtx)
	cronJobs.Start()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopWorkers()
		sweeper.Stop()
		cronJobs.Stop()
		runner.Stop()
		return opsServer.Shutdown(ctx)
	})

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("portal listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdown.Trigger()
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("ops endpoints listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdown.Trigger()
			return err
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("portal exited with error")
		os.Exit(1)
	}
	logger.Info("portal stopped")
}

// policyOrNil avoids handing the limiter a typed nil, which would not
// compare equal to nil behind the interface.
func policyOrNil(p *config.PolicyStore) middleware.RateLimitPolicy {
	if p == nil {
		return nil
	}
	return p
}

func csrfPolicyOrNil(p *config.PolicyStore) middleware.CSRFPolicy {
	if p == nil {
		return nil
	}
	return p
}
