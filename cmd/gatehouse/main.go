package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	proxyutil "net/http/httputil"
	"net/url"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/csp"
	"github.com/platinummonkey/gatehouse/pkg/gate"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/ops"
	"github.com/platinummonkey/gatehouse/pkg/portal"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/route"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

func main() {
	// Local overrides for development; absent in deployed environments
	_ = godotenv.Load(".env.local")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("Gatehouse exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := csp.CheckRandom(); err != nil {
		return err
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	db, err := storage.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}

	// Redis backs the rate limiter only
	var redisClient *redis.Client
	switch {
	case cfg.RateLimit.EffectiveBackend() == config.RateLimitRedis:
		redisClient, err = storage.NewRedisClient(ctx, cfg.RateLimit.RedisURL, logger)
		if err != nil {
			db.Close()
			return err
		}
	case cfg.RateLimit.Backend == config.RateLimitRedis:
		logger.Warn("Rate limiting disabled: no Redis URL configured")
	}

	limiter, resetters := buildLimiters(ctx, cfg.RateLimit, redisClient, logger, metrics)

	// Stores, cached when a TTL is configured
	roles := rbac.NewCachedStore(rbac.NewSQLStore(db, cfg.Database.QueryTimeout, metrics), cfg.Cache.Size, cfg.Cache.RoleTTL, metrics)
	grants := portal.NewCachedStore(portal.NewSQLStore(db, cfg.Database.QueryTimeout, metrics), cfg.Cache.Size, cfg.Cache.PortalTTL, metrics)

	allowlist := rbac.NewAllowlistStrategy(cfg.Admin.Allowlist, cfg.Admin.AllowlistSunset)
	resolver := rbac.NewResolver(metrics, rbac.DefaultStrategies(roles, allowlist)...)
	auditor := rbac.NewAllowlistAuditor(allowlist, cfg.Admin.AuditSchedule, logger)
	auditor.Report()
	if err := auditor.Start(); err != nil {
		return err
	}

	// Route table, hot-reloaded when it comes from a file
	classifier := route.NewClassifier(nil)
	var watcher *route.Watcher
	if cfg.Routes.File != "" {
		table, err := route.LoadTable(cfg.Routes.File)
		if err != nil {
			return err
		}
		classifier.Swap(table)

		watcher, err = route.NewWatcher(cfg.Routes.File, classifier, logger, metrics)
		if err != nil {
			return err
		}
		go func() {
			defer observability.RecoverPanic(logger, "route watcher")
			watcher.Run(ctx)
		}()
	}

	sessions, err := session.NewCookieAdapter(session.Options{
		Name:     cfg.Session.CookieName,
		HashKey:  cfg.Session.HashKey,
		BlockKey: cfg.Session.BlockKey,
		MaxAge:   cfg.Session.MaxAge,
		Secure:   cfg.Session.Secure,
		Domain:   cfg.Session.Domain,
	})
	if err != nil {
		return err
	}

	g, err := gate.New(gate.Deps{
		Classifier: classifier,
		Limiter:    limiter,
		Sessions:   sessions,
		Profiles:   roles,
		Admin:      resolver,
		Portals:    grants,
		CronSecret: cfg.Cron.Secret,
		Policy: csp.Policy{
			Development: cfg.CSP.Development,
			ReportOnly:  cfg.CSP.ReportOnly,
			ReportURI:   cfg.CSP.ReportURI,
			ConnectSrc:  cfg.CSP.ConnectSrc,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	upstream, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	proxy := proxyutil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		observability.FromContext(r.Context()).WithError(err).Error("Upstream request failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "upstream unavailable")
	}

	handler := httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
		g.Middleware,
	)(proxy)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "gatehouse"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Ops listener: health, metrics and operator endpoints, never gated
	opsRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(opsRouter, observability.NewHealthChecker(db, redisClient))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(opsRouter, registry)
	}
	opsHandlers := ops.NewHandlers(ops.Config{
		Classifier: classifier,
		Caches:     invalidators(roles, grants),
		Limiters:   resetters,
		Reloader:   reloaderOf(watcher),
		Logger:     logger,
	})
	opsHandlers.RegisterRoutes(opsRouter, cfg.Cron.Secret)

	opsServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.OpsPort),
		Handler:      httputil.Chain(httputil.RequestIDMiddleware(logger), httputil.RecoveryMiddleware)(opsRouter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(opsServer.Shutdown)
	shutdown.RegisterShutdownFunc(auditor.Stop)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	if watcher != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return watcher.Close() })
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, opsServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// A listener failing stops the process the same way a signal does
	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	failed := make(chan error, 1)
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("Server failed")
			failed <- err
			stopWaiting()
		case <-waitCtx.Done():
		}
	}()

	shutdownErr := shutdown.WaitForShutdown(waitCtx)
	select {
	case err := <-failed:
		return err
	default:
		return shutdownErr
	}
}

func buildLimiters(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (*middleware.ClassLimiter, map[string]ops.Resetter) {
	configs := map[string]middleware.RateLimitConfig{
		middleware.ClassWebhook:     {RequestsPerWindow: cfg.WebhookLimit, WindowDuration: cfg.Window},
		middleware.ClassUnsubscribe: {RequestsPerWindow: cfg.UnsubscribeLimit, WindowDuration: cfg.Window},
	}

	limiters := make(map[string]middleware.Limiter, len(configs))
	resetters := make(map[string]ops.Resetter, len(configs))

	switch cfg.EffectiveBackend() {
	case config.RateLimitRedis:
		for class, c := range configs {
			rl := middleware.NewRedisSlidingWindow(client, c, "ratelimit")
			limiters[class], resetters[class] = rl, rl
		}
	case config.RateLimitMemory:
		for class, c := range configs {
			rl := middleware.NewRateLimiter(c)
			rl.StartCleanup(ctx)
			limiters[class], resetters[class] = rl, rl
		}
	default:
		logger.Info("Rate limiting disabled")
	}

	return middleware.NewClassLimiter(limiters, logger, metrics), resetters
}

func invalidators(stores ...interface{}) []ops.Invalidator {
	var out []ops.Invalidator
	for _, s := range stores {
		if inv, ok := s.(ops.Invalidator); ok {
			out = append(out, inv)
		}
	}
	return out
}

// reloaderOf avoids handing ops a typed-nil watcher
func reloaderOf(w *route.Watcher) ops.Reloader {
	if w == nil {
		return nil
	}
	return w
}
