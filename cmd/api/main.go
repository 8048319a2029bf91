package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/berasid/backend-beras/internal/agent"
	"github.com/berasid/backend-beras/internal/analytics"
	"github.com/berasid/backend-beras/internal/app"
	"github.com/berasid/backend-beras/internal/auth"
	"github.com/berasid/backend-beras/internal/cart"
	"github.com/berasid/backend-beras/internal/catalog"
	"github.com/berasid/backend-beras/internal/checkout"
	"github.com/berasid/backend-beras/internal/common"
	"github.com/berasid/backend-beras/internal/config"
	"github.com/berasid/backend-beras/internal/events"
	"github.com/berasid/backend-beras/internal/health"
	"github.com/berasid/backend-beras/internal/loyalty"
	"github.com/berasid/backend-beras/internal/notify"
	"github.com/berasid/backend-beras/internal/obs"
	"github.com/berasid/backend-beras/internal/order"
	"github.com/berasid/backend-beras/internal/queue"
	"github.com/berasid/backend-beras/internal/ratelimit"
	"github.com/berasid/backend-beras/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "beras")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "beras-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if envBool("DB_AUTO_MIGRATE", false) {
		source := envOrDefault("DB_MIGRATIONS_SOURCE", "file://migrations")
		if err := app.MigrateUp(source, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "beras-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	rateLimit, err := app.NewRateLimiter(redisClient, limiter.Rate{
		Period: time.Minute,
		Limit:  int64(envInt("RATE_LIMIT_PER_MINUTE", 300)),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	catalogStore := catalog.NewStore(pool)
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store: catalogStore,
		Cache: catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	verifier := auth.Verifier{Secret: []byte(cfg.JWTSecret), Validator: auth.TokenValidator{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}}
	authMiddleware := auth.Middleware{Verifier: verifier}

	loyaltyStore := loyalty.NewStore(pool)
	loyaltySvc := &loyalty.Service{Store: loyaltyStore, DefaultPerUserLimit: cfg.LoyaltyPerUserUses}
	loyaltyHandler := &loyalty.Handler{Store: loyaltyStore}

	orderStore := order.NewStore(pool)
	orderHandler := &order.Handler{Store: orderStore, Logger: logger}
	orderAdmin := &order.AdminHandler{Store: orderStore, Logger: logger}

	notifyStore := notify.NewStore(pool)
	taskQueue := queue.Enqueuer{R: redisClient, Prefix: "beras", DedupTTL: 24 * time.Hour}
	dispatcher := &notify.Dispatcher{
		Store:              notifyStore,
		HTTP:               notify.DefaultHTTPClient(cfg.WebhookTimeout),
		Queue:              taskQueue,
		BackoffBaseSec:     envInt("WEBHOOK_BACKOFF_BASE_SEC", 5),
		DefaultMaxAttempts: envInt("WEBHOOK_MAX_ATTEMPTS", 6),
		Enabled:            envBool("WEBHOOK_DELIVERY_ENABLED", true),
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          envDurationMillis("WEBHOOK_REPLAY_TTL_MS", 60000),
	}
	var mailSender common.EmailSender = common.NopEmailSender{}
	if smtpAddr := os.Getenv("SMTP_ADDR"); smtpAddr != "" {
		mailSender = common.SMTPSender{
			Addr: smtpAddr,
			From: envOrDefault("NOTIFY_EMAIL_FROM", "no-reply@berasid.example"),
		}
	}
	emailNotifier := notify.EmailNotifier{
		Mail:    mailSender,
		Enabled: envBool("NOTIFY_EMAIL_ENABLED", false),
		From:    envOrDefault("NOTIFY_EMAIL_FROM", ""),
	}
	bus := &events.Bus{
		Store:     events.NewStore(pool),
		Notifiers: []events.Notifier{emailNotifier, dispatcher},
	}

	checkoutSvc := &checkout.Service{
		Catalog:        catalogStore,
		Orders:         orderStore,
		Loyalty:        loyaltySvc,
		Events:         bus,
		Logger:         logger,
		Currency:       cfg.Currency,
		MaxLineKg:      cfg.MaxOrderKg,
		DefaultChannel: cfg.DefaultChannel,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Validate: validate}

	cartSvc := &cart.Service{
		Store:     cart.NewStore(pool),
		Catalog:   catalogStore,
		Loyalty:   loyaltySvc,
		TTL:       cfg.CartTTL,
		MaxLineKg: cfg.MaxOrderKg,
	}
	cartHandler := &cart.Handler{Svc: cartSvc}

	analyticsSvc := &analytics.Service{
		Store:        analytics.NewStore(pool),
		R:            redisClient,
		TTL:          cfg.AnalyticsCacheTTL,
		DefaultRange: envInt("ANALYTICS_DEFAULT_RANGE_DAYS", 30),
	}
	analyticsHandler := &analytics.Handler{Svc: analyticsSvc}

	agentHandler := &agent.Handler{
		Tools:        &agent.Tools{Catalog: catalogStore, Checkout: checkoutSvc},
		ServiceToken: cfg.AgentServiceToken,
		Logger:       logger,
	}
	agentLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:agent:"},
		Config: ratelimit.Config{
			Key:    common.ClientIP,
			Window: time.Minute,
			Max:    envInt("AGENT_RATE_LIMIT_PER_MINUTE", 60),
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("agent rate limit") },
	}

	notifyAdmin := &notify.AdminHandler{Store: notifyStore, Disp: dispatcher}
	queueAdmin := &queue.AdminHandler{
		Store:  queue.NewStore(pool),
		Queue:  taskQueue,
		Logger: logger,
	}

	idem := common.Idem{R: redisClient, TTL: 24 * time.Hour}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Service: "beras-api"}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)
	r.Use(rateLimitMiddleware(rateLimit))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Anon-Id", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{slug}", catalogHandler.ProductDetail)

		v.Route("/cart", func(c chi.Router) {
			c.Use(authMiddleware.Authenticate)
			c.Get("/", cartHandler.Get)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/items", cartHandler.AddItem)
				g.Patch("/items/{productID}", cartHandler.UpdateItem)
				g.Delete("/items/{productID}", cartHandler.RemoveItem)
			})
		})

		v.With(authMiddleware.RequireAuth, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)
			authR.Get("/orders", orderHandler.List)
			authR.Get("/orders/{orderID}", orderHandler.Detail)
			authR.Post("/orders/{orderID}/cancel", orderHandler.Cancel)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(security.CSRF{}.Middleware)
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(authMiddleware.RequireRole("admin"))
			admin.Get("/orders", orderAdmin.List)
			admin.Patch("/orders/{orderID}/status", orderAdmin.PatchStatus)
			admin.Post("/loyalty-codes", loyaltyHandler.Create)
			admin.Put("/loyalty-codes/{code}", loyaltyHandler.Update)
			admin.Get("/loyalty-codes", loyaltyHandler.List)
			admin.Post("/webhooks", notifyAdmin.CreateEndpoint)
			admin.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
			admin.Get("/webhooks", notifyAdmin.ListEndpoints)
			admin.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
			admin.Get("/webhook-deliveries", notifyAdmin.ListDeliveries)
			admin.Post("/webhook-deliveries/{id}/replay", notifyAdmin.ReplayDelivery)
			admin.Get("/queue/dlq", queueAdmin.ListDLQ)
			admin.Post("/queue/dlq/{id}/replay", queueAdmin.ReplayDLQ)
			admin.Get("/queue/stats", queueAdmin.Stats)
		})

		v.Route("/analytics", func(an chi.Router) {
			an.Use(authMiddleware.RequireAuth)
			an.Use(authMiddleware.RequireRole("admin"))
			an.Get("/overview", analyticsHandler.Overview)
			an.Get("/sales", analyticsHandler.Sales)
			an.Get("/top-products", analyticsHandler.TopProducts)
			an.Get("/channels", analyticsHandler.Channels)
			an.Get("/top-customers", analyticsHandler.TopCustomers)
			an.Get("/export.csv", analyticsHandler.ExportCSV)
		})

		v.Route("/agent", func(a chi.Router) {
			a.Use(agentLimiter.Middleware)
			a.Use(agentHandler.RequireServiceToken)
			a.Post("/tools", agentHandler.Invoke)
		})
	})

	if dispatcher.Enabled {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				if err := dispatcher.WorkOnce(context.Background(), 50); err != nil {
					logger.Error().Err(err).Msg("dispatch webhook")
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		// fail readiness first so load balancers drain before connections close
		health.SetReady(false)
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func rateLimitMiddleware(l *limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			lctx, err := l.Get(r.Context(), l.GetIPKey(r))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			if lctx.Reached {
				common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
