package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	cardsapi "classifieds/internal/cards/api"
	"classifieds/internal/cards/application"
	"classifieds/internal/cards/infrastructure/memory"
	"classifieds/internal/cards/infrastructure/postgres"
	"classifieds/internal/cards/infrastructure/rabbitmq"
	rediscache "classifieds/internal/cards/infrastructure/redis"
	"classifieds/internal/cards/infrastructure/remote"
	"classifieds/internal/common/config"
	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
	"classifieds/internal/common/saga"
	"classifieds/internal/common/tracing"
	"classifieds/internal/common/types"
)

// readinessCheck reports whether one dependency is reachable.
type readinessCheck func(ctx context.Context) error

// dataLayer is the storage chosen by configuration.
type dataLayer struct {
	store   application.DataStore
	sagaLog saga.IntentLog
	close   func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Generate correlation ID for startup
	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting classifieds card service",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"storage", cfg.Storage,
		"log_level", cfg.LogLevel,
	)

	shutdownTracing, err := tracing.Setup(startupCtx, tracing.Config{
		ServiceName:  "classifieds",
		Environment:  cfg.Environment,
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// Background workers stop when rootCtx is cancelled
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	checks := map[string]readinessCheck{}

	data, err := newDataLayer(startupCtx, cfg, checks)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer data.close()

	cache, closeCache, err := newCache(startupCtx, cfg, checks)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	index, closeIndex, err := newIndexPublisher(rootCtx, cfg, data.store)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to initialize search index sync", "error", err)
		os.Exit(1)
	}
	defer closeIndex()

	// Collaborating services
	images := remote.NewImageClient(remote.NewClient("image", cfg.ImageURL, cfg.ServiceAPIKey, cfg.RemoteTimeout))
	deps := application.Collaborators{
		Identity: remote.NewIdentityClient(remote.NewClient("identity", cfg.IdentityURL, cfg.ServiceAPIKey, cfg.RemoteTimeout)),
		Images:   images,
		Comments: remote.NewCommentClient(remote.NewClient("comment", cfg.CommentURL, cfg.ServiceAPIKey, cfg.RemoteTimeout)),
		Cache:    cache,
		Index:    index,
	}
	opts := application.Options{
		MaxImages:         cfg.CardMaxImages,
		CacheTTL:          cfg.CacheTTL,
		EnrichConcurrency: cfg.EnrichConcurrency,
		APIKey:            cfg.ServiceAPIKey,
	}

	// Saga runtime
	dispatcher := saga.NewDispatcher(cfg.CompensationTimeout)
	coordinator := saga.NewCoordinator(data.sagaLog, dispatcher)

	recoverer := saga.NewRecoverer(data.sagaLog, cfg.SagaStaleAfter)
	application.RegisterRecoveryHandlers(recoverer, data.store, images)
	go recoverer.Run(rootCtx, cfg.SagaSweepInterval)

	cardService := application.NewCardService(data.store, deps, coordinator, opts)
	complaintService := application.NewComplaintService(data.store, deps, opts)

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(cfg, checks))
	mux.Handle("GET /metrics", metrics.Handler())

	cardsapi.NewHandler(cardService, complaintService).RegisterRoutes(mux)

	logging.InfoContext(startupCtx, "Cards context initialized")

	// Middleware chain: tracing -> metrics -> correlation -> handler
	handler := otelhttp.NewHandler(
		metrics.Middleware(correlationMiddleware(cfg.RequestTimeout, mux)),
		"classifieds",
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	// Compensations already dispatched are allowed to finish
	if err := dispatcher.Shutdown(ctx); err != nil {
		logging.Warn("Compensations still running at shutdown", "error", err)
	}
	stop()

	if err := shutdownTracing(ctx); err != nil {
		logging.Warn("Failed to flush traces", "error", err)
	}

	logging.Info("Server stopped")
}

// newDataLayer opens the configured datastore and the saga intent log kept
// beside it.
func newDataLayer(ctx context.Context, cfg *config.Config, checks map[string]readinessCheck) (dataLayer, error) {
	if cfg.UsesMemoryStorage() {
		logging.WarnContext(ctx, "Using in-memory storage; data is lost on restart")
		return dataLayer{
			store:   memory.NewDataStore(),
			sagaLog: saga.NewMemoryLog(nil),
			close:   func() {},
		}, nil
	}

	pool, err := cfg.NewPostgresPool(ctx)
	if err != nil {
		return dataLayer{}, err
	}
	checks["postgres"] = pool.Ping

	return dataLayer{
		store:   postgres.NewDataStore(pool),
		sagaLog: postgres.NewSagaLog(pool),
		close:   pool.Close,
	}, nil
}

// newCache connects to Redis, or falls back to a process-local cache when no
// address is configured.
func newCache(ctx context.Context, cfg *config.Config, checks map[string]readinessCheck) (application.Cache, func(), error) {
	if cfg.RedisAddr == "" {
		logging.WarnContext(ctx, "REDIS_ADDR not set; using in-process cache")
		return memory.NewCache(nil), func() {}, nil
	}

	client, err := cfg.NewRedisClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	return rediscache.NewCache(client), func() { _ = client.Close() }, nil
}

// newIndexPublisher wires search index updates through RabbitMQ, consuming
// them back into the store's index. Without a broker the index is written
// directly.
func newIndexPublisher(ctx context.Context, cfg *config.Config, store application.DataStore) (application.IndexPublisher, func(), error) {
	if cfg.AMQPURL == "" {
		logging.WarnContext(ctx, "AMQP_URL not set; search index is updated in-process")
		return memory.NewIndexPublisher(store.SearchIndex()), func() {}, nil
	}

	session, err := rabbitmq.Dial(ctx, cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}

	consumer := rabbitmq.NewConsumer(session.Consume, cfg.AMQPExchange, cfg.AMQPQueue, store.SearchIndex()).
		WithRetryDelay(cfg.AMQPRetryDelay)
	if err := consumer.Start(ctx); err != nil {
		_ = session.Close()
		return nil, nil, err
	}

	return rabbitmq.NewPublisher(session.Publish, cfg.AMQPExchange), func() { _ = session.Close() }, nil
}

// correlationMiddleware adds correlation ID and request timeout to each request.
func correlationMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for existing correlation ID in header
		corrID := types.CorrelationID(r.Header.Get("X-Correlation-ID"))
		if corrID.IsEmpty() {
			corrID = types.NewCorrelationID()
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		ctx = logging.WithCorrelationID(ctx, corrID)

		w.Header().Set("X-Correlation-ID", corrID.String())

		logging.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler checks if all dependencies are available.
func readyHandler(cfg *config.Config, checks map[string]readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logging.WarnContext(ctx, "Readiness check failed", "dependency", name, "error", err)
				deps[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       state,
			"environment":  cfg.Environment,
			"dependencies": deps,
		})
	}
}
