package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskflow-io/deskflow/libs/compensate"
	"github.com/deskflow-io/deskflow/libs/config"
	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/httpx"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	otelx "github.com/deskflow-io/deskflow/libs/otel"
	"github.com/deskflow-io/deskflow/libs/outbox"
	"github.com/deskflow-io/deskflow/libs/runtime"
	"github.com/deskflow-io/deskflow/services/identity-service/internal/handlers"
	"github.com/deskflow-io/deskflow/services/identity-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "identity-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	publisher, err := kafkax.NewPublisher(kafkax.SplitBrokers(brokers))
	if err != nil {
		logger.Error("kafka publisher setup failed", "err", err)
		panic(err)
	}
	defer publisher.Close()

	outboxRepo := outbox.NewRepository()
	relay := outbox.NewRelay(pool, outboxRepo, publisher, logger, outbox.RelayConfig{
		PollEvery:   config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize:   config.Int("OUTBOX_BATCH_SIZE", 50),
		RetryBudget: config.Duration("OUTBOX_RETRY_BUDGET", 10*time.Second),
	})
	go relay.Run(ctx)

	users := storage.NewUserRepository(pool)
	coordinator := compensate.NewCoordinator(logger)
	identity := handlers.NewIdentityHandler(pool, users, outboxRepo, publisher, coordinator)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	registerHandler := http.Handler(http.HandlerFunc(identity.Register))
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("REGISTER_RATE_LIMIT", 30),
			config.Duration("REGISTER_RATE_WINDOW", time.Minute),
			"identity:register",
		)
		registerHandler = limiter.Middleware(logger, true)(registerHandler)
	}
	mux.Handle("/register", registerHandler)
	mux.HandleFunc("/users/", identity.HandleUser)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "identity")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
