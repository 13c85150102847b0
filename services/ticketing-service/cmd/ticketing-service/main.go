package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskflow-io/deskflow/libs/config"
	"github.com/deskflow-io/deskflow/libs/consumer"
	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/httpx"
	"github.com/deskflow-io/deskflow/libs/inbox"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	otelx "github.com/deskflow-io/deskflow/libs/otel"
	"github.com/deskflow-io/deskflow/libs/outbox"
	"github.com/deskflow-io/deskflow/libs/runtime"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/cache"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/cascade"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/handlers"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/projection"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "ticketing-service")
	port, err := config.Port("PORT", "8083")
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

	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	ticketCache := cache.NewTicketCache(rdb, config.Duration("TICKET_CACHE_TTL", 5*time.Minute))

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

	tickets := storage.NewTicketRepository(pool)
	customers := projection.NewCustomerRepository(pool)
	projector := projection.NewProjector(customers, logger)
	deletionCascade := cascade.New(tickets, customers, ticketCache, logger)

	groupID := config.String("KAFKA_GROUP_ID", "ticketing-service")
	ledger := inbox.NewLedger()

	registered := consumer.New(logger, pool, ledger, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   events.TopicUserRegistered,
	}, projector.OnUserRegistered)
	go registered.Run(ctx)

	deleted := consumer.New(logger, pool, ledger, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   events.TopicUserDeleted,
	}, deletionCascade.OnUserDeleted)
	go deleted.Run(ctx)

	ticketHandler := handlers.NewTicketHandler(pool, tickets, customers, outboxRepo, ticketCache, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)},
	)
	mux.HandleFunc("/tickets", ticketHandler.Tickets)
	mux.HandleFunc("/tickets/", ticketHandler.Ticket)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "ticketing")
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
