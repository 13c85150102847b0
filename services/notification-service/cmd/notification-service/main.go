package main

import (
	"context"
	"net/http"
	"time"

	"github.com/deskflow-io/deskflow/libs/config"
	"github.com/deskflow-io/deskflow/libs/consumer"
	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/inbox"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	otelx "github.com/deskflow-io/deskflow/libs/otel"
	"github.com/deskflow-io/deskflow/libs/runtime"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/dispatch"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/email"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/notify"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/projection"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8084")
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
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	ledger := inbox.NewLedger()

	recipients := projection.NewRecipientRepository(pool)
	notifications := storage.NewRepository(pool)
	projector := projection.NewProjector(recipients, notifications, logger)
	notifier := notify.NewNotifier(recipients, notifications, logger)

	topics := []struct {
		topic   string
		handler consumer.Handler
	}{
		{events.TopicUserRegistered, projector.OnUserRegistered},
		{events.TopicUserDeleted, projector.OnUserDeleted},
		{events.TopicTicketCreated, notifier.OnTicketCreated},
		{events.TopicTicketAssigned, notifier.OnTicketAssigned},
		{events.TopicTicketStatusChanged, notifier.OnTicketStatusChanged},
	}
	for _, t := range topics {
		c := consumer.New(logger, pool, ledger, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   t.topic,
		}, t.handler)
		go c.Run(ctx)
	}

	sender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", ""),
	)

	worker := dispatch.NewWorker(pool, notifications, sender, logger, dispatch.WorkerConfig{
		Interval:  config.Duration("DISPATCH_INTERVAL", 2*time.Second),
		BatchSize: config.Int("DISPATCH_BATCH_SIZE", 50),
		Backoff:   config.Duration("DISPATCH_RETRY_BACKOFF", time.Minute),
	})
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
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
