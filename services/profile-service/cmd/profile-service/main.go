package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskflow-io/deskflow/libs/config"
	"github.com/deskflow-io/deskflow/libs/consumer"
	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/httpx"
	"github.com/deskflow-io/deskflow/libs/inbox"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	otelx "github.com/deskflow-io/deskflow/libs/otel"
	"github.com/deskflow-io/deskflow/libs/runtime"
	"github.com/deskflow-io/deskflow/services/profile-service/internal/projection"
)

func main() {
	service := config.String("SERVICE_NAME", "profile-service")
	port, err := config.Port("PORT", "8082")
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
	groupID := config.String("KAFKA_GROUP_ID", "profile-service")
	ledger := inbox.NewLedger()

	profiles := projection.NewRepository(pool)
	projector := projection.NewProjector(profiles, logger)

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
	}, projector.OnUserDeleted)
	go deleted.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/profiles/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/profiles/")
		if id == "" || strings.Contains(id, "/") {
			http.Error(w, "profile id required", http.StatusBadRequest)
			return
		}
		p, err := profiles.GetByID(r.Context(), id)
		if err != nil {
			if db.IsNotFound(err) {
				http.Error(w, "profile not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load profile", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id":    p.UserID,
			"email":      p.Email,
			"first_name": p.FirstName,
			"last_name":  p.LastName,
			"role":       p.Role,
		})
	})

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "profile")
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
