package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mahaj/snappy-realtime/pkg/auth"
	"github.com/mahaj/snappy-realtime/pkg/config"
	"github.com/mahaj/snappy-realtime/pkg/logging"
	"github.com/mahaj/snappy-realtime/pkg/presence"
	"github.com/mahaj/snappy-realtime/pkg/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logFile, err := logging.Setup("gateway", cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := telemetry.Init(ctx, "gateway", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownOtel(context.Background())

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		logger.Error("Failed to create token issuer", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	hub := NewHub(NewAPIMembership(cfg.APIURL, issuer), logger)

	mirror := presence.NewRedisMirror(rdb)
	if err := mirror.Reset(ctx); err != nil {
		logger.Error("Failed to reset presence mirror", "error", err)
		os.Exit(1)
	}
	go hub.presence.RunMirror(ctx, mirror)

	go consume(ctx, NewEventReader(cfg.KafkaBrokers, cfg.KafkaTopic), hub, logger.With("component", "consumer"))

	server := &http.Server{
		Addr:    cfg.GatewayAddr,
		Handler: newRouter(ctx, hub, issuer),
	}

	// graceful shutdown
	go func() {
		<-ctx.Done()

		logger.Info("Shutting down gateway...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Gateway Service Starting", "addr", cfg.GatewayAddr, "topic", cfg.KafkaTopic)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Gateway stopped gracefully")
}

func newRouter(ctx context.Context, hub *Hub, issuer *auth.Issuer) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(ctx, hub, issuer, w, r)
	})
	return router
}
