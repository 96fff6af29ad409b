package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mahaj/snappy-realtime/pkg/auth"
	"github.com/mahaj/snappy-realtime/pkg/config"
	"github.com/mahaj/snappy-realtime/pkg/db"
	"github.com/mahaj/snappy-realtime/pkg/logging"
	"github.com/mahaj/snappy-realtime/pkg/presence"
	"github.com/mahaj/snappy-realtime/pkg/receipt"
	"github.com/mahaj/snappy-realtime/pkg/snowflake"
	"github.com/mahaj/snappy-realtime/pkg/store"
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

	logger, logFile, err := logging.Setup("api", cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := telemetry.Init(ctx, "api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownOtel(context.Background())

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		logger.Error("Failed to create token issuer", "error", err)
		os.Exit(1)
	}

	// In production, node ID should be unique per instance.
	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Error("Failed to initialize snowflake node", "node", cfg.NodeID, "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	events := NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer events.Close()

	srv := NewServer(st, events, presence.NewRedisMirror(rdb), issuer, ids,
		receipt.Config{Retries: cfg.MarkReadRetries}, logger)

	server := &http.Server{
		Addr:    cfg.APIAddr,
		Handler: srv.Routes(),
	}

	// graceful shutdown
	go func() {
		<-ctx.Done()

		logger.Info("Shutting down API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("API Service Starting", "addr", cfg.APIAddr, "store", cfg.StoreBackend)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("API stopped gracefully")
}

func openStore(cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	session, err := db.Open(db.Config{Hosts: cfg.ScyllaHosts, Keyspace: cfg.ScyllaKeyspace})
	if err != nil {
		return nil, nil, err
	}
	log.Info("Connected to ScyllaDB", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	return store.NewScylla(session), session.Close, nil
}
