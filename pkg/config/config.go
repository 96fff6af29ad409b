package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GatewayAddr string
	APIAddr     string
	// APIURL is where the gateway checks chat membership.
	APIURL string

	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string

	ScyllaHosts    []string
	ScyllaKeyspace string
	StoreBackend   string

	JWTSecret string
	JWTExpiry time.Duration
	NodeID    int64

	LogLevel  string
	LogFormat string
	LogFile   string

	TypingTimeout   time.Duration
	MarkReadRetries int

	OTLPEndpoint string
}

const (
	BackendMemory = "memory"
	BackendScylla = "scylla"
)

func LoadConfig() (*Config, error) {
	var errs []error

	cfg := &Config{
		GatewayAddr:     getEnv("GATEWAY_ADDR", ":8080"),
		APIAddr:         getEnv("API_ADDR", ":8081"),
		APIURL:          getEnv("API_URL", "http://localhost:8081"),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "chat-events"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:     splitList(getEnv("SCYLLA_HOSTS", "localhost:9042")),
		ScyllaKeyspace:  getEnv("SCYLLA_KEYSPACE", "chat"),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendScylla)),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTExpiry:       getDuration("JWT_EXPIRY", 24*time.Hour, &errs),
		NodeID:          int64(getInt("NODE_ID", 1, &errs)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		LogFile:         os.Getenv("LOG_FILE"),
		TypingTimeout:   getDuration("TYPING_TIMEOUT", 2*time.Second, &errs),
		MarkReadRetries: getInt("MARK_READ_RETRIES", 3, &errs),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.StoreBackend != BackendMemory && cfg.StoreBackend != BackendScylla {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendScylla, cfg.StoreBackend))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if cfg.MarkReadRetries < 0 {
		errs = append(errs, errors.New("MARK_READ_RETRIES must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s format: %q", key, raw))
		return def
	}
	return d
}

func getInt(key string, def int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, raw))
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
