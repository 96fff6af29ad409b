package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// ARRANGE
	t.Setenv("JWT_SECRET", "test-secret")

	// ACT
	cfg, err := LoadConfig()

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.GatewayAddr)
	assert.Equal(t, ":8081", cfg.APIAddr)
	assert.Equal(t, "http://localhost:8081", cfg.APIURL)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, "chat-events", cfg.KafkaTopic)
	assert.Equal(t, BackendScylla, cfg.StoreBackend)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 2*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 3, cfg.MarkReadRetries)
	assert.Equal(t, int64(1), cfg.NodeID)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("TYPING_TIMEOUT", "1500ms")
	t.Setenv("NODE_ID", "42")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingTimeout)
	assert.Equal(t, int64(42), cfg.NodeID)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing secret", env: map[string]string{}, want: "JWT_SECRET is required"},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": "x", "JWT_EXPIRY": "soon"}, want: "JWT_EXPIRY"},
		{name: "bad backend", env: map[string]string{"JWT_SECRET": "x", "STORE_BACKEND": "mongo"}, want: "STORE_BACKEND"},
		{name: "bad int", env: map[string]string{"JWT_SECRET": "x", "MARK_READ_RETRIES": "many"}, want: "MARK_READ_RETRIES"},
		{name: "negative retries", env: map[string]string{"JWT_SECRET": "x", "MARK_READ_RETRIES": "-1"}, want: "MARK_READ_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
