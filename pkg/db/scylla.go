package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

type Config struct {
	Hosts       []string
	Keyspace    string
	Consistency gocql.Consistency
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Consistency == 0 {
		c.Consistency = gocql.Quorum
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = cfg.Consistency
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla %v/%s: %w", cfg.Hosts, cfg.Keyspace, err)
	}

	slog.Info("connected to ScyllaDB", "hosts", cfg.Hosts, "keyspace", cfg.Keyspace)
	return &Session{Session: session}, nil
}

// Open creates the keyspace through the system keyspace if needed, then
// connects to it and ensures the tables exist.
func Open(cfg Config) (*Session, error) {
	sys := cfg
	sys.Keyspace = "system"
	sysSession, err := NewSession(sys)
	if err != nil {
		return nil, err
	}
	err = EnsureKeyspace(sysSession, cfg.Keyspace)
	sysSession.Close()
	if err != nil {
		return nil, err
	}

	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(session); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}
