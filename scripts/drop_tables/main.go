package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mahaj/snappy-realtime/pkg/db"
)

func main() {
	godotenv.Load()

	hosts := flag.String("hosts", envOr("SCYLLA_HOSTS", "localhost:9042"), "comma separated ScyllaDB hosts")
	keyspace := flag.String("keyspace", envOr("SCYLLA_KEYSPACE", "chat"), "keyspace holding the tables")
	flag.Parse()

	session, err := db.NewSession(db.Config{Hosts: strings.Split(*hosts, ","), Keyspace: *keyspace})
	if err != nil {
		slog.Error("Failed to connect to ScyllaDB", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	slog.Info("Dropping tables...", "keyspace", *keyspace, "tables", db.Tables)
	if err := db.DropSchema(session); err != nil {
		slog.Error("Failed to drop tables", "error", err)
		os.Exit(1)
	}
	slog.Info("Tables dropped successfully.")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
