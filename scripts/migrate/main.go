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
	keyspace := flag.String("keyspace", envOr("SCYLLA_KEYSPACE", "chat"), "keyspace to create")
	flag.Parse()

	session, err := db.Open(db.Config{Hosts: strings.Split(*hosts, ","), Keyspace: *keyspace})
	if err != nil {
		slog.Error("Failed to migrate ScyllaDB", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	slog.Info("Schema ready", "keyspace", *keyspace, "tables", db.Tables)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
