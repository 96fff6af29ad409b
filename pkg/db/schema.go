package db

import (
	"fmt"
	"regexp"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Tables lists the tables EnsureSchema creates, in creation order.
var Tables = []string{"chats", "user_chats", "messages", "chat_unread"}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id text PRIMARY KEY,
		name text,
		is_group boolean,
		members set<text>,
		admin_id text,
		latest_message_id text,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS user_chats (
		user_id text,
		chat_id text,
		PRIMARY KEY (user_id, chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		chat_id text,
		id bigint,
		sender_id text,
		text text,
		media_url text,
		created_at timestamp,
		read_by set<text>,
		PRIMARY KEY (chat_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	// Unread counts live in their own table because counter columns cannot
	// share a table with regular ones.
	`CREATE TABLE IF NOT EXISTS chat_unread (
		chat_id text,
		user_id text,
		unread_count counter,
		PRIMARY KEY (chat_id, user_id)
	)`,
}

func EnsureKeyspace(s *Session, keyspace string) error {
	if !keyspaceName.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace name %q", keyspace)
	}
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := s.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

func EnsureSchema(s *Session) error {
	for i, stmt := range schema {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	return nil
}

// DropSchema drops every table EnsureSchema creates.
func DropSchema(s *Session) error {
	for _, t := range Tables {
		if err := s.Query("DROP TABLE IF EXISTS " + t).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return nil
}
