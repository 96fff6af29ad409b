// Package tombstone is the device-local set of messages the user chose to
// hide. It never leaves the device and never affects server state.
package tombstone

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrEmptyID = errors.New("empty message id")

type hiddenMessage struct {
	UserID    string `gorm:"primaryKey"`
	MessageID string `gorm:"primaryKey"`
	HiddenAt  time.Time
}

func (hiddenMessage) TableName() string { return "hidden_messages" }

// Store keeps one user's hidden set in SQLite with an in-memory copy for
// lookups during rendering.
type Store struct {
	db   *gorm.DB
	user string

	mu  sync.RWMutex
	ids map[string]struct{}
}

func Open(path, user string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open tombstone db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&hiddenMessage{}); err != nil {
		return nil, fmt.Errorf("migrate tombstone db: %w", err)
	}

	var rows []hiddenMessage
	if err := db.Where("user_id = ?", user).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load hidden messages: %w", err)
	}
	s := &Store{db: db, user: user, ids: make(map[string]struct{}, len(rows))}
	for _, r := range rows {
		s.ids[r.MessageID] = struct{}{}
	}
	return s, nil
}

// Hide persists id before it shows up as hidden. Hiding twice is a no-op.
func (s *Store) Hide(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if s.IsHidden(id) {
		return nil
	}
	row := hiddenMessage{UserID: s.user, MessageID: id, HiddenAt: time.Now().UTC()}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("hide message %s: %w", id, err)
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) IsHidden(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Hidden returns the hidden ids, sorted.
func (s *Store) Hidden() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Clear unhides everything for this user.
func (s *Store) Clear() error {
	if err := s.db.Where("user_id = ?", s.user).Delete(&hiddenMessage{}).Error; err != nil {
		return fmt.Errorf("clear hidden messages: %w", err)
	}
	s.mu.Lock()
	clear(s.ids)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
