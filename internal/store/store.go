package store

import (
	"errors"
	"fmt"
	"strconv"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

// Fixed namespaced keys for the app_state table.
const (
	KeyCredits = "nara:credits"
)

// MessageRow mirrors one history message on disk.
type MessageRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text"`
	Timestamp int64  `gorm:"not null;index"`
	AudioURL  string `gorm:"size:512"`
	Disposed  bool   `gorm:"default:false;index"`
}

// AppState is a namespaced key/value row for small persisted singletons.
type AppState struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:256"`
}

// Store persists session state in a local sqlite file. With an empty path it
// opens an in-memory database, which is what the tests use.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := db.AutoMigrate(&MessageRow{}, &AppState{}); err != nil {
		return nil, fmt.Errorf("store: auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveMessage upserts a message row.
func (s *Store) SaveMessage(m chat.Message) error {
	row := MessageRow{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		AudioURL:  m.AudioURL,
		Disposed:  m.Disposed,
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "audio_url", "disposed"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save message %s: %w", m.ID, err)
	}
	return nil
}

// LoadMessages returns every persisted message in timestamp order.
func (s *Store) LoadMessages() ([]chat.Message, error) {
	var rows []MessageRow
	if err := s.db.Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, chat.Message{
			ID:        row.ID,
			Role:      row.Role,
			Content:   row.Content,
			Timestamp: row.Timestamp,
			AudioURL:  row.AudioURL,
			Disposed:  row.Disposed,
		})
	}
	return messages, nil
}

// DeleteAllMessages wipes the messages table. Used by clearHistory.
func (s *Store) DeleteAllMessages() error {
	if err := s.db.Where("1 = 1").Delete(&MessageRow{}).Error; err != nil {
		return fmt.Errorf("store: delete messages: %w", err)
	}
	return nil
}

// SaveCredits writes the balance under its namespaced key.
func (s *Store) SaveCredits(balance int) error {
	row := AppState{Key: KeyCredits, Value: strconv.Itoa(balance)}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save credits: %w", err)
	}
	return nil
}

// LoadCredits returns the persisted balance, or found=false when none exists.
func (s *Store) LoadCredits() (balance int, found bool, err error) {
	var row AppState
	err = s.db.First(&row, "key = ?", KeyCredits).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: load credits: %w", err)
	}

	balance, convErr := strconv.Atoi(row.Value)
	if convErr != nil {
		return 0, false, fmt.Errorf("store: corrupt credits value %q: %w", row.Value, convErr)
	}
	return balance, true, nil
}
