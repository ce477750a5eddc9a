//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"konnekt-chat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// DefaultHistoryLimit caps a history read when no limit is configured.
const DefaultHistoryLimit = 100

type IMessageRepository interface {
	StoreMessage(message domain.Message, at time.Time) error
	GetMessages(chatID string) ([]domain.Message, error)
}

// MessageRepository is the server side message store, one BadgerDB key per
// message.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	limit := DefaultHistoryLimit
	if limitMessages != nil && *limitMessages > 0 {
		limit = *limitMessages
	}
	return MessageRepository{db: db, log: log, limitMessages: limit}
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{chat_id}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Keep two messages stamped in the same nanosecond apart through their id.
func (m MessageRepository) StoreMessage(message domain.Message, at time.Time) error {
	key := messageKey(message.ChatID, at, message.ID)
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, bytes)
	})
}

// GetMessages returns the latest messages of a conversation, oldest first.
// It scans backwards from the newest key and stops at the configured limit,
// so a long history only costs the last page.
func (m MessageRepository) GetMessages(chatID string) ([]domain.Message, error) {
	var byteMessages [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := chatPrefix(chatID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Highest possible key for the chat, then walk back in time
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(byteMessages) == m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", m.limitMessages))
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			byteMessages = append(byteMessages, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(byteMessages))
	for _, b := range byteMessages {
		var message domain.Message
		if err := json.Unmarshal(b, &message); err != nil {
			return nil, fmt.Errorf("corrupted message in chat %s: %w", chatID, err)
		}
		messages = append(messages, message)
	}
	return lo.Reverse(messages), nil
}

func chatPrefix(chatID string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", chatID))
}

func messageKey(chatID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", chatID, at.UnixNano(), id))
}
