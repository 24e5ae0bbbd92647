//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MessageRepository persists messages in BadgerDB.
// The key is formatted as "msg:{conversation_id}:{timestamp_padded}:{sequence}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Break same-nanosecond ties in insertion order with a monotonic
//     per-process sequence number.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
	seq *atomic.Uint64
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log, seq: new(atomic.Uint64)}
}

func (m MessageRepository) messageKey(msg domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%012d",
		msg.ConversationID,
		msg.CreatedAt.UnixNano(),
		m.seq.Add(1),
	))
}

func (m MessageRepository) Append(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(m.messageKey(msg), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
	}
	return nil
}

// Window returns the newest `limit` messages of a conversation, oldest-first
// within that window. The reverse prefix scan starts past the highest possible
// timestamp, collects up to the limit, then the slice is flipped back into
// ascending order. A conversation shorter than the limit is returned whole.
func (m MessageRepository) Window(conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	var rawMessages [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", conversationID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for this conversation
		seekKey := append([]byte(prefixStr), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(rawMessages) == limit {
				m.log.Debug(fmt.Sprintf("History window of %d messages reached", limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				rawMessages = append(rawMessages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}

	// The scan collected newest-first; flip to chronological order.
	lo.Reverse(rawMessages)

	messages := make([]domain.Message, 0, len(rawMessages))
	for _, raw := range rawMessages {
		var msg domain.Message
		if err = json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
