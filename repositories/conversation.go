//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// creationRetries bounds the ErrConflict retry loop of GetOrCreate.
const creationRetries = 5

// ConversationRepository persists conversation records in BadgerDB.
// Three key families are maintained per conversation:
//   - "conv:id:{uuid}"            -> JSON record (primary copy)
//   - "conv:pair:{a}|{b}"         -> conversation uuid (unique pair index)
//   - "conv:user:{identity}:{uuid}" -> empty (per-participant index)
//
// The pair key uses canonical participant order, so the unordered pair {A,B}
// maps to exactly one key and the store-level uniqueness the relay relies on.
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

func idKey(id uuid.UUID) []byte {
	return []byte("conv:id:" + id.String())
}

func pairKey(a, b domain.Identity) []byte {
	first, second := domain.CanonicalPair(a, b)
	return []byte(fmt.Sprintf("conv:pair:%s|%s", first, second))
}

func userKey(id domain.Identity, conversationID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("conv:user:%s:%s", id, conversationID))
}

// GetOrCreate resolves the conversation for an unordered participant pair,
// creating it when absent. Creation runs in a single serializable transaction
// keyed by the pair index: two racing creators cannot both commit, the loser
// hits badger.ErrConflict, retries and finds the winner's record.
// The bool result reports whether a new conversation was created.
func (r ConversationRepository) GetOrCreate(a, b domain.Identity) (domain.Conversation, bool, error) {
	var conv domain.Conversation
	var created bool

	for attempt := 0; attempt < creationRetries; attempt++ {
		err := r.db.Update(func(txn *badger.Txn) error {
			existing, err := lookupByPair(txn, a, b)
			if err == nil {
				conv, created = existing, false
				return nil
			}
			if !stderrors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			conv = domain.NewConversation(a, b, time.Now().UTC())
			created = true

			data, err := json.Marshal(conv)
			if err != nil {
				return err
			}
			if err = txn.Set(idKey(conv.ID), data); err != nil {
				return err
			}
			if err = txn.Set(pairKey(a, b), []byte(conv.ID.String())); err != nil {
				return err
			}
			if err = txn.Set(userKey(conv.Participants[0], conv.ID), nil); err != nil {
				return err
			}
			return txn.Set(userKey(conv.Participants[1], conv.ID), nil)
		})
		if stderrors.Is(err, badger.ErrConflict) {
			r.log.Debug("Conversation creation conflict, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return domain.Conversation{}, false, fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
		}
		return conv, created, nil
	}
	return domain.Conversation{}, false, errors.ErrConversationConflict
}

// GetByPair is a read-only pair lookup. Absence is not an error.
func (r ConversationRepository) GetByPair(a, b domain.Identity) (domain.Conversation, bool, error) {
	var conv domain.Conversation
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		existing, err := lookupByPair(txn, a, b)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		conv, found = existing, true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}
	return conv, found, nil
}

func (r ConversationRepository) GetByID(id uuid.UUID) (domain.Conversation, bool, error) {
	var conv domain.Conversation
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		loaded, err := loadConversation(txn, id)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		conv, found = loaded, true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}
	return conv, found, nil
}

// SetLastMessage points the conversation to its most recent message and
// bumps UpdatedAt. Runs under the same conflict/retry discipline as creation
// because concurrent senders race on the same record.
func (r ConversationRepository) SetLastMessage(id uuid.UUID, msg domain.Message) error {
	for attempt := 0; attempt < creationRetries; attempt++ {
		err := r.db.Update(func(txn *badger.Txn) error {
			conv, err := loadConversation(txn, id)
			if err != nil {
				return err
			}
			conv.LastMessage = &msg
			conv.UpdatedAt = msg.CreatedAt
			data, err := json.Marshal(conv)
			if err != nil {
				return err
			}
			return txn.Set(idKey(id), data)
		})
		if stderrors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
		}
		return nil
	}
	return errors.ErrConversationConflict
}

// ListByParticipant walks the per-user index and loads every conversation the
// identity takes part in, most-recently-updated first. Unbounded: acceptable
// for a per-user conversation list, unlike the message history.
func (r ConversationRepository) ListByParticipant(id domain.Identity) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("conv:user:%s:", id)
		prefix := []byte(prefixStr)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rawID := string(it.Item().Key()[len(prefixStr):])
			conversationID, err := uuid.Parse(rawID)
			if err != nil {
				return err
			}
			conv, err := loadConversation(txn, conversationID)
			if err != nil {
				return err
			}
			conversations = append(conversations, conv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

func lookupByPair(txn *badger.Txn, a, b domain.Identity) (domain.Conversation, error) {
	item, err := txn.Get(pairKey(a, b))
	if err != nil {
		return domain.Conversation{}, err
	}
	var conversationID uuid.UUID
	err = item.Value(func(val []byte) error {
		parsed, err := uuid.Parse(string(val))
		conversationID = parsed
		return err
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return loadConversation(txn, conversationID)
}

func loadConversation(txn *badger.Txn, id uuid.UUID) (domain.Conversation, error) {
	item, err := txn.Get(idKey(id))
	if err != nil {
		return domain.Conversation{}, err
	}
	var conv domain.Conversation
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &conv)
	})
	return conv, err
}
