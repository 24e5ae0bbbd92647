//go:generate go run go.uber.org/mock/mockgen -source=profile.go -destination=../mocks/mock_profile_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
)

// ProfileRepository stores the display attributes attached to an identity.
// Records are refreshed from the verified token at every connect and read
// back when conversation lists are expanded for delivery.
type ProfileRepository struct {
	db *badger.DB
}

func NewProfileRepository(db *badger.DB) ProfileRepository {
	return ProfileRepository{db: db}
}

func profileKey(id domain.Identity) []byte {
	return []byte("profile:" + id)
}

func (p ProfileRepository) Upsert(profile domain.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(profile.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
	}
	return nil
}

func (p ProfileRepository) Get(id domain.Identity) (domain.Profile, bool, error) {
	var profile domain.Profile
	found := false
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(id))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &profile)
		})
	})
	if err != nil {
		return domain.Profile{}, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}
	return profile, found, nil
}
