package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups all messages between exactly two participants.
// Participants are stored in canonical (lexicographic) order so that the
// unordered pair {A,B} always resolves to the same record.
type Conversation struct {
	ID           uuid.UUID   `json:"id"`
	Participants [2]Identity `json:"participants"`
	LastMessage  *Message    `json:"lastMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// CanonicalPair orders two identities lexicographically.
// Every lookup and key built from a participant pair goes through here.
func CanonicalPair(a, b Identity) (Identity, Identity) {
	if b < a {
		return b, a
	}
	return a, b
}

func NewConversation(a, b Identity, at time.Time) Conversation {
	first, second := CanonicalPair(a, b)
	return Conversation{
		ID:           uuid.New(),
		Participants: [2]Identity{first, second},
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

// Involves reports whether the identity is one of the two participants.
func (c Conversation) Involves(id Identity) bool {
	return c.Participants[0] == id || c.Participants[1] == id
}

// Other returns the participant facing the given identity.
func (c Conversation) Other(id Identity) Identity {
	if c.Participants[0] == id {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Profile carries the display attributes attached to an identity,
// refreshed from the verified token at every connect.
type Profile struct {
	ID          Identity  `json:"id"`
	DisplayName string    `json:"displayName"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
