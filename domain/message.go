package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable chat event belonging to exactly one conversation.
// Only the Seen flag may change after creation (read-receipt extension).
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Sender         Identity  `json:"sender"`
	Text           string    `json:"text"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func NewMessage(conversationID uuid.UUID, sender Identity, text string, at time.Time) Message {
	return Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}
