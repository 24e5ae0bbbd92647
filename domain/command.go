package domain

import "github.com/google/uuid"

// Inbound commands, one per relay operation. JSON tags mirror the wire
// payloads; validate tags gate the required fields before any store write.

type SendMessageCommand struct {
	Sender    Identity `json:"-" validate:"required"`
	Recipient Identity `json:"to" validate:"required,nefield=Sender"`
	Text      string   `json:"message" validate:"required"`
}

type LoadMessagesCommand struct {
	Requester      Identity   `json:"-"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Recipient      *Identity  `json:"recipientId,omitempty"`
}

type TypingCommand struct {
	Sender    Identity `json:"-"`
	Recipient Identity `json:"recipientId" validate:"required"`
}

type CheckOnlineStatusCommand struct {
	Identities []Identity `json:"userIds"`
}
