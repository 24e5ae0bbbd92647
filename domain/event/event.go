// Package event defines the outbound events the relay emits to connected
// sessions. Each event knows its wire name; payload shapes follow the
// external event protocol.
package event

import (
	"encoding/json"
	"time"

	"chat-relay/domain"

	"github.com/google/uuid"
)

type DomainEvent interface {
	EventName() string
}

type UserOnline struct {
	UserID domain.Identity `json:"userId"`
}

func (UserOnline) EventName() string { return "user-online" }

type UserOffline struct {
	UserID domain.Identity `json:"userId"`
}

func (UserOffline) EventName() string { return "user-offline" }

// MessageSent confirms a durable write to the sender,
// independent of recipient reachability.
type MessageSent struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

func (MessageSent) EventName() string { return "message-sent" }

type ReceiveMessage struct {
	From           domain.Identity `json:"from"`
	Message        string          `json:"message"`
	MessageID      uuid.UUID       `json:"messageId"`
	ConversationID uuid.UUID       `json:"conversationId"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (ReceiveMessage) EventName() string { return "receive-message" }

type MessageError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (MessageError) EventName() string { return "message-error" }

type MessagePayload struct {
	ID        uuid.UUID       `json:"messageId"`
	Sender    domain.Identity `json:"sender"`
	Text      string          `json:"message"`
	Seen      bool            `json:"seen"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MessagesLoaded omits conversationId when no conversation resolved,
// rather than carrying the zero UUID on the wire.
type MessagesLoaded struct {
	Messages       []MessagePayload `json:"messages"`
	ConversationID *uuid.UUID       `json:"conversationId,omitempty"`
}

func (MessagesLoaded) EventName() string { return "messages-loaded" }

type MessagesError struct {
	Error string `json:"error"`
}

func (MessagesError) EventName() string { return "messages-error" }

type ParticipantPayload struct {
	ID          domain.Identity `json:"id"`
	DisplayName string          `json:"displayName"`
}

type ConversationPayload struct {
	ID           uuid.UUID            `json:"conversationId"`
	Participants []ParticipantPayload `json:"participants"`
	LastMessage  *MessagePayload      `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type ConversationsLoaded struct {
	Conversations []ConversationPayload `json:"conversations"`
}

func (ConversationsLoaded) EventName() string { return "conversations-loaded" }

type UserTyping struct {
	UserID domain.Identity `json:"userId"`
}

func (UserTyping) EventName() string { return "user-typing" }

type UserStopTyping struct {
	UserID domain.Identity `json:"userId"`
}

func (UserStopTyping) EventName() string { return "user-stop-typing" }

// OnlineStatuses marshals as a bare userId->bool object on the wire.
type OnlineStatuses struct {
	Statuses map[domain.Identity]bool
}

func (OnlineStatuses) EventName() string { return "online-statuses" }

func (o OnlineStatuses) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Statuses)
}
