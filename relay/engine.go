// Package relay translates inbound events into store writes and outbound
// deliveries. The engine keeps no cross-event state of its own: everything
// it knows lives in the presence registry and the durable store.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

type Engine struct {
	log           *slog.Logger
	registry      contract.IRegistry
	conversations contract.IConversationRepository
	messages      contract.IMessageRepository
	profiles      contract.IProfileRepository
	validate      *validator.Validate
	historyLimit  int
	sinkTimeout   time.Duration
}

func NewEngine(log *slog.Logger, registry contract.IRegistry,
	conversations contract.IConversationRepository,
	messages contract.IMessageRepository,
	profiles contract.IProfileRepository,
	historyLimit int, sinkTimeout time.Duration) *Engine {
	return &Engine{
		log:           log,
		registry:      registry,
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		validate:      validator.New(),
		historyLimit:  historyLimit,
		sinkTimeout:   sinkTimeout,
	}
}

// Connect registers the new connection as the identity's current one and
// announces the presence change to every live connection. There is no
// failure path here: the identity was already verified by the session.
func (e *Engine) Connect(ctx context.Context, identity domain.Identity, displayName string,
	handle domain.ConnectionHandle, sink contract.EventSink) {
	e.registry.Register(identity, contract.Entry{Handle: handle, Sink: sink})

	if displayName != "" {
		profile := domain.Profile{ID: identity, DisplayName: displayName, UpdatedAt: time.Now().UTC()}
		if err := e.profiles.Upsert(profile); err != nil {
			e.log.Warn("Profile refresh failed", "user_id", identity, "error", err)
		}
	}

	e.log.Info("User connected", "user_id", identity, "handle", handle)
	e.broadcast(ctx, event.UserOnline{UserID: identity})
}

// Disconnect removes the presence entry with compare-and-delete semantics
// and broadcasts user-offline only when this connection was still the
// current holder. A stale disconnect from a superseded connection changes
// nothing and announces nothing.
func (e *Engine) Disconnect(ctx context.Context, identity domain.Identity,
	handle domain.ConnectionHandle) bool {
	removed := e.registry.Unregister(identity, handle)
	if !removed {
		e.log.Debug("Stale disconnect ignored", "user_id", identity, "handle", handle)
		return false
	}
	e.log.Info("User disconnected", "user_id", identity, "handle", handle)
	e.broadcast(ctx, event.UserOffline{UserID: identity})
	return true
}

// SendMessage is the durable write path: resolve-or-create the pair's
// conversation, append the message, advance the lastMessage pointer, then
// confirm to the sender and deliver to the recipient if reachable.
// An offline recipient is a normal, silent outcome — the hook point for
// push notifications, not an error.
func (e *Engine) SendMessage(ctx context.Context, origin contract.EventSink, cmd domain.SendMessageCommand) {
	if err := e.validate.Struct(cmd); err != nil {
		e.emit(ctx, origin, event.MessageError{
			Error:   "invalid-input",
			Details: "message text and a recipient other than the sender are required",
		})
		return
	}

	conv, created, err := e.conversations.GetOrCreate(cmd.Sender, cmd.Recipient)
	if err != nil {
		e.failSend(ctx, origin, cmd, err)
		return
	}
	if created {
		e.log.Debug("Conversation created", "conversation_id", conv.ID,
			"participants", fmt.Sprintf("%s|%s", conv.Participants[0], conv.Participants[1]))
	}

	msg := domain.NewMessage(conv.ID, cmd.Sender, cmd.Text, time.Now().UTC())
	if err = e.messages.Append(msg); err != nil {
		e.failSend(ctx, origin, cmd, err)
		return
	}
	if err = e.conversations.SetLastMessage(conv.ID, msg); err != nil {
		e.failSend(ctx, origin, cmd, err)
		return
	}

	e.emit(ctx, origin, event.MessageSent{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Timestamp:      msg.CreatedAt,
	})

	if entry, online := e.registry.Lookup(cmd.Recipient); online {
		e.emit(ctx, entry.Sink, event.ReceiveMessage{
			From:           cmd.Sender,
			Message:        msg.Text,
			MessageID:      msg.ID,
			ConversationID: conv.ID,
			Timestamp:      msg.CreatedAt,
		})
	}
}

func (e *Engine) failSend(ctx context.Context, origin contract.EventSink,
	cmd domain.SendMessageCommand, err error) {
	e.log.Error("Message send failed", "sender", cmd.Sender, "recipient", cmd.Recipient, "error", err)
	e.emit(ctx, origin, event.MessageError{
		Error:   "message-send-failed",
		Details: err.Error(),
	})
}

// LoadMessages resolves a conversation by id when given, else by the
// unordered pair {requester, recipient}. No resolvable conversation yields
// an empty list, not an error. The history window keeps the newest
// historyLimit messages, oldest-first within the window.
func (e *Engine) LoadMessages(ctx context.Context, origin contract.EventSink, cmd domain.LoadMessagesCommand) {
	var conv domain.Conversation
	var found bool
	var err error

	switch {
	case cmd.ConversationID != nil:
		conv, found, err = e.conversations.GetByID(*cmd.ConversationID)
	case cmd.Recipient != nil:
		conv, found, err = e.conversations.GetByPair(cmd.Requester, *cmd.Recipient)
	default:
		e.emit(ctx, origin, event.MessagesError{Error: "conversation or recipient required"})
		return
	}
	if err != nil {
		e.log.Error("Conversation resolution failed", "requester", cmd.Requester, "error", err)
		e.emit(ctx, origin, event.MessagesError{Error: "failed to load messages"})
		return
	}
	if !found {
		e.emit(ctx, origin, event.MessagesLoaded{Messages: []event.MessagePayload{}})
		return
	}

	messages, err := e.messages.Window(conv.ID, e.historyLimit)
	if err != nil {
		e.log.Error("History fetch failed", "conversation_id", conv.ID, "error", err)
		e.emit(ctx, origin, event.MessagesError{Error: "failed to load messages"})
		return
	}

	e.emit(ctx, origin, event.MessagesLoaded{
		Messages:       toMessagePayloads(messages),
		ConversationID: &conv.ID,
	})
}

// GetConversations returns every conversation the identity takes part in,
// expanded with participant display attributes and the last message payload,
// most-recently-updated first. Unbounded: a scaling limitation, not a
// correctness one.
func (e *Engine) GetConversations(ctx context.Context, origin contract.EventSink, identity domain.Identity) {
	conversations, err := e.conversations.ListByParticipant(identity)
	if err != nil {
		e.log.Error("Conversation list failed", "user_id", identity, "error", err)
		e.emit(ctx, origin, event.MessagesError{Error: "failed to load conversations"})
		return
	}

	payloads := lo.Map(conversations, func(conv domain.Conversation, _ int) event.ConversationPayload {
		payload := event.ConversationPayload{
			ID:           conv.ID,
			Participants: e.toParticipants(conv),
			UpdatedAt:    conv.UpdatedAt,
		}
		if conv.LastMessage != nil {
			last := toMessagePayload(*conv.LastMessage)
			payload.LastMessage = &last
		}
		return payload
	})

	e.emit(ctx, origin, event.ConversationsLoaded{Conversations: payloads})
}

// Typing forwards a best-effort typing notification. The bool result states
// whether the recipient was reachable; nothing is persisted or acknowledged.
func (e *Engine) Typing(ctx context.Context, sender, recipient domain.Identity) bool {
	entry, online := e.registry.Lookup(recipient)
	if !online {
		return false
	}
	e.emit(ctx, entry.Sink, event.UserTyping{UserID: sender})
	return true
}

func (e *Engine) StopTyping(ctx context.Context, sender, recipient domain.Identity) bool {
	entry, online := e.registry.Lookup(recipient)
	if !online {
		return false
	}
	e.emit(ctx, entry.Sink, event.UserStopTyping{UserID: sender})
	return true
}

// CheckOnlineStatus never fails: unknown identities simply map to false.
func (e *Engine) CheckOnlineStatus(ctx context.Context, origin contract.EventSink, cmd domain.CheckOnlineStatusCommand) {
	statuses := e.registry.ExistsBulk(cmd.Identities)
	e.emit(ctx, origin, event.OnlineStatuses{Statuses: statuses})
}

// StatusReport is the synchronous administrative surface,
// outside the event protocol.
type StatusReport struct {
	OnlineUsers int       `json:"online_users"`
	ServerTime  time.Time `json:"server_time"`
}

func (e *Engine) Status() StatusReport {
	return StatusReport{
		OnlineUsers: e.registry.Size(),
		ServerTime:  time.Now().UTC(),
	}
}

// broadcast delivers a presence-change event to every live connection.
func (e *Engine) broadcast(ctx context.Context, evt event.DomainEvent) {
	for _, entry := range e.registry.Snapshot() {
		e.emit(ctx, entry.Sink, evt)
	}
}

// emit pushes one event to one sink under the delivery timeout.
// Failures are logged, never propagated: a delivery problem on one
// connection must not fail the operation that produced the event.
func (e *Engine) emit(ctx context.Context, sink contract.EventSink, evt event.DomainEvent) {
	deliveryCtx, cancel := context.WithTimeout(ctx, e.sinkTimeout)
	defer cancel()
	if err := sink.Consume(deliveryCtx, evt); err != nil {
		e.log.Warn("Event delivery failed", "event", evt.EventName(), "error", err)
	}
}

func toMessagePayload(msg domain.Message) event.MessagePayload {
	return event.MessagePayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		Seen:      msg.Seen,
		CreatedAt: msg.CreatedAt,
	}
}

func toMessagePayloads(messages []domain.Message) []event.MessagePayload {
	return lo.Map(messages, func(msg domain.Message, _ int) event.MessagePayload {
		return toMessagePayload(msg)
	})
}

func (e *Engine) toParticipants(conv domain.Conversation) []event.ParticipantPayload {
	participants := make([]event.ParticipantPayload, 0, 2)
	for _, id := range conv.Participants {
		displayName := string(id)
		if profile, found, err := e.profiles.Get(id); err == nil && found {
			displayName = profile.DisplayName
		}
		participants = append(participants, event.ParticipantPayload{ID: id, DisplayName: displayName})
	}
	return participants
}
