package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/presence"
	"chat-relay/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// captureSink records everything the engine emits to one connection.
type captureSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (c *captureSink) Consume(ctx context.Context, e event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) byName(name string) []event.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matching []event.DomainEvent
	for _, e := range c.events {
		if e.EventName() == name {
			matching = append(matching, e)
		}
	}
	return matching
}

func newTestEngine(t *testing.T, historyLimit int) (*Engine, *presence.Registry) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	registry := presence.NewRegistry()
	engine := NewEngine(log, registry,
		repositories.NewConversationRepository(db, log),
		repositories.NewMessageRepository(db, log),
		repositories.NewProfileRepository(db),
		historyLimit, time.Second)
	return engine, registry
}

func Test_Relay_Scenario_Online_Then_Offline_Recipient(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)

	alice := domain.Identity("alice")
	bob := domain.Identity("bob")
	aliceSink := &captureSink{}
	bobSink := &captureSink{}

	// Given both users connected
	engine.Connect(ctx, alice, "Alice", "conn-a", aliceSink)
	engine.Connect(ctx, bob, "Bob", "conn-b", bobSink)

	// When alice messages bob
	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Recipient: bob, Text: "hi",
	})

	// Then alice gets a confirmation and bob the delivery
	sent := aliceSink.byName("message-sent")
	req.Len(sent, 1)
	received := bobSink.byName("receive-message")
	req.Len(received, 1)
	delivery := received[0].(event.ReceiveMessage)
	req.Equal(alice, delivery.From)
	req.Equal("hi", delivery.Message)
	req.Equal(sent[0].(event.MessageSent).MessageID, delivery.MessageID)

	// When bob disconnects and alice messages him again
	engine.Disconnect(ctx, bob, "conn-b")
	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Recipient: bob, Text: "bye",
	})

	// Then alice still gets a confirmation, bob no new delivery, no error
	req.Len(aliceSink.byName("message-sent"), 2)
	req.Len(bobSink.byName("receive-message"), 1)
	req.Empty(aliceSink.byName("message-error"))

	// And bob retrieves both messages after reconnecting
	bobSink2 := &captureSink{}
	engine.Connect(ctx, bob, "Bob", "conn-b2", bobSink2)
	engine.LoadMessages(ctx, bobSink2, domain.LoadMessagesCommand{
		Requester: bob, Recipient: &alice,
	})
	loaded := bobSink2.byName("messages-loaded")
	req.Len(loaded, 1)
	history := loaded[0].(event.MessagesLoaded)
	req.Len(history.Messages, 2)
	req.Equal("hi", history.Messages[0].Text)
	req.Equal("bye", history.Messages[1].Text)
}

func Test_SendMessage_Invalid_Input_No_Side_Effects(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	alice := domain.Identity("alice")
	aliceSink := &captureSink{}
	engine.Connect(ctx, alice, "Alice", "conn-a", aliceSink)

	// When the text is empty
	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Recipient: "bob", Text: "",
	})
	// And when the recipient is missing
	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Text: "hello?",
	})

	// Then only the sender is notified and nothing was persisted
	req.Len(aliceSink.byName("message-error"), 2)
	req.Empty(aliceSink.byName("message-sent"))

	engine.LoadMessages(ctx, aliceSink, domain.LoadMessagesCommand{
		Requester: alice, Recipient: ptr(domain.Identity("bob")),
	})
	loaded := aliceSink.byName("messages-loaded")
	req.Len(loaded, 1)
	req.Empty(loaded[0].(event.MessagesLoaded).Messages)
}

func Test_SendMessage_To_Self_Rejected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	alice := domain.Identity("alice")
	aliceSink := &captureSink{}
	engine.Connect(ctx, alice, "Alice", "conn-a", aliceSink)

	// When alice addresses herself
	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Recipient: alice, Text: "note to self",
	})

	// Then only an error comes back and no conversation exists
	req.Len(aliceSink.byName("message-error"), 1)
	req.Empty(aliceSink.byName("message-sent"))
	req.Empty(aliceSink.byName("receive-message"))

	engine.GetConversations(ctx, aliceSink, alice)
	loaded := aliceSink.byName("conversations-loaded")
	req.Len(loaded, 1)
	req.Empty(loaded[0].(event.ConversationsLoaded).Conversations)
}

func Test_LoadMessages_Unresolved_Omits_Conversation_ID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	alice := domain.Identity("alice")
	aliceSink := &captureSink{}
	engine.Connect(ctx, alice, "Alice", "conn-a", aliceSink)

	// When no conversation exists for the pair
	engine.LoadMessages(ctx, aliceSink, domain.LoadMessagesCommand{
		Requester: alice, Recipient: ptr(domain.Identity("stranger")),
	})

	loaded := aliceSink.byName("messages-loaded")
	req.Len(loaded, 1)
	history := loaded[0].(event.MessagesLoaded)
	req.Empty(history.Messages)
	req.Nil(history.ConversationID)

	// And no phantom zero UUID reaches the wire
	data, err := json.Marshal(history)
	req.NoError(err)
	req.NotContains(string(data), "conversationId")
}

func Test_Connect_Announces_Online_To_All(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	aliceSink := &captureSink{}
	bobSink := &captureSink{}

	engine.Connect(ctx, "alice", "Alice", "conn-a", aliceSink)
	engine.Connect(ctx, "bob", "Bob", "conn-b", bobSink)

	// Alice hears about bob coming online
	online := aliceSink.byName("user-online")
	req.NotEmpty(online)
	req.Equal(domain.Identity("bob"), online[len(online)-1].(event.UserOnline).UserID)
}

func Test_Stale_Disconnect_Does_Not_Announce_Offline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, registry := newTestEngine(t, 100)
	alice := domain.Identity("alice")
	observer := &captureSink{}
	engine.Connect(ctx, "observer", "Observer", "conn-o", observer)

	// Given alice reconnected, superseding her first connection
	engine.Connect(ctx, alice, "Alice", "conn-old", &captureSink{})
	engine.Connect(ctx, alice, "Alice", "conn-new", &captureSink{})

	// When the old connection's disconnect arrives late
	removed := engine.Disconnect(ctx, alice, "conn-old")

	// Then nothing is removed and nobody hears user-offline
	req.False(removed)
	req.Empty(observer.byName("user-offline"))
	entry, ok := registry.Lookup(alice)
	req.True(ok)
	req.Equal(domain.ConnectionHandle("conn-new"), entry.Handle)
}

func Test_LoadMessages_Window_Order_And_Cap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 3)
	alice := domain.Identity("alice")
	bob := domain.Identity("bob")
	aliceSink := &captureSink{}
	engine.Connect(ctx, alice, "Alice", "conn-a", aliceSink)

	// Given 5 sent messages and a window of 3
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
			Sender: alice, Recipient: bob, Text: text,
		})
	}

	engine.LoadMessages(ctx, aliceSink, domain.LoadMessagesCommand{
		Requester: alice, Recipient: &bob,
	})

	loaded := aliceSink.byName("messages-loaded")
	req.Len(loaded, 1)
	history := loaded[0].(event.MessagesLoaded)
	req.Len(history.Messages, 3)
	for i := 1; i < len(history.Messages); i++ {
		req.False(history.Messages[i].CreatedAt.Before(history.Messages[i-1].CreatedAt))
	}
	req.Equal("five", history.Messages[len(history.Messages)-1].Text)
}

func Test_GetConversations_Expanded_And_Ordered(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	alice := domain.Identity("alice")
	aliceSink := &captureSink{}
	engine.Connect(ctx, alice, "Alice", "conn-a", aliceSink)
	engine.Connect(ctx, "bob", "Bob", "conn-b", &captureSink{})

	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Recipient: "clara", Text: "hello clara",
	})
	engine.SendMessage(ctx, aliceSink, domain.SendMessageCommand{
		Sender: alice, Recipient: "bob", Text: "hello bob",
	})

	engine.GetConversations(ctx, aliceSink, alice)

	loaded := aliceSink.byName("conversations-loaded")
	req.Len(loaded, 1)
	conversations := loaded[0].(event.ConversationsLoaded).Conversations
	req.Len(conversations, 2)

	// Most recently updated first: the bob conversation
	req.NotNil(conversations[0].LastMessage)
	req.Equal("hello bob", conversations[0].LastMessage.Text)
	req.Equal("hello clara", conversations[1].LastMessage.Text)

	// Display names come from profiles refreshed at connect;
	// clara never connected, so she falls back to her identity.
	names := map[domain.Identity]string{}
	for _, conv := range conversations {
		for _, p := range conv.Participants {
			names[p.ID] = p.DisplayName
		}
	}
	req.Equal("Alice", names[alice])
	req.Equal("Bob", names["bob"])
	req.Equal("clara", names["clara"])
}

func Test_Typing_Reports_Reachability(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	bobSink := &captureSink{}
	engine.Connect(ctx, "bob", "Bob", "conn-b", bobSink)

	req.True(engine.Typing(ctx, "alice", "bob"))
	req.True(engine.StopTyping(ctx, "alice", "bob"))
	req.False(engine.Typing(ctx, "alice", "nobody"))

	typing := bobSink.byName("user-typing")
	req.Len(typing, 1)
	req.Equal(domain.Identity("alice"), typing[0].(event.UserTyping).UserID)
	req.Len(bobSink.byName("user-stop-typing"), 1)
}

func Test_CheckOnlineStatus_Mixed(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	aliceSink := &captureSink{}
	engine.Connect(ctx, "alice", "Alice", "conn-a", aliceSink)

	engine.CheckOnlineStatus(ctx, aliceSink, domain.CheckOnlineStatusCommand{
		Identities: []domain.Identity{"alice", "never-seen"},
	})

	emitted := aliceSink.byName("online-statuses")
	req.Len(emitted, 1)
	statuses := emitted[0].(event.OnlineStatuses).Statuses
	req.True(statuses["alice"])
	req.False(statuses["never-seen"])
}

func Test_Status_Reports_Online_Count(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine, _ := newTestEngine(t, 100)
	engine.Connect(ctx, "alice", "Alice", "conn-a", &captureSink{})
	engine.Connect(ctx, "bob", "Bob", "conn-b", &captureSink{})

	report := engine.Status()

	req.Equal(2, report.OnlineUsers)
	req.WithinDuration(time.Now().UTC(), report.ServerTime, time.Minute)
}

func ptr[T any](v T) *T { return &v }
