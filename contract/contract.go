//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself; the supervisor recovers panics and restarts.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink delivers an outbound event to one connection. Implementations
// are best-effort: a full connection buffer drops, it never blocks the relay.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Entry is one presence mapping: the current handle of an identity
// plus the sink reaching that connection.
type Entry struct {
	Handle domain.ConnectionHandle
	Sink   EventSink
}

type IRegistry interface {
	Register(id domain.Identity, entry Entry)
	Unregister(id domain.Identity, handle domain.ConnectionHandle) bool
	Lookup(id domain.Identity) (Entry, bool)
	ExistsBulk(ids []domain.Identity) map[domain.Identity]bool
	Snapshot() []Entry
	Size() int
}

type IConversationRepository interface {
	GetOrCreate(a, b domain.Identity) (domain.Conversation, bool, error)
	GetByID(id uuid.UUID) (domain.Conversation, bool, error)
	GetByPair(a, b domain.Identity) (domain.Conversation, bool, error)
	SetLastMessage(id uuid.UUID, msg domain.Message) error
	ListByParticipant(id domain.Identity) ([]domain.Conversation, error)
}

type IMessageRepository interface {
	Append(msg domain.Message) error
	Window(conversationID uuid.UUID, limit int) ([]domain.Message, error)
}

type IProfileRepository interface {
	Upsert(profile domain.Profile) error
	Get(id domain.Identity) (domain.Profile, bool, error)
}

type IVerifier interface {
	Verify(credential string) (domain.Identity, string, error)
}
