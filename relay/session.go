package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"

	"github.com/google/uuid"
)

type SessionState int

const (
	StateCreated SessionState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateAuthenticated:
		return "Authenticated"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// Session is the per-connection state machine:
// Created -> Authenticated -> Active -> Closed.
// No inbound event reaches the engine before Active, and unregistration is
// only reachable on the Active -> Closed transition. The transport calls
// HandleEvent from a single goroutine per connection, which gives the relay
// its per-connection FIFO ordering.
type Session struct {
	mu          sync.Mutex
	state       SessionState
	handle      domain.ConnectionHandle
	identity    domain.Identity
	displayName string
	sink        contract.EventSink
	engine      *Engine
	verifier    contract.IVerifier
	log         *slog.Logger
	idle        *time.Timer
	idleTimeout time.Duration
}

func NewSession(log *slog.Logger, engine *Engine, verifier contract.IVerifier,
	sink contract.EventSink) *Session {
	return &Session{
		state:    StateCreated,
		handle:   domain.ConnectionHandle(uuid.NewString()),
		sink:     sink,
		engine:   engine,
		verifier: verifier,
		log:      log,
	}
}

func (s *Session) Handle() domain.ConnectionHandle { return s.handle }

func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticate verifies the handshake credential. Fail-closed: any
// verification failure moves the session straight to Closed, and it never
// reaches the engine.
func (s *Session) Authenticate(credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return errors.ErrSessionState
	}

	identity, displayName, err := s.verifier.Verify(credential)
	if err != nil {
		s.state = StateClosed
		return err
	}

	s.identity = identity
	s.displayName = displayName
	s.state = StateAuthenticated
	return nil
}

// Open activates the session: the identity becomes reachable through the
// presence registry and the connect announcement goes out.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return errors.ErrSessionState
	}
	s.state = StateActive
	identity, displayName := s.identity, s.displayName
	s.mu.Unlock()

	s.engine.Connect(ctx, identity, displayName, s.handle, s.sink)
	return nil
}

// Close ends the session. Idempotent: only the Active -> Closed transition
// unregisters; a second Close, or closing a never-opened session, is a no-op.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	wasActive := s.state == StateActive
	s.state = StateClosed
	identity := s.identity
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.mu.Unlock()

	if wasActive {
		s.engine.Disconnect(ctx, identity, s.handle)
	}
}

// Watch arms the inactivity watchdog. A client that crashes or loses
// connectivity never sends the disconnect event, so its presence entry
// would stay registered forever: when no inbound event (heartbeats
// included) arrives within timeout, the session closes itself and
// onExpire lets the transport release the connection's resources.
// A non-positive timeout disables the watchdog.
func (s *Session) Watch(timeout time.Duration, onExpire func()) {
	if timeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.idleTimeout = timeout
	s.idle = time.AfterFunc(timeout, func() {
		s.log.Warn("Session expired without traffic",
			"user_id", s.Identity(), "handle", s.handle)
		s.Close(context.Background())
		if onExpire != nil {
			onExpire()
		}
	})
}

// touch rearms the watchdog; every inbound event counts as liveness.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle != nil {
		s.idle.Reset(s.idleTimeout)
	}
}

// HandleEvent routes one inbound event into the engine. Malformed payloads
// and unknown events notify only this connection; they never terminate it.
func (s *Session) HandleEvent(ctx context.Context, name string, data []byte) {
	s.touch()
	if s.State() != StateActive {
		s.log.Warn("Event on inactive session dropped", "event", name, "state", s.State().String())
		return
	}
	identity := s.Identity()

	switch name {
	case "send-message":
		var cmd domain.SendMessageCommand
		if !s.decode(ctx, data, &cmd) {
			return
		}
		cmd.Sender = identity
		s.engine.SendMessage(ctx, s.sink, cmd)

	case "load-messages":
		var cmd domain.LoadMessagesCommand
		if !s.decode(ctx, data, &cmd) {
			return
		}
		cmd.Requester = identity
		s.engine.LoadMessages(ctx, s.sink, cmd)

	case "get-conversations":
		s.engine.GetConversations(ctx, s.sink, identity)

	case "typing":
		var cmd domain.TypingCommand
		if !s.decode(ctx, data, &cmd) {
			return
		}
		s.engine.Typing(ctx, identity, cmd.Recipient)

	case "stop-typing":
		var cmd domain.TypingCommand
		if !s.decode(ctx, data, &cmd) {
			return
		}
		s.engine.StopTyping(ctx, identity, cmd.Recipient)

	case "check-online-status":
		var cmd domain.CheckOnlineStatusCommand
		if !s.decode(ctx, data, &cmd) {
			return
		}
		s.engine.CheckOnlineStatus(ctx, s.sink, cmd)

	case "ping":
		// Heartbeat: rearms the watchdog, nothing else.

	case "disconnect":
		s.Close(ctx)

	default:
		s.log.Warn("Unknown inbound event", "event", name, "user_id", identity)
	}
}

func (s *Session) decode(ctx context.Context, data []byte, target any) bool {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, target); err != nil {
		s.engine.emit(ctx, s.sink, event.MessageError{
			Error:   "invalid-input",
			Details: "malformed event payload",
		})
		return false
	}
	return true
}
