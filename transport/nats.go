// Package transport binds relay sessions to NATS subjects.
//
// Each client opens a logical connection by publishing its credential to the
// connect subject with a reply inbox. On success it receives a connection
// handle and speaks JSON envelopes: inbound events on "relay.in.{handle}",
// outbound events on "relay.out.{handle}". NATS dispatches the messages of
// one subscription sequentially, which provides the per-connection FIFO the
// relay requires; framing and reconnection are NATS concerns, not ours.
//
// Liveness is the client's obligation: any inbound envelope (a bare "ping"
// heartbeat suffices) rearms the session watchdog. A connection silent for
// longer than the idle timeout is treated as crashed and torn down.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/relay"
	"chat-relay/sink"

	"github.com/nats-io/nats.go"
)

const (
	SubjectConnect = "relay.connect"
	subjectInPfx   = "relay.in."
	subjectOutPfx  = "relay.out."
)

// Envelope is the wire form of every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type connectRequest struct {
	Credential string `json:"credential"`
}

type connectReply struct {
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`
}

type liveConn struct {
	session *relay.Session
	sink    *sink.Sink
	sub     *nats.Subscription
	cancel  context.CancelFunc
}

// Server accepts connections and pumps events between NATS and sessions.
// It implements contract.Worker and runs under the supervisor.
type Server struct {
	log         *slog.Logger
	nc          *nats.Conn
	engine      *relay.Engine
	verifier    contract.IVerifier
	bufferSize  int
	idleTimeout time.Duration

	mu    sync.Mutex
	conns map[domain.ConnectionHandle]*liveConn
}

func NewServer(log *slog.Logger, nc *nats.Conn, engine *relay.Engine,
	verifier contract.IVerifier, bufferSize int, idleTimeout time.Duration) *Server {
	return &Server{
		log:         log,
		nc:          nc,
		engine:      engine,
		verifier:    verifier,
		bufferSize:  bufferSize,
		idleTimeout: idleTimeout,
		conns:       make(map[domain.ConnectionHandle]*liveConn),
	}
}

func (s *Server) Run(ctx context.Context) error {
	sub, err := s.nc.Subscribe(SubjectConnect, func(msg *nats.Msg) {
		s.handleConnect(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("connect subscription failed: %w", err)
	}
	s.log.Info("Transport listening", "subject", SubjectConnect)

	<-ctx.Done()

	_ = sub.Drain()
	s.closeAll(context.Background())
	return nil
}

// handleConnect performs the handshake: verify the credential, activate the
// session, wire the per-connection subjects. Verification failures are
// replied to the requester and the connection never reaches the engine.
func (s *Server) handleConnect(ctx context.Context, msg *nats.Msg) {
	if msg.Reply == "" {
		s.log.Warn("Connect request without reply inbox dropped")
		return
	}

	var request connectRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		s.reply(msg, connectReply{Error: "malformed connect request"})
		return
	}

	connSink := sink.NewSink(s.bufferSize)
	session := relay.NewSession(s.log, s.engine, s.verifier, connSink)

	if err := session.Authenticate(request.Credential); err != nil {
		s.log.Warn("Connection rejected", "error", err)
		s.reply(msg, connectReply{Error: err.Error()})
		return
	}

	handle := session.Handle()
	pumpCtx, cancel := context.WithCancel(ctx)

	sub, err := s.nc.Subscribe(subjectInPfx+string(handle), func(inbound *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(inbound.Data, &envelope); err != nil {
			s.log.Warn("Malformed envelope dropped", "handle", handle)
			return
		}
		session.HandleEvent(pumpCtx, envelope.Event, envelope.Data)
		if envelope.Event == "disconnect" {
			s.drop(handle)
		}
	})
	if err != nil {
		cancel()
		s.reply(msg, connectReply{Error: "subscription failed"})
		return
	}

	if err = session.Open(pumpCtx); err != nil {
		cancel()
		_ = sub.Unsubscribe()
		s.reply(msg, connectReply{Error: err.Error()})
		return
	}

	conn := &liveConn{session: session, sink: connSink, sub: sub, cancel: cancel}
	s.mu.Lock()
	s.conns[handle] = conn
	s.mu.Unlock()

	go s.pumpEgress(pumpCtx, handle, connSink)

	// A crashed client never sends disconnect; the watchdog reclaims the
	// presence entry, the subscription and the pump when traffic stops.
	session.Watch(s.idleTimeout, func() { s.drop(handle) })

	s.reply(msg, connectReply{Handle: string(handle)})
}

// pumpEgress drains the connection sink and publishes each event on the
// connection's outbound subject.
func (s *Server) pumpEgress(ctx context.Context, handle domain.ConnectionHandle, connSink *sink.Sink) {
	subject := subjectOutPfx + string(handle)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-connSink.Events:
			data, err := marshalEvent(evt)
			if err != nil {
				s.log.Error("Event marshal failed", "event", evt.EventName(), "error", err)
				continue
			}
			if err = s.nc.Publish(subject, data); err != nil {
				s.log.Warn("Outbound publish failed", "handle", handle, "error", err)
			}
		}
	}
}

func marshalEvent(evt event.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: evt.EventName(), Data: data})
}

func (s *Server) drop(handle domain.ConnectionHandle) {
	s.mu.Lock()
	conn, ok := s.conns[handle]
	delete(s.conns, handle)
	s.mu.Unlock()
	if !ok {
		return
	}
	conn.cancel()
	_ = conn.sub.Unsubscribe()
}

func (s *Server) closeAll(ctx context.Context) {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[domain.ConnectionHandle]*liveConn)
	s.mu.Unlock()

	for handle, conn := range conns {
		conn.session.Close(ctx)
		conn.cancel()
		_ = conn.sub.Unsubscribe()
		s.log.Debug("Connection closed on shutdown", "handle", handle)
	}
}

func (s *Server) reply(msg *nats.Msg, reply connectReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Error("Connect reply marshal failed", "error", err)
		return
	}
	if err = msg.Respond(data); err != nil {
		s.log.Warn("Connect reply failed", "error", err)
	}
}
