package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/auth"
	"chat-relay/internal"
	"chat-relay/presence"
	"chat-relay/relay"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"chat-relay/transport"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so that every defer (database close, NATS
// drain) executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.LoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. NATS connection (the bidirectional event transport)
	nc, err := nats.Connect(config.NatsURL, nats.Name("chat-relay"))
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	defer nc.Close()

	// 4. Core wiring: registry, repositories, engine
	registry := presence.NewRegistry()
	engine := relay.NewEngine(log, registry,
		repositories.NewConversationRepository(db, log),
		repositories.NewMessageRepository(db, log),
		repositories.NewProfileRepository(db),
		config.HistoryLimit, config.SinkTimeout)
	verifier := auth.NewVerifier(config.JWTSecret)

	// 5. Supervised workers: transport edge + admin status surface
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(transport.NewServer(log, nc, engine, verifier,
		config.ConnectionBufferSize, config.IdleTimeout))
	sup.Add(internal.NewStatusServer(log, engine, config.StatusHost, config.StatusPort))

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting relay", "nats", config.NatsURL, "at", time.Now().UTC())
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}
