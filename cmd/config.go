package main

import "time"

type Config struct {
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT,default=5m"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=100"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	NatsURL              string        `env:"NATS_URL,required=true"`
	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	StatusHost           string        `env:"STATUS_HOST,default=localhost"`
	StatusPort           int           `env:"STATUS_PORT,default=8080"`
}
