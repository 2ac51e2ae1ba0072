// Package config loads collabd's configuration from the environment,
// generalizing the teacher's hand-rolled JSON-plus-env-override scheme
// (cmd/main.go in the example pack) into struct-tag-driven parsing of
// exactly the variables spec.md §6 names.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-sourced setting the collab node needs.
type Config struct {
	Port int    `env:"PORT" envDefault:"3002"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Env  string `env:"ENV" envDefault:"development"`
	Debug bool  `env:"DEBUG" envDefault:"false"`

	SharedStoreURL string `env:"SHARED_STORE_URL" envDefault:"redis://localhost:6379/0"`

	DurableStoreURL string `env:"DURABLE_STORE_URL,required"`
	DurableStoreKey string `env:"DURABLE_STORE_KEY"`

	AuthSecret         string        `env:"AUTH_SECRET,required"`
	AuthTokenDuration  time.Duration `env:"AUTH_TOKEN_DURATION" envDefault:"24h"`

	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"5000"`

	WriterQueueSize            int           `env:"WRITER_QUEUE_SIZE" envDefault:"1000"`
	WriterShutdownDrainSeconds time.Duration `env:"WRITER_SHUTDOWN_DRAIN_SECONDS" envDefault:"5s"`

	PubSubChannel string `env:"PUBSUB_CHANNEL" envDefault:"todo.updates"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

// Load reads a local .env file if present (development convenience, mirrors
// the teacher's sibling variant's use of joho/godotenv) and then parses the
// process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
