// Package pubsub implements C5: the cross-process fan-out bus and its
// listener loop (spec.md §4.6). Grounded directly on
// adred-codev-ws_poc/pkg/nats/client.go — the subject-based Subscribe and
// connection-event wiring are carried over almost unchanged; the subject
// names and payload type change, and a single handler serves the one
// fan-out subject.
//
// Open Question resolution (spec.md §9, SPEC_FULL.md §4.6): spec.md's
// external-interfaces section names a Redis channel ("todo:updates" under
// "Shared store keys"), but this implementation fans out over NATS instead
// of Redis Pub/Sub. NATS is the teacher's only cross-process messaging
// dependency and already brings reconnect/jitter/clustering; routing the
// same fan-out through Redis would make the shared store a second message
// bus for no benefit. The coordinator publishes a MutationEvent here
// immediately after a C2 script commits, rather than from inside the Lua
// script itself.
package pubsub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/model"
)

// MutationEvent is the payload carried on the fan-out subject, decoded by
// every node's listener loop (spec.md §4.6 step 1).
type MutationEvent struct {
	Type    string          `json:"type"`
	ListID  string          `json:"list_id"`
	Item    json.RawMessage `json:"item,omitempty"`
	ItemID  string          `json:"item_id,omitempty"`
	Rev     model.Revision  `json:"rev"`
	UserID  string          `json:"user_id,omitempty"`
	Message string          `json:"message,omitempty"`
}

const (
	EventItemAdded   = "item_added"
	EventItemUpdated = "item_updated"
	EventItemDeleted = "item_deleted"
	EventListShared  = "list_shared"
	EventListDeleted = "list_deleted"
)

// Config mirrors the teacher's nats.Config, carried over field-for-field.
type Config struct {
	URL             string
	Subject         string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

func DefaultConfig(url, subject string) Config {
	return Config{
		URL:             url,
		Subject:         subject,
		MaxReconnects:   -1, // retry forever, matching the teacher's production posture
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}
}

// Bus wraps a NATS connection and the single fan-out subject this service
// uses for every list's events (spec.md §9 "pub/sub broadcasts globally").
type Bus struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func Connect(cfg Config, logger zerolog.Logger) (*Bus, error) {
	b := &Bus{subject: cfg.Subject, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(b.connectHandler),
		nats.DisconnectErrHandler(b.disconnectHandler),
		nats.ReconnectHandler(b.reconnectHandler),
		nats.ErrorHandler(b.errorHandler),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect fan-out bus: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *Bus) connectHandler(conn *nats.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("fan-out bus connected")
}

func (b *Bus) disconnectHandler(conn *nats.Conn, err error) {
	if err != nil {
		b.logger.Warn().Err(err).Msg("fan-out bus disconnected")
		return
	}
	b.logger.Info().Msg("fan-out bus disconnected")
}

func (b *Bus) reconnectHandler(conn *nats.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("fan-out bus reconnected")
}

func (b *Bus) errorHandler(conn *nats.Conn, sub *nats.Subscription, err error) {
	b.logger.Error().Err(err).Msg("fan-out bus error")
}

// Publish sends ev on the fan-out subject. Called by the coordinator right
// after a C2 script returns a new rev — never from inside the script.
func (b *Bus) Publish(ev MutationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode mutation event: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish mutation event: %w", err)
	}
	return nil
}

// Listen starts the long-running subscriber loop (spec.md §4.6): one
// subscription per process, handler invoked per message, failures inside
// handle never propagate to the subscription itself (step 4).
func (b *Bus) Listen(handle func(MutationEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev MutationEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error().Err(err).Msg("discarding malformed mutation event")
			return
		}
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().Interface("panic", r).Msg("mutation event handler panicked")
			}
		}()
		handle(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe fan-out subject: %w", err)
	}
	b.sub = sub
	return nil
}

func (b *Bus) IsConnected() bool { return b.conn != nil && b.conn.IsConnected() }

// Close unsubscribes and drains the connection, used during graceful
// shutdown (spec.md §9: "stop the pub/sub listener" before draining the
// write worker).
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("error unsubscribing from fan-out subject")
		}
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}
