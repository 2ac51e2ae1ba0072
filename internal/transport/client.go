// Package transport implements the physical half of C4 and C9/C10's entry
// point: the WebSocket connection lifecycle (upgrade, auth, read/write
// pumps) plus C11's HTTP operational surface. Grounded directly on
// adred-codev-ws_poc's pkg/websocket/{client.go,hub.go} — same ping/pong
// deadlines, buffered send channel, one goroutine each for reads and writes — with
// the price-feed client generalized into a per-session event source that
// feeds internal/events.Dispatcher instead of handling a fixed ping/
// heartbeat message set inline.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/collabtodo/collabd/internal/events"
	"github.com/collabtodo/collabd/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256

	// eventsPerSecond bounds how fast one session may push inbound events,
	// satisfying spec.md §5's "a flooding client must not starve others"
	// requirement — one event is processed at a time per session already
	// (the read pump is single-goroutine), this just smooths the rate too.
	eventsPerSecond = 20
	eventBurst      = 40
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is a middleman between one WebSocket connection and the rest of
// the process. It satisfies both cache.Subscriber and events.Session.
type Client struct {
	id     string
	userID string

	conn *websocket.Conn
	send chan []byte

	hub     *Hub
	limiter *rate.Limiter
	logger  zerolog.Logger

	connectedAt time.Time
}

func newClient(conn *websocket.Conn, userID string, hub *Hub, logger zerolog.Logger) *Client {
	return &Client{
		id:          model.NewID(),
		userID:      userID,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		limiter:     rate.NewLimiter(rate.Limit(eventsPerSecond), eventBurst),
		logger:      logger,
		connectedAt: time.Now(),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send enqueues payload for delivery, or drops the connection if the
// client's outbound buffer is already full (spec.md §4.4: a slow reader
// must not block the rest of the fan-out).
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.hub.forceDisconnect(c)
		return false
	}
}

// Subscribe registers c as a listener for listID's mutation events.
func (c *Client) Subscribe(listID string) {
	c.hub.l1.Subscribe(listID, c)
}

// readPump blocks on ReadMessage, rate-limits, and hands each frame to the
// hub's dispatcher. Runs in its own goroutine; Server.handleWebSocket
// starts it and writePump each in a goroutine of their own.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Str("session_id", c.id).Msg("websocket read error")
			}
			return
		}

		if err := c.limiter.Wait(context.Background()); err != nil {
			continue
		}
		c.hub.dispatch(c, message)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings. Returning closes the connection,
// which unblocks readPump's ReadMessage call.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decodeEnvelope(message []byte) (events.Envelope, error) {
	var env events.Envelope
	err := json.Unmarshal(message, &env)
	return env, err
}
