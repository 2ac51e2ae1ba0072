package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/cache"
	"github.com/collabtodo/collabd/internal/events"
	"github.com/collabtodo/collabd/internal/metrics"
	"github.com/collabtodo/collabd/internal/model"
	"github.com/collabtodo/collabd/internal/pubsub"
)

// Hub owns every live connection in the process: the connection registry
// (grounded on the teacher's pkg/websocket.Hub clients map), per-user
// addressing for list_shared notifications, and the bridge from C5's
// pub/sub listener into C4's local fan-out.
type Hub struct {
	l1         *cache.Store
	dispatcher *events.Dispatcher
	metrics    *metrics.Metrics
	tracker    *metrics.ConnectionTracker
	logger     zerolog.Logger

	maxConnections int

	mu      sync.Mutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client
}

func NewHub(l1 *cache.Store, dispatcher *events.Dispatcher, m *metrics.Metrics, maxConnections int, logger zerolog.Logger) *Hub {
	return &Hub{
		l1:             l1,
		dispatcher:     dispatcher,
		metrics:        m,
		tracker:        metrics.NewConnectionTracker(),
		logger:         logger,
		maxConnections: maxConnections,
		clients:        make(map[string]*Client),
		byUser:         make(map[string]map[string]*Client),
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) atCapacity() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxConnections > 0 && len(h.clients) >= h.maxConnections
}

// Register adds a freshly upgraded connection to the registry and binds
// its session to its authenticated user (spec.md §4.4 "session -> user_id
// map").
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[string]*Client)
	}
	h.byUser[c.userID][c.id] = c
	h.mu.Unlock()

	h.l1.BindSession(c.id, c.userID)
	h.tracker.AddConnection(c.id, c.conn.RemoteAddr().String())
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	h.logger.Info().Str("session_id", c.id).Str("user_id", c.userID).Msg("client connected")
}

// Unregister removes c from every registry it is tracked in. Safe to call
// more than once for the same client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	if set, ok := h.byUser[c.userID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	h.mu.Unlock()

	close(c.send)
	h.l1.Unsubscribe(c)
	h.l1.EndSession(c.id)
	h.tracker.RemoveConnection(c.id)
	if h.metrics != nil {
		h.metrics.ConnectionClosed(time.Since(c.connectedAt))
	}
	h.logger.Info().Str("session_id", c.id).Msg("client disconnected")
}

// forceDisconnect is called by Client.Send when a connection's outbound
// buffer is full; it closes the socket, which drives readPump's deferred
// Unregister.
func (h *Hub) forceDisconnect(c *Client) {
	if h.metrics != nil {
		h.metrics.ConnectionError()
	}
	c.conn.Close()
}

// dispatch decodes the envelope discriminator and routes the event to
// internal/events, recording per-connection/metrics bookkeeping either
// way.
func (h *Hub) dispatch(c *Client, message []byte) {
	start := time.Now()
	h.tracker.UpdateConnectionStats(c.id, false, uint64(len(message)))
	if h.metrics != nil {
		h.metrics.EventReceived(len(message))
	}

	env, err := decodeEnvelope(message)
	if err != nil {
		c.Send(mustJSON(events.NewError(events.KindValidationError, "validation_error", "malformed frame")))
		return
	}

	h.dispatcher.Dispatch(context.Background(), c, events.Kind(env.Type), message)
	if h.metrics != nil {
		h.metrics.ObserveEventLatency(time.Since(start))
	}
}

// HandleMutation is the C5 listener callback (spec.md §4.6 step 3): apply
// ev to L1, then, if any local connection is subscribed to the list, fan
// out to those connections' send channels.
func (h *Hub) HandleMutation(ev pubsub.MutationEvent) {
	if h.metrics != nil {
		h.metrics.IncrementBusMessages()
	}

	switch ev.Type {
	case pubsub.EventItemAdded, pubsub.EventItemUpdated:
		h.fanOutItemEvent(ev)
	case pubsub.EventItemDeleted:
		h.fanOutItemDeleted(ev)
	case pubsub.EventListShared:
		h.notifyShare(ev)
	case pubsub.EventListDeleted:
		h.fanOutListDeleted(ev)
	default:
		h.logger.Warn().Str("type", ev.Type).Msg("unknown mutation event type")
	}
}

func (h *Hub) fanOutItemEvent(ev pubsub.MutationEvent) {
	var item model.TodoItem
	if err := json.Unmarshal(ev.Item, &item); err != nil {
		h.logger.Error().Err(err).Msg("decode item from mutation event")
		return
	}
	h.applyItemToL1(ev.ListID, item, ev.Rev)

	if !h.l1.HasSubscribers(ev.ListID) {
		return
	}
	kind := events.KindItemAdded
	if ev.Type == pubsub.EventItemUpdated {
		kind = events.KindItemUpdated
	}
	payload := mustJSON(events.ItemEvent{Type: kind, ListID: ev.ListID, Item: item, Rev: ev.Rev.String()})
	h.broadcastToSubscribers(ev.ListID, payload)
}

func (h *Hub) fanOutItemDeleted(ev pubsub.MutationEvent) {
	tombstone := model.TodoItem{ItemID: ev.ItemID, ListID: ev.ListID, IsDeleted: true, UpdatedAt: time.Now().UTC()}
	h.applyItemToL1(ev.ListID, tombstone, ev.Rev)

	if !h.l1.HasSubscribers(ev.ListID) {
		return
	}
	payload := mustJSON(events.ItemDeletedEvent{
		Type: events.KindItemDeleted, ListID: ev.ListID, ItemID: ev.ItemID, Rev: ev.Rev.String(),
	})
	h.broadcastToSubscribers(ev.ListID, payload)
}

// applyItemToL1 merges item into this node's cached snapshot for listID so
// a node with no local subscribers still converges (spec.md §4.6 step 1,
// §5's last-write-wins invariant), mirroring coordinator.applyToL1. Safe
// against stale replays of a write this node already applied: a rev older
// than what's cached is dropped.
func (h *Hub) applyItemToL1(listID string, item model.TodoItem, rev model.Revision) {
	entry, ok := h.l1.Get(listID)
	if !ok {
		entry = model.ListCacheEntry{ListID: listID, Items: map[string]model.TodoItem{}}
	}
	if rev.Less(entry.Rev) {
		return
	}
	entry.Items[item.ItemID] = item
	entry.Rev = rev
	entry.UpdatedAt = item.UpdatedAt
	h.l1.ApplyIfNewer(entry)
}

func (h *Hub) fanOutListDeleted(ev pubsub.MutationEvent) {
	payload := mustJSON(events.ListDeletedEvent{Type: events.KindListDeleted, ListID: ev.ListID})
	h.broadcastToSubscribers(ev.ListID, payload)
	h.l1.UnsubscribeAll(ev.ListID)
	h.l1.Drop(ev.ListID)
}

func (h *Hub) notifyShare(ev pubsub.MutationEvent) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.byUser[ev.UserID]))
	for _, c := range h.byUser[ev.UserID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	payload := mustJSON(events.ListSharedWithYouEvent{
		Type: events.KindListSharedWithYou, ListID: ev.ListID, Message: ev.Message,
	})
	for _, c := range targets {
		h.send(c, payload)
	}
}

func (h *Hub) broadcastToSubscribers(listID string, payload []byte) {
	for _, sub := range h.l1.Subscribers(listID) {
		c, ok := sub.(*Client)
		if !ok {
			sub.Send(payload)
			continue
		}
		h.send(c, payload)
	}
}

func (h *Hub) send(c *Client, payload []byte) {
	if c.Send(payload) {
		h.tracker.UpdateConnectionStats(c.id, true, uint64(len(payload)))
		if h.metrics != nil {
			h.metrics.EventSent()
		}
	}
}

// RoomSummary is the shape served by GET /rooms (spec.md §4.12): one entry
// per list that is in this node's L1 cache and has at least one local
// subscriber. A subscribed list that is not in L1 is not listed.
type RoomSummary struct {
	ListID      string `json:"list_id"`
	Subscribers int    `json:"subscribers"`
}

func (h *Hub) Rooms() []RoomSummary {
	summaries := h.l1.Summarize()
	out := make([]RoomSummary, 0, len(summaries))
	for _, s := range summaries {
		subs := h.l1.Subscribers(s.ListID)
		if len(subs) == 0 {
			continue
		}
		out = append(out, RoomSummary{ListID: s.ListID, Subscribers: len(subs)})
	}
	return out
}

func (h *Hub) ConnectionStats() map[string]interface{} {
	return h.tracker.GetConnectionStats()
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
