// Package cache implements C4: the per-process L1 cache and connection
// registry. It mirrors adred-codev-ws_poc's pkg/websocket.Hub in shape — one
// struct, one coarse-grained mutex, plain maps — but the thing being
// registered is a (list_id, subscriber) pairing rather than a single global
// client set, and the cached payload is a ListCacheEntry rather than a
// price-feed tick.
package cache

import (
	"sync"

	"github.com/collabtodo/collabd/internal/model"
)

// Subscriber is anything C4 can push a fan-out event to. In production this
// is satisfied by *transport.Client; tests use a recording fake.
type Subscriber interface {
	ID() string
	Send(event []byte) bool // false if the outbound buffer was full
}

// Store is the L1 cache plus connection registry described in spec.md §4.4.
// A single Store is constructed once per process and shared by C3, C5, and
// the transport layer — never copied, always passed by pointer.
type Store struct {
	mu sync.Mutex

	lists       map[string]model.ListCacheEntry // list_id -> entry
	subscribers map[string]map[string]Subscriber // list_id -> subscriber_id -> subscriber
	sessions    map[string]string                 // session_id -> user_id
}

func NewStore() *Store {
	return &Store{
		lists:       make(map[string]model.ListCacheEntry),
		subscribers: make(map[string]map[string]Subscriber),
		sessions:    make(map[string]string),
	}
}

// Get returns the cached entry for listID and whether it was present.
func (s *Store) Get(listID string) (model.ListCacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lists[listID]
	if !ok {
		return model.ListCacheEntry{}, false
	}
	return e.Clone(), true
}

// Put installs or overwrites the cached entry for its ListID.
func (s *Store) Put(entry model.ListCacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[entry.ListID] = entry
}

// ApplyIfNewer installs entry only if it is not cached yet or entry.Rev is
// >= the cached rev, satisfying the idempotence note in spec.md §4.3: a
// pub/sub echo of a write this process just made must not regress the
// cache.
func (s *Store) ApplyIfNewer(entry model.ListCacheEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.lists[entry.ListID]
	if ok && entry.Rev.Less(cur.Rev) {
		return false
	}
	s.lists[entry.ListID] = entry
	return true
}

// Drop removes a list entry entirely, used when a list is deleted.
func (s *Store) Drop(listID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, listID)
}

// FlushAll clears every cached list, used by POST /cache/flush.
func (s *Store) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = make(map[string]model.ListCacheEntry)
}

// Subscribe registers sub as a listener for listID's updates.
func (s *Store) Subscribe(listID string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subscribers[listID]
	if !ok {
		set = make(map[string]Subscriber)
		s.subscribers[listID] = set
	}
	set[sub.ID()] = sub
}

// Unsubscribe removes sub from every list it was subscribed to, used on
// disconnect.
func (s *Store) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for listID, set := range s.subscribers {
		delete(set, sub.ID())
		if len(set) == 0 {
			delete(s.subscribers, listID)
		}
	}
}

// Subscribers returns a snapshot of the current subscriber set for listID.
func (s *Store) Subscribers(listID string) []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subscribers[listID]
	out := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

// UnsubscribeAll drops every local subscriber for listID at once, used when
// a list is deleted (spec.md §4.3 DeleteList) and there is no reason to
// keep a per-connection subscription around.
func (s *Store) UnsubscribeAll(listID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, listID)
}

// HasSubscribers reports whether any local connection is watching listID —
// used by the pub/sub listener to decide whether an incoming fan-out event
// needs to be delivered locally. The listener applies the event to L1
// before this check, whatever its answer.
func (s *Store) HasSubscribers(listID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[listID]) > 0
}

// BindSession records the user_id a session authenticated as, so event
// handlers can re-verify it without re-parsing the bearer token per event.
func (s *Store) BindSession(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = userID
}

// UserFor returns the user_id bound to sessionID, if any.
func (s *Store) UserFor(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.sessions[sessionID]
	return u, ok
}

// EndSession forgets a session's binding, used on disconnect.
func (s *Store) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Summary is the shape served by GET /cache.
type Summary struct {
	ListID string `json:"list_id"`
	Items  int    `json:"items"`
	Rev    string `json:"rev"`
}

// Summarize returns one Summary per cached list, for the operational
// surface (C11, spec.md §4.12).
func (s *Store) Summarize() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(s.lists))
	for id, e := range s.lists {
		out = append(out, Summary{ListID: id, Items: len(e.Items), Rev: e.Rev.String()})
	}
	return out
}

// Len reports how many lists are currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists)
}
