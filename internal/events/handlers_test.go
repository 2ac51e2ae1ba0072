package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/collabtodo/collabd/internal/cache"
	"github.com/collabtodo/collabd/internal/coordinator"
	"github.com/collabtodo/collabd/internal/model"
	"github.com/collabtodo/collabd/internal/pubsub"
	"github.com/collabtodo/collabd/internal/repository"
	"github.com/collabtodo/collabd/internal/store"
)

type fakeSession struct {
	mu        sync.Mutex
	id        string
	userID    string
	sent      []json.RawMessage
	subscribe []string
}

func (s *fakeSession) ID() string     { return s.id }
func (s *fakeSession) UserID() string { return s.userID }
func (s *fakeSession) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, json.RawMessage(payload))
	return true
}
func (s *fakeSession) Subscribe(listID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribe = append(s.subscribe, listID)
}

func (s *fakeSession) last(t *testing.T) map[string]interface{} {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(s.sent[len(s.sent)-1], &m))
	return m
}

type fakeBus struct{}

func (fakeBus) Publish(pubsub.MutationEvent) error { return nil }

type fakeShared struct {
	mu      sync.Mutex
	entries map[string]model.ListCacheEntry
	clock   float64
}

func newFakeShared() *fakeShared {
	return &fakeShared{entries: map[string]model.ListCacheEntry{}}
}

func (f *fakeShared) nextRev() model.Revision {
	f.clock++
	return model.Revision(f.clock)
}

func (f *fakeShared) Get(ctx context.Context, listID string) (model.ListCacheEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[listID]
	return e, ok, nil
}

func (f *fakeShared) Seed(ctx context.Context, entry model.ListCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ListID] = entry
	return nil
}

func (f *fakeShared) Drop(ctx context.Context, listID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, listID)
	return nil
}

func (f *fakeShared) AddItem(ctx context.Context, listID string, item model.TodoItem) (model.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[listID]
	if !ok {
		e = model.ListCacheEntry{ListID: listID, Items: map[string]model.TodoItem{}}
	}
	e.Items[item.ItemID] = item
	e.Rev = f.nextRev()
	f.entries[listID] = e
	return e.Rev, nil
}

func (f *fakeShared) UpdateItem(ctx context.Context, listID string, item model.TodoItem) (model.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[listID]
	if !ok {
		return 0, store.ErrScriptNotFound
	}
	e.Items[item.ItemID] = item
	e.Rev = f.nextRev()
	f.entries[listID] = e
	return e.Rev, nil
}

func (f *fakeShared) DeleteItem(ctx context.Context, listID, itemID string) (model.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[listID]
	if !ok {
		return 0, store.ErrScriptNotFound
	}
	item := e.Items[itemID]
	item.IsDeleted = true
	e.Items[itemID] = item
	e.Rev = f.nextRev()
	f.entries[listID] = e
	return e.Rev, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	members map[string][]model.Membership
	lists   map[string]model.TodoList
	items   map[string][]model.TodoItem
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		members: map[string][]model.Membership{},
		lists:   map[string]model.TodoList{},
		items:   map[string][]model.TodoItem{},
	}
}

func (r *fakeRepo) GetList(ctx context.Context, listID string) (model.TodoList, error) {
	l, ok := r.lists[listID]
	if !ok {
		return model.TodoList{}, repository.ErrNotFound
	}
	return l, nil
}
func (r *fakeRepo) GetListsForUser(ctx context.Context, userID string) ([]model.TodoList, error) {
	return nil, nil
}
func (r *fakeRepo) CreateList(ctx context.Context, ownerID, name string) (model.TodoList, error) {
	l := model.TodoList{ListID: model.NewID(), ListName: name, OwnerID: ownerID}
	r.mu.Lock()
	r.lists[l.ListID] = l
	r.members[l.ListID] = append(r.members[l.ListID], model.Membership{ListID: l.ListID, UserID: ownerID, Role: model.RoleOwner})
	r.mu.Unlock()
	return l, nil
}
func (r *fakeRepo) SoftDeleteList(ctx context.Context, listID string) error { return nil }
func (r *fakeRepo) GetItems(ctx context.Context, listID string) ([]model.TodoItem, error) {
	return r.items[listID], nil
}
func (r *fakeRepo) AddItem(ctx context.Context, item model.TodoItem) error    { return nil }
func (r *fakeRepo) UpdateItem(ctx context.Context, item model.TodoItem) error { return nil }
func (r *fakeRepo) SoftDeleteItem(ctx context.Context, listID, itemID string) error {
	return nil
}
func (r *fakeRepo) ListMembers(ctx context.Context, listID string) ([]model.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[listID], nil
}
func (r *fakeRepo) AddMember(ctx context.Context, m model.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ListID] = append(r.members[m.ListID], m)
	return nil
}

type fakeWriter struct{}

func (fakeWriter) EnqueueAddItem(model.TodoItem)    {}
func (fakeWriter) EnqueueUpdateItem(model.TodoItem) {}
func (fakeWriter) EnqueueDeleteItem(string, string)  {}
func (fakeWriter) EnqueueAddMember(model.Membership) {}
func (fakeWriter) EnqueueSoftDeleteList(string)       {}

func newTestDispatcher() (*Dispatcher, *fakeRepo) {
	repo := newFakeRepo()
	coord := coordinator.New(cache.NewStore(), newFakeShared(), repo, fakeBus{}, fakeWriter{}, zerolog.Nop())
	return NewDispatcher(coord, repo, zerolog.Nop()), repo
}

func TestHandleCreateList_RepliesWithListCreated(t *testing.T) {
	d, _ := newTestDispatcher()
	sess := &fakeSession{id: "s1", userID: "u1"}

	raw, _ := json.Marshal(CreateListPayload{ListName: "Groceries"})
	d.Dispatch(context.Background(), sess, KindCreateList, raw)

	msg := sess.last(t)
	require.Equal(t, string(KindListCreated), msg["type"])
	require.NotEmpty(t, sess.subscribe)
}

func TestHandleCreateList_ValidationError(t *testing.T) {
	d, _ := newTestDispatcher()
	sess := &fakeSession{id: "s1", userID: "u1"}

	raw, _ := json.Marshal(CreateListPayload{})
	d.Dispatch(context.Background(), sess, KindCreateList, raw)

	msg := sess.last(t)
	require.Equal(t, string(KindValidationError), msg["type"])
}

func TestHandleAddItem_DeniedForNonMember(t *testing.T) {
	d, repo := newTestDispatcher()
	owner := &fakeSession{id: "s1", userID: "owner"}
	d.Dispatch(context.Background(), owner, KindCreateList, mustJSON(CreateListPayload{ListName: "Groceries"}))
	listID := owner.last(t)["list_id"].(string)
	_ = repo

	intruder := &fakeSession{id: "s2", userID: "ghost"}
	d.Dispatch(context.Background(), intruder, KindAddItem, mustJSON(AddItemPayload{ListID: listID, Name: "Milk"}))

	msg := intruder.last(t)
	require.Equal(t, string(KindPermissionError), msg["type"])
}

func TestHandleJoinList_UnknownListIsNotFound(t *testing.T) {
	d, repo := newTestDispatcher()
	repo.members["L1"] = []model.Membership{{ListID: "L1", UserID: "u1", Role: model.RoleOwner}}
	sess := &fakeSession{id: "s1", userID: "u1"}

	d.Dispatch(context.Background(), sess, KindJoinList, mustJSON(JoinListPayload{ListID: "L1"}))

	msg := sess.last(t)
	require.Equal(t, string(KindError), msg["type"])
	require.Equal(t, "not_found", msg["kind"])
}

func TestHandleDeleteList_RequiresOwnerAction(t *testing.T) {
	d, repo := newTestDispatcher()
	repo.members["L1"] = []model.Membership{{ListID: "L1", UserID: "editor", Role: model.RoleEditor}}
	sess := &fakeSession{id: "s1", userID: "editor"}

	d.Dispatch(context.Background(), sess, KindDeleteList, mustJSON(DeleteListPayload{ListID: "L1"}))

	msg := sess.last(t)
	require.Equal(t, string(KindPermissionError), msg["type"])
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
