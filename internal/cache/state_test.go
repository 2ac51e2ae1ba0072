package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collabtodo/collabd/internal/model"
)

type fakeSub struct {
	id  string
	out [][]byte
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Send(event []byte) bool {
	f.out = append(f.out, event)
	return true
}

func TestApplyIfNewer_RejectsStale(t *testing.T) {
	s := NewStore()
	s.Put(model.ListCacheEntry{ListID: "L1", Rev: 100})

	applied := s.ApplyIfNewer(model.ListCacheEntry{ListID: "L1", Rev: 90})
	require.False(t, applied)

	e, _ := s.Get("L1")
	require.Equal(t, model.Revision(100), e.Rev)
}

func TestApplyIfNewer_AcceptsEqualOrGreater(t *testing.T) {
	s := NewStore()
	s.Put(model.ListCacheEntry{ListID: "L1", Rev: 100})

	require.True(t, s.ApplyIfNewer(model.ListCacheEntry{ListID: "L1", Rev: 100}))
	require.True(t, s.ApplyIfNewer(model.ListCacheEntry{ListID: "L1", Rev: 101}))
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := NewStore()
	sub := &fakeSub{id: "sess-1"}

	s.Subscribe("L1", sub)
	require.True(t, s.HasSubscribers("L1"))
	require.Len(t, s.Subscribers("L1"), 1)

	s.Unsubscribe(sub)
	require.False(t, s.HasSubscribers("L1"))
}

func TestSessionBinding(t *testing.T) {
	s := NewStore()
	s.BindSession("sess-1", "u1")

	u, ok := s.UserFor("sess-1")
	require.True(t, ok)
	require.Equal(t, "u1", u)

	s.EndSession("sess-1")
	_, ok = s.UserFor("sess-1")
	require.False(t, ok)
}

func TestFlushAll(t *testing.T) {
	s := NewStore()
	s.Put(model.ListCacheEntry{ListID: "L1"})
	s.Put(model.ListCacheEntry{ListID: "L2"})
	require.Equal(t, 2, s.Len())

	s.FlushAll()
	require.Equal(t, 0, s.Len())
}
