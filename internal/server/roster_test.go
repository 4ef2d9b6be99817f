package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoster_AddRemove(t *testing.T) {
	r := NewRoster()
	r.Add(1, "127.0.0.1:5000")

	s, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), s.ConnID)
	assert.Equal(t, "127.0.0.1:5000", s.Addr)
	assert.False(t, s.Online)
	assert.False(t, s.LastHeartbeat.IsZero())

	r.Remove(1)
	_, ok = r.Get(1)
	assert.False(t, ok)
}

func TestRoster_BindIdentity(t *testing.T) {
	r := NewRoster()
	r.Add(1, "a")

	assert.False(t, r.BindIdentity(1, "", "Alice"), "empty clientId")
	assert.False(t, r.BindIdentity(1, "alice", ""), "empty nickname")
	assert.False(t, r.BindIdentity(99, "alice", "Alice"), "unknown conn")

	require.True(t, r.BindIdentity(1, "alice", "Alice"))
	s, ok := r.Get(1)
	require.True(t, ok)
	assert.True(t, s.Online)
	assert.Equal(t, "alice", s.ClientID)
	assert.Equal(t, "Alice", s.Nickname)
}

func TestRoster_UniquenessChecks(t *testing.T) {
	r := NewRoster()
	r.Add(1, "a")
	r.Add(2, "b")
	r.Add(3, "c")
	require.True(t, r.BindIdentity(1, "alice", "Alice"))

	// another connection sees the identity as taken
	assert.True(t, r.IsClientIDOnline("alice", 2))
	assert.True(t, r.IsNicknameOnline("Alice", 2))

	// the owning connection is excluded
	assert.False(t, r.IsClientIDOnline("alice", 1))
	assert.False(t, r.IsNicknameOnline("Alice", 1))

	// anonymous connections never hold identities
	assert.False(t, r.IsClientIDOnline("", 2))
	assert.False(t, r.IsNicknameOnline("", 2))
	assert.False(t, r.IsClientIDOnline("bob", 2))
}

func TestRoster_ConnByClientID(t *testing.T) {
	r := NewRoster()
	r.Add(1, "a")
	r.Add(2, "b")
	require.True(t, r.BindIdentity(1, "alice", "Alice"))

	id, ok := r.ConnByClientID("alice")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = r.ConnByClientID("bob")
	assert.False(t, ok)
	_, ok = r.ConnByClientID("")
	assert.False(t, ok)
}

func TestRoster_OnlineSnapshotExcludesAnonymous(t *testing.T) {
	r := NewRoster()
	r.Add(1, "a")
	r.Add(2, "b")
	r.Add(3, "c")
	require.True(t, r.BindIdentity(2, "bob", "Bob"))
	require.True(t, r.BindIdentity(1, "alice", "Alice"))

	snapshot := r.OnlineSnapshot()
	require.Len(t, snapshot, 2)
	// ordered by connection id
	assert.Equal(t, "alice", snapshot[0].ClientID)
	assert.Equal(t, "bob", snapshot[1].ClientID)

	assert.Equal(t, 2, r.OnlineCount())
	assert.Len(t, r.AllConnIDs(), 3)
}

func TestRoster_TimedOut(t *testing.T) {
	r := NewRoster()
	r.Add(1, "a")
	r.Add(2, "b")

	// nothing stale yet
	assert.Empty(t, r.TimedOut(time.Minute))

	// everything is stale against a zero threshold after a beat passes
	time.Sleep(5 * time.Millisecond)
	stale := r.TimedOut(0)
	assert.Len(t, stale, 2)

	r.TouchHeartbeat(1)
	stale = r.TimedOut(2 * time.Millisecond)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(2), stale[0])
}
