package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory stand-in for the Shared-Store Adapter,
// enough of its set/hash/key semantics to exercise Registry without a
// live Redis.
type fakeStore struct {
	sets   map[string]map[string]bool
	hashes map[string]map[string]string
	kv     map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sets:   make(map[string]map[string]bool),
		hashes: make(map[string]map[string]string),
		kv:     make(map[string]string),
	}
}

func (f *fakeStore) SetAdd(_ context.Context, key, member string) error {
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	f.sets[key][member] = true
	return nil
}

func (f *fakeStore) SetRemove(_ context.Context, key, member string) error {
	delete(f.sets[key], member)
	return nil
}

func (f *fakeStore) SetMembers(_ context.Context, key string) ([]string, error) {
	var members []string
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (f *fakeStore) SetCount(_ context.Context, key string) (int64, error) {
	return int64(len(f.sets[key])), nil
}

func (f *fakeStore) HashPut(_ context.Context, key string, fields map[string]interface{}, _ time.Duration) error {
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	for k, v := range fields {
		f.hashes[key][k] = v.(string)
	}
	return nil
}

func (f *fakeStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) KeyExists(_ context.Context, key string) (bool, error) {
	_, ok := f.hashes[key]
	return ok, nil
}

func (f *fakeStore) KeyExpire(context.Context, string, time.Duration) error { return nil }

func (f *fakeStore) KeyDelete(_ context.Context, key string) error {
	delete(f.kv, key)
	return nil
}

func (f *fakeStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.kv[key] = value
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}

func newTestRegistry() (*Registry, *fakeStore) {
	store := newFakeStore()
	return New(store, time.Minute, zap.NewNop()), store
}

func TestSetOnline_MarksUserOnlineAndTracksConnection(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, reg.SetOnline(ctx, "alice", "conn-1"))

	online, err := reg.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	user, ok, err := reg.UserForConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	snap, err := reg.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, snap.IsOnline)
	assert.Equal(t, 1, snap.ConnectionCount)
}

func TestSetOffline_OnlyGoesOfflineWhenLastConnectionLeaves(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, reg.SetOnline(ctx, "alice", "conn-1"))
	require.NoError(t, reg.SetOnline(ctx, "alice", "conn-2"))

	require.NoError(t, reg.SetOffline(ctx, "alice", "conn-1"))
	online, err := reg.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online, "a second live connection should keep the user online")

	require.NoError(t, reg.SetOffline(ctx, "alice", "conn-2"))
	online, err = reg.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	_, ok, err := reg.UserForConnection(ctx, "conn-2")
	require.NoError(t, err)
	assert.False(t, ok, "a dropped connection's reverse lookup must not linger")
}

// Invariant: a heartbeat from a user with no presence record (never
// connected, or already expired) must not resurrect or create one.
func TestHeartbeat_NeverCreatesPresenceForUnknownUser(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Heartbeat(ctx, "ghost"))

	exists, err := store.KeyExists(ctx, presenceKey("ghost"))
	require.NoError(t, err)
	assert.False(t, exists)

	snap, err := reg.Snapshot(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

// Invariant: a heartbeat for a user whose presence record already
// expired out of the store (KeyExists false even though they were once
// online) must stay offline, not resurrect a ghost-online state.
func TestHeartbeat_DoesNotResurrectExpiredPresence(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, reg.SetOnline(ctx, "alice", "conn-1"))
	delete(store.hashes, presenceKey("alice")) // simulate the Redis hash TTL expiring

	require.NoError(t, reg.Heartbeat(ctx, "alice"))

	exists, err := store.KeyExists(ctx, presenceKey("alice"))
	require.NoError(t, err)
	assert.False(t, exists, "heartbeat must not recreate an expired presence hash")
}

func TestHeartbeat_RefreshesExistingPresenceWithoutChangingOnlineState(t *testing.T) {
	reg, store := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, reg.SetOnline(ctx, "alice", "conn-1"))
	require.NoError(t, reg.Heartbeat(ctx, "alice"))

	fields, err := store.HashGetAll(ctx, presenceKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "true", fields["isOnline"], "heartbeat must not flip an online user offline")

	online, err := reg.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestSnapshot_EmptyWhenNeverSeen(t *testing.T) {
	reg, _ := newTestRegistry()
	snap, err := reg.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}
