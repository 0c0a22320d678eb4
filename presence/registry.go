// Package presence maintains the cluster-wide view of which users
// currently have at least one live connection open. It is advisory only:
// nothing in the Challenge State Machine depends on it for correctness,
// per spec.md §4.2.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the derived, in-memory view of a user's presence.
type Snapshot struct {
	IsOnline        bool      `json:"isOnline"`
	LastSeen        time.Time `json:"lastSeen"`
	ConnectionCount int       `json:"connectionCount"`
}

// Store is the subset of the Shared-Store Adapter the Registry needs:
// hash read/write with TTL, set membership, and single-key get/exists.
// Narrowed to an interface, rather than embedding *sharedstore.Adapter
// directly, so tests can fake it without a live Redis.
type Store interface {
	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCount(ctx context.Context, key string) (int64, error)
	HashPut(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	KeyExpire(ctx context.Context, key string, ttl time.Duration) error
	KeyDelete(ctx context.Context, key string) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}

type Registry struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

func New(store Store, ttl time.Duration, log *zap.Logger) *Registry {
	return &Registry{store: store, ttl: ttl, log: log}
}

func presenceKey(user string) string  { return "presence:" + user }
func userConnKey(user string) string  { return "user_conn:" + user }
func connKey(connID string) string    { return "conn:" + connID }

// SetOnline registers connID as live for user and refreshes the derived
// presence hash.
func (r *Registry) SetOnline(ctx context.Context, user, connID string) error {
	if err := r.store.SetAdd(ctx, userConnKey(user), connID); err != nil {
		return err
	}
	if err := r.store.KeyExpire(ctx, userConnKey(user), r.ttl); err != nil {
		return err
	}
	if err := r.store.Set(ctx, connKey(connID), user, r.ttl); err != nil {
		return err
	}
	return r.rewriteSnapshot(ctx, user)
}

// SetOffline removes connID from user's live set. If no connections
// remain, presence becomes offline within this single operation.
func (r *Registry) SetOffline(ctx context.Context, user, connID string) error {
	if err := r.store.SetRemove(ctx, userConnKey(user), connID); err != nil {
		return err
	}
	if err := r.store.KeyDelete(ctx, connKey(connID)); err != nil {
		return err
	}
	return r.rewriteSnapshot(ctx, user)
}

func (r *Registry) rewriteSnapshot(ctx context.Context, user string) error {
	count, err := r.store.SetCount(ctx, userConnKey(user))
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"isOnline": strconv.FormatBool(count > 0),
		"lastSeen": time.Now().UTC().Format(time.RFC3339),
		"count":    strconv.FormatInt(count, 10),
	}
	return r.store.HashPut(ctx, presenceKey(user), fields, r.ttl)
}

// Heartbeat refreshes an existing presence hash's TTL and lastSeen stamp.
// It never creates a hash for a user who has none — heartbeats from an
// already-expired session must not resurrect a ghost-online state.
func (r *Registry) Heartbeat(ctx context.Context, user string) error {
	exists, err := r.store.KeyExists(ctx, presenceKey(user))
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := r.store.HashPut(ctx, presenceKey(user), map[string]interface{}{
		"lastSeen": time.Now().UTC().Format(time.RFC3339),
	}, r.ttl); err != nil {
		return err
	}
	return nil
}

func (r *Registry) IsOnline(ctx context.Context, user string) (bool, error) {
	count, err := r.store.SetCount(ctx, userConnKey(user))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Registry) Connections(ctx context.Context, user string) ([]string, error) {
	return r.store.SetMembers(ctx, userConnKey(user))
}

func (r *Registry) UserForConnection(ctx context.Context, connID string) (string, bool, error) {
	return r.store.Get(ctx, connKey(connID))
}

func (r *Registry) Snapshot(ctx context.Context, user string) (Snapshot, error) {
	fields, err := r.store.HashGetAll(ctx, presenceKey(user))
	if err != nil {
		return Snapshot{}, err
	}
	if len(fields) == 0 {
		return Snapshot{}, nil
	}
	online, _ := strconv.ParseBool(fields["isOnline"])
	count, _ := strconv.Atoi(fields["count"])
	lastSeen, parseErr := time.Parse(time.RFC3339, fields["lastSeen"])
	if parseErr != nil {
		return Snapshot{}, fmt.Errorf("presence: parse lastSeen for %q: %w", user, parseErr)
	}
	return Snapshot{IsOnline: online, LastSeen: lastSeen, ConnectionCount: count}, nil
}
