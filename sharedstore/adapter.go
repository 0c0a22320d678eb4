// Package sharedstore is the sole place that speaks to the in-memory
// shared store (Redis). Every other package reaches the store only
// through the typed methods here: CAS locks, hash read/write with TTL,
// set membership, key existence/expiry, and pub/sub. Grounded on the
// teacher's DynamoService pattern of a single thin client wrapper that
// every higher-level service is constructed around.
package sharedstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockUnavailable is returned by WithLock when the lock could not be
// acquired within the attempt; spec.md §7 maps this to Transient.
var ErrLockUnavailable = errors.New("sharedstore: lock unavailable")

type Adapter struct {
	client *redis.Client
}

func New(addr, password string) *Adapter {
	return &Adapter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

// TryLock attempts to acquire key as a CAS lock with the given TTL. It
// returns a release token; holders MUST pass the same token to Unlock so
// that one holder can never release another's lock after expiry and
// re-acquisition (the token-scoped release recommended, not mandated, by
// spec.md §9).
func (a *Adapter) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	set, err := a.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("sharedstore: try lock %q: %w", key, err)
	}
	return token, set, nil
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Unlock releases key iff it is still held by token (compare-and-delete).
func (a *Adapter) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, a.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("sharedstore: unlock %q: %w", key, err)
	}
	return nil
}

// WithLock acquires key, runs fn, and always releases the lock afterward
// through the token-scoped Unlock, whatever fn returned. Returns
// ErrLockUnavailable if the lock could not be acquired.
func (a *Adapter) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := a.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockUnavailable
	}
	defer func() {
		_ = a.Unlock(context.WithoutCancel(ctx), key, token)
	}()
	return fn(ctx)
}

// HashPut writes fields into the hash at key and optionally sets its TTL.
func (a *Adapter) HashPut(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sharedstore: hash put %q: %w", key, err)
	}
	return nil
}

// HashGetAll reads every field of the hash at key. Returns an empty map,
// not an error, if the key does not exist.
func (a *Adapter) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := a.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("sharedstore: hash get all %q: %w", key, err)
	}
	return res, nil
}

// HashExpire refreshes the TTL on an existing hash without rewriting its
// fields. It never creates the key: for an absent hash it returns false.
func (a *Adapter) HashExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := a.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("sharedstore: hash expire %q: %w", key, err)
	}
	return n, nil
}

func (a *Adapter) SetAdd(ctx context.Context, key string, member string) error {
	if err := a.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sharedstore: set add %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) SetRemove(ctx context.Context, key string, member string) error {
	if err := a.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sharedstore: set remove %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := a.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("sharedstore: set members %q: %w", key, err)
	}
	return members, nil
}

func (a *Adapter) SetCount(ctx context.Context, key string) (int64, error) {
	n, err := a.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("sharedstore: set count %q: %w", key, err)
	}
	return n, nil
}

func (a *Adapter) KeyExists(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("sharedstore: key exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (a *Adapter) KeyExpire(ctx context.Context, key string, ttl time.Duration) error {
	if err := a.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("sharedstore: key expire %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) KeyDelete(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("sharedstore: key delete %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := a.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("sharedstore: set %q: %w", key, err)
	}
	return nil
}

// Get returns the value and false if the key is absent, rather than an
// error, since "key not found" is an expected outcome for callers like
// Presence.UserForConnection.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sharedstore: get %q: %w", key, err)
	}
	return v, true, nil
}

func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := a.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("sharedstore: publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe returns a subscription whose Channel() delivers raw payloads
// published to channel by any process in the cluster. Callers must Close
// the subscription when done.
func (a *Adapter) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return a.client.Subscribe(ctx, channel)
}

// ZAddDelayed schedules member to become visible to ZPopUntil at runAt;
// used by the Scheduler to implement delayed jobs on top of a sorted set.
func (a *Adapter) ZAddDelayed(ctx context.Context, key string, member string, runAt time.Time) error {
	if err := a.client.ZAdd(ctx, key, redis.Z{Score: float64(runAt.UnixMilli()), Member: member}).Err(); err != nil {
		return fmt.Errorf("sharedstore: zadd %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) ZRem(ctx context.Context, key, member string) error {
	if err := a.client.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sharedstore: zrem %q: %w", key, err)
	}
	return nil
}

// ZPopUntil pops every member of the sorted set at key whose score is at
// or before `until`, atomically, and returns them in score order.
func (a *Adapter) ZPopUntil(ctx context.Context, key string, until time.Time) ([]string, error) {
	max := fmt.Sprintf("%d", until.UnixMilli())
	pipe := a.client.TxPipeline()
	rangeCmd := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: max})
	pipe.ZRemRangeByScore(ctx, key, "-inf", max)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("sharedstore: pop until %q: %w", key, err)
	}
	res := rangeCmd.Val()
	if len(res) == 0 {
		return nil, nil
	}
	return res, nil
}
