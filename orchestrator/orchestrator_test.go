package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"handshake/apierr"
	"handshake/challenge"
	"handshake/models"
	"handshake/push"
	"handshake/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLocker serializes WithLock calls per key behind a real mutex, the
// same guarantee the Shared-Store Adapter's Redis lock gives in
// production, so races the orchestrator depends on the lock to resolve
// actually show up under `go test -race`.
type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]*sync.Mutex)}
}

func (f *fakeLocker) lockFor(key string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[key]
	if !ok {
		l = &sync.Mutex{}
		f.locks[key] = l
	}
	return l
}

func (f *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l := f.lockFor(key)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// fakeChallengeStore mirrors services.ChallengeStore's conditional-write
// semantics in memory: UpdateChallengeState only succeeds if the row's
// current state matches fromState, collapsing a double-transition race
// into services.ErrConditionFailed exactly like the DynamoDB original.
type fakeChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]models.Challenge
}

func newFakeChallengeStore(challenges ...models.Challenge) *fakeChallengeStore {
	s := &fakeChallengeStore{challenges: make(map[string]models.Challenge)}
	for _, c := range challenges {
		s.challenges[c.ChallengeID] = c
	}
	return s
}

func (s *fakeChallengeStore) CreateChallenge(_ context.Context, c models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.State = models.ChallengeStatePending
	s.challenges[c.ChallengeID] = c
	return nil
}

func (s *fakeChallengeStore) GetChallenge(_ context.Context, id string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return &c, nil
}

func (s *fakeChallengeStore) UpdateChallengeState(_ context.Context, id, fromState, toState string) (*models.Challenge, error) {
	if !challenge.CanTransition(fromState, toState) {
		return nil, apierr.Internal("test: illegal transition requested", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	if c.State != fromState {
		return nil, services.ErrConditionFailed
	}
	c.State = toState
	c.UpdatedAt = time.Now().UTC()
	s.challenges[id] = c
	return &c, nil
}

func (s *fakeChallengeStore) IncrementAttempt(_ context.Context, id string, maxAttempts int) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	if c.Attempts >= maxAttempts {
		return nil, services.ErrConditionFailed
	}
	c.Attempts++
	now := time.Now().UTC()
	c.LastAttemptAt = &now
	s.challenges[id] = c
	return &c, nil
}

func (s *fakeChallengeStore) MarkExpired(context.Context, time.Time) (int, error) { return 0, nil }

func (s *fakeChallengeStore) DeleteTerminalOlderThan(context.Context, time.Time) (int, error) {
	return 0, nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions []models.Session
}

func (s *fakeSessionStore) CreateSession(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
	return nil
}

type fakeUserLookup struct {
	users map[string]models.User
}

func (f *fakeUserLookup) GetUser(_ context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, services.ErrNotFound
	}
	return &u, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (f *fakePresence) IsOnline(_ context.Context, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[user], nil
}

type fakePush struct {
	mu   sync.Mutex
	sent []push.Payload
}

func (f *fakePush) Send(_ context.Context, _ string, payload push.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return true
}

type fakeNotifier struct {
	mu       sync.Mutex
	emitted  []string
	failUser map[string]bool
}

func (f *fakeNotifier) Emit(_ context.Context, userID, event string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUser[userID] {
		return assertErr
	}
	f.emitted = append(f.emitted, userID+":"+event)
	return nil
}

func (f *fakeNotifier) EmitSession(_ context.Context, sessionID, event string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, sessionID+":"+event)
	return nil
}

var assertErr = apierr.Internal("test: live delivery unavailable", nil)

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []int
	cancelled []int
}

func (f *fakeScheduler) ScheduleTimeout(_ context.Context, _ string, attempt int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, attempt)
	return nil
}

func (f *fakeScheduler) CancelTimeout(_ context.Context, _ string, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, attempt)
	return nil
}

func testConfig() Config {
	return Config{
		ChallengeExpiration: time.Hour,
		HandshakeTimeout:    30 * time.Second,
		MaxRetryAttempts:    3,
		LockTTL:             5 * time.Second,
	}
}

type harness struct {
	challenges *fakeChallengeStore
	sessions   *fakeSessionStore
	users      *fakeUserLookup
	presence   *fakePresence
	push       *fakePush
	notifier   *fakeNotifier
	scheduler  *fakeScheduler
	orch       *Orchestrator
}

func newHarness(challenges ...models.Challenge) *harness {
	h := &harness{
		challenges: newFakeChallengeStore(challenges...),
		sessions:   &fakeSessionStore{},
		users: &fakeUserLookup{users: map[string]models.User{
			"alice": {UserID: "alice", DisplayName: "Alice"},
			"bob":   {UserID: "bob", DisplayName: "Bob"},
		}},
		presence:  &fakePresence{online: map[string]bool{}},
		push:      &fakePush{},
		notifier:  &fakeNotifier{failUser: map[string]bool{}},
		scheduler: &fakeScheduler{},
	}
	h.orch = New(
		newFakeLocker(),
		h.challenges,
		h.sessions,
		h.users,
		h.presence,
		h.push,
		h.notifier,
		h.scheduler,
		testConfig(),
		zap.NewNop(),
	)
	return h
}

// S1: challenger may not target themself, mapped to the dedicated
// Unprocessable/422 kind rather than generic Validation/400.
func TestCreateChallenge_SelfChallengeIsUnprocessable(t *testing.T) {
	h := newHarness()
	_, err := h.orch.CreateChallenge(context.Background(), "alice", "alice", "chess", nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUnprocessable, apiErr.Kind)
}

func TestCreateChallenge_UnknownChallengedUserIsNotFound(t *testing.T) {
	h := newHarness()
	_, err := h.orch.CreateChallenge(context.Background(), "alice", "ghost", "chess", nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotFound, apiErr.Kind)
}

func TestCreateChallenge_HappyPathStartsPendingAndNotifiesChallenged(t *testing.T) {
	h := newHarness()
	c, err := h.orch.CreateChallenge(context.Background(), "alice", "bob", "chess", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatePending, c.State)
	assert.Contains(t, h.notifier.emitted, "bob:challenge:received")
}

// S1 (accept happy path): PENDING -> NOTIFYING -> WAITING_RESPONSE, with
// the attempt counter incremented exactly once and a first timeout
// scheduled.
func TestInitiateHandshake_HappyPath(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", GameType: "chess", State: models.ChallengeStatePending}
	h := newHarness(c)
	h.presence.online["alice"] = true

	state, notified, err := h.orch.InitiateHandshake(context.Background(), "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStateWaitingResponse, state)
	assert.True(t, notified)

	stored, _ := h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, models.ChallengeStateWaitingResponse, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, []int{1}, h.scheduler.scheduled)
	assert.Contains(t, h.notifier.emitted, "alice:challenge:wake-up")
}

// S5: accepting a challenge that is not PENDING is rejected, not
// silently applied.
func TestInitiateHandshake_WrongStateIsConflict(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStateActive}
	h := newHarness(c)

	_, _, err := h.orch.InitiateHandshake(context.Background(), "c1", "bob")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}

func TestInitiateHandshake_WrongUserIsForbidden(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStatePending}
	h := newHarness(c)

	_, _, err := h.orch.InitiateHandshake(context.Background(), "c1", "carol")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
}

// S6: two concurrent accept attempts on the same PENDING challenge must
// serialize through the per-challenge lock and leave exactly one
// winner — the loser sees the post-transition state and is rejected,
// never a corrupted or double-applied write.
func TestInitiateHandshake_ConcurrentDoubleAcceptHasExactlyOneWinner(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStatePending}
	h := newHarness(c)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := h.orch.InitiateHandshake(context.Background(), "c1", "bob")
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		apiErr, ok := apierr.As(err)
		require.True(t, ok)
		assert.Equal(t, apierr.KindConflict, apiErr.Kind)
		conflicts++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	stored, _ := h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, models.ChallengeStateWaitingResponse, stored.State)
	assert.Equal(t, 1, stored.Attempts, "only the winner should have incremented the attempt counter")
}

func TestHandleWakeUpResponse_AcceptCreatesSessionAndCancelsTimeout(t *testing.T) {
	c := models.Challenge{
		ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob",
		GameType: "chess", State: models.ChallengeStateWaitingResponse, Attempts: 1,
	}
	h := newHarness(c)

	result, err := h.orch.HandleWakeUpResponse(context.Background(), "c1", "alice", models.ResponseAccept)
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.Equal(t, "SESSION_CREATED", out["action"])

	require.Len(t, h.sessions.sessions, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, h.sessions.sessions[0].Players)
	assert.Equal(t, []int{1}, h.scheduler.cancelled)

	stored, _ := h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, models.ChallengeStateActive, stored.State)
}

func TestHandleWakeUpResponse_DeclineTransitionsToDeclined(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStateWaitingResponse}
	h := newHarness(c)

	result, err := h.orch.HandleWakeUpResponse(context.Background(), "c1", "alice", models.ResponseDecline)
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.Equal(t, "DECLINED", out["action"])

	stored, _ := h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, models.ChallengeStateDeclined, stored.State)
}

// Exactly-once terminal transition: a second response after the
// challenge already left WAITING_RESPONSE is rejected, not reapplied.
func TestHandleWakeUpResponse_SecondResponseIsConflict(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStateWaitingResponse}
	h := newHarness(c)

	_, err := h.orch.HandleWakeUpResponse(context.Background(), "c1", "alice", models.ResponseAccept)
	require.NoError(t, err)

	_, err = h.orch.HandleWakeUpResponse(context.Background(), "c1", "alice", models.ResponseAccept)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
	require.Len(t, h.sessions.sessions, 1, "a second accept must not create a second session")
}

// Idempotent timeout re-delivery: HandleTimeout for a challenge that has
// already left WAITING_RESPONSE (another path won the race first) is a
// silent no-op, not an error.
func TestHandleTimeout_NoOpWhenAlreadyResolved(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStateActive}
	h := newHarness(c)

	err := h.orch.HandleTimeout(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Empty(t, h.scheduler.scheduled)
	assert.Empty(t, h.push.sent)
}

func TestHandleTimeout_RetriesUntilMaxThenMarksTimeout(t *testing.T) {
	c := models.Challenge{
		ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob",
		GameType: "chess", State: models.ChallengeStateWaitingResponse, Attempts: 1,
	}
	h := newHarness(c)

	require.NoError(t, h.orch.HandleTimeout(context.Background(), "c1", 1))
	stored, _ := h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, models.ChallengeStateWaitingResponse, stored.State, "below max attempts: retried, not terminal")
	assert.Equal(t, 2, stored.Attempts)

	require.NoError(t, h.orch.HandleTimeout(context.Background(), "c1", 2))
	stored, _ = h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, 3, stored.Attempts)

	require.NoError(t, h.orch.HandleTimeout(context.Background(), "c1", 3))
	stored, _ = h.challenges.GetChallenge(context.Background(), "c1")
	assert.Equal(t, models.ChallengeStateTimeout, stored.State, "at max attempts: timeout is terminal")
}

func TestDeclineByChallenged_RejectsNonPendingChallenge(t *testing.T) {
	c := models.Challenge{ChallengeID: "c1", ChallengerID: "alice", ChallengedID: "bob", State: models.ChallengeStateActive}
	h := newHarness(c)

	err := h.orch.DeclineByChallenged(context.Background(), "c1", "bob")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}
