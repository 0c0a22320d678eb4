// Package orchestrator is the Handshake Orchestrator: the top-level use
// cases (create, accept, wake-up-respond, timeout/retry, decline, expire)
// that compose every lower component, per spec.md §4.8. Every operation
// acquires the per-challenge distributed lock for the duration unless
// noted, and every transaction failure on the record store aborts the
// operation and releases the lock.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"handshake/apierr"
	"handshake/models"
	"handshake/push"
	"handshake/services"
	"handshake/sharedstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is the capability the Orchestrator needs from the Connection
// Hub. Defined here, not imported from package hub, so the two packages
// bind late and neither imports the other — the circular-dependency
// break spec.md §9 asks for.
type Notifier interface {
	Emit(ctx context.Context, userID, event string, payload interface{}) error
	EmitSession(ctx context.Context, sessionID, event string, payload interface{}) error
}

// TimeoutScheduler is the capability the Orchestrator needs from the
// Scheduler.
type TimeoutScheduler interface {
	ScheduleTimeout(ctx context.Context, challengeID string, attempt int, after time.Duration) error
	CancelTimeout(ctx context.Context, challengeID string, attempt int) error
}

// Locker is the distributed-lock capability the Orchestrator needs from
// the Shared-Store Adapter. Narrowed to WithLock (rather than embedding
// *sharedstore.Adapter directly) so tests can fake it without a live Redis.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// ChallengeRecordStore is the subset of services.ChallengeStore the
// Orchestrator drives the state machine through.
type ChallengeRecordStore interface {
	CreateChallenge(ctx context.Context, c models.Challenge) error
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	UpdateChallengeState(ctx context.Context, id, fromState, toState string) (*models.Challenge, error)
	IncrementAttempt(ctx context.Context, id string, maxAttempts int) (*models.Challenge, error)
	MarkExpired(ctx context.Context, now time.Time) (int, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionRecordStore is the subset of services.SessionStore the
// Orchestrator needs to hand a newly-accepted challenge off to.
type SessionRecordStore interface {
	CreateSession(ctx context.Context, session models.Session) error
}

// UserLookup is the subset of services.UserStore the Orchestrator needs
// to validate challenge participants exist.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// PresenceChecker is the subset of presence.Registry the Orchestrator
// consults to decide between a live emit and a push notification.
type PresenceChecker interface {
	IsOnline(ctx context.Context, user string) (bool, error)
}

// PushSender is the subset of push.Channel the Orchestrator uses for
// out-of-band wake-up delivery.
type PushSender interface {
	Send(ctx context.Context, userID string, payload push.Payload) bool
}

type Config struct {
	ChallengeExpiration time.Duration
	HandshakeTimeout    time.Duration
	MaxRetryAttempts    int
	LockTTL             time.Duration
}

type Orchestrator struct {
	locks      Locker
	challenges ChallengeRecordStore
	sessions   SessionRecordStore
	users      UserLookup
	presence   PresenceChecker
	push       PushSender
	notifier   Notifier
	scheduler  TimeoutScheduler
	cfg        Config
	log        *zap.Logger
}

func New(
	locks Locker,
	challenges ChallengeRecordStore,
	sessions SessionRecordStore,
	users UserLookup,
	reg PresenceChecker,
	pushChannel PushSender,
	notifier Notifier,
	scheduler TimeoutScheduler,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		locks:      locks,
		challenges: challenges,
		sessions:   sessions,
		users:      users,
		presence:   reg,
		push:       pushChannel,
		notifier:   notifier,
		scheduler:  scheduler,
		cfg:        cfg,
		log:        log,
	}
}

func (o *Orchestrator) withChallengeLock(ctx context.Context, challengeID string, fn func(ctx context.Context) error) error {
	key := (models.Challenge{ChallengeID: challengeID}).LockKey()
	err := o.locks.WithLock(ctx, key, o.cfg.LockTTL, fn)
	if err == sharedstore.ErrLockUnavailable {
		return apierr.Transient("challenge is being processed by another request", err)
	}
	return err
}

func mapStoreErr(err error, notFoundMsg, conflictMsg string) error {
	switch err {
	case services.ErrNotFound:
		return apierr.NotFound(notFoundMsg)
	case services.ErrConditionFailed:
		return apierr.Conflict(conflictMsg)
	default:
		if err != nil {
			return apierr.Transient("record store operation failed", err)
		}
		return nil
	}
}

// CreateChallenge validates both users exist and differ, then writes a
// new Challenge in PENDING and fires best-effort notifications. Neither
// delivery failure aborts creation. It takes no per-challenge lock: the
// challenge does not exist until this call writes it.
func (o *Orchestrator) CreateChallenge(ctx context.Context, challengerID, challengedID, gameType string, metadata map[string]interface{}) (*models.Challenge, error) {
	if challengerID == challengedID {
		return nil, apierr.Unprocessable("cannot challenge yourself")
	}
	if _, err := o.users.GetUser(ctx, challengerID); err != nil {
		return nil, mapStoreErr(err, "challenger not found", "")
	}
	if _, err := o.users.GetUser(ctx, challengedID); err != nil {
		return nil, mapStoreErr(err, "challenged user not found", "")
	}

	c := models.Challenge{
		ChallengeID:  uuid.New().String(),
		ChallengerID: challengerID,
		ChallengedID: challengedID,
		GameType:     gameType,
		State:        models.ChallengeStatePending,
		ExpiresAt:    time.Now().Add(o.cfg.ChallengeExpiration),
		Metadata:     metadata,
	}
	if err := o.challenges.CreateChallenge(ctx, c); err != nil {
		return nil, apierr.Transient("failed to create challenge", err)
	}

	o.bestEffort(func() error {
		return o.notifier.Emit(ctx, challengedID, "challenge:received", map[string]interface{}{
			"challengeId": c.ChallengeID,
			"challenger":  challengerID,
			"gameType":    gameType,
			"createdAt":   c.CreatedAt,
		})
	}, "emit challenge:received")
	o.bestEffort(func() error {
		o.push.Send(ctx, challengedID, push.Payload{
			ChallengeID: c.ChallengeID,
			Event:       "challenge:received",
			Title:       "New challenge",
			Body:        fmt.Sprintf("%s challenged you to %s", challengerID, gameType),
		})
		return nil
	}, "push challenge:received")

	return &c, nil
}

// InitiateHandshake is called when the challenged user accepts. Requires
// the challenge to be PENDING and acceptedBy to be the challenged party.
func (o *Orchestrator) InitiateHandshake(ctx context.Context, challengeID, acceptedBy string) (state string, playerNotified bool, err error) {
	err = o.withChallengeLock(ctx, challengeID, func(ctx context.Context) error {
		c, getErr := o.challenges.GetChallenge(ctx, challengeID)
		if getErr != nil {
			return mapStoreErr(getErr, "challenge not found", "")
		}
		if c.ChallengedID != acceptedBy {
			return apierr.Forbidden("only the challenged user may accept")
		}
		if c.State != models.ChallengeStatePending {
			return apierr.Conflict("challenge is not pending")
		}

		if _, upErr := o.challenges.UpdateChallengeState(ctx, challengeID, models.ChallengeStatePending, models.ChallengeStateNotifying); upErr != nil {
			return mapStoreErr(upErr, "challenge not found", "challenge already accepted")
		}

		online, _ := o.presence.IsOnline(ctx, c.ChallengerID)
		liveDelivered := false
		if online {
			liveDelivered = o.notifier.Emit(ctx, c.ChallengerID, "challenge:wake-up", map[string]interface{}{
				"challengeId": challengeID,
				"challenger":  c.ChallengerID,
				"gameType":    c.GameType,
				"now":         time.Now().UTC(),
			}) == nil
		}
		pushDelivered := o.push.Send(ctx, c.ChallengerID, push.Payload{
			ChallengeID: challengeID,
			Event:       "challenge:wake-up",
			Title:       "Wake up!",
			Body:        fmt.Sprintf("%s is ready to play %s", acceptedBy, c.GameType),
		})
		playerNotified = liveDelivered || pushDelivered

		if _, upErr := o.challenges.UpdateChallengeState(ctx, challengeID, models.ChallengeStateNotifying, models.ChallengeStateWaitingResponse); upErr != nil {
			return mapStoreErr(upErr, "challenge not found", "challenge state changed concurrently")
		}
		if _, incErr := o.challenges.IncrementAttempt(ctx, challengeID, o.cfg.MaxRetryAttempts); incErr != nil {
			return mapStoreErr(incErr, "challenge not found", "attempt limit reached")
		}
		if schedErr := o.scheduler.ScheduleTimeout(ctx, challengeID, 1, o.cfg.HandshakeTimeout); schedErr != nil {
			o.log.Warn("orchestrator: failed to schedule timeout", zap.String("challengeId", challengeID), zap.Error(schedErr))
		}
		state = models.ChallengeStateWaitingResponse
		return nil
	})
	return state, playerNotified, err
}

// HandleWakeUpResponse processes the challenger's ACCEPT/DECLINE reply.
func (o *Orchestrator) HandleWakeUpResponse(ctx context.Context, challengeID, userID string, response models.WakeUpResponse) (interface{}, error) {
	var result interface{}
	err := o.withChallengeLock(ctx, challengeID, func(ctx context.Context) error {
		c, getErr := o.challenges.GetChallenge(ctx, challengeID)
		if getErr != nil {
			return mapStoreErr(getErr, "challenge not found", "")
		}
		if c.State != models.ChallengeStateWaitingResponse {
			return apierr.Conflict("challenge is not waiting for a response")
		}
		if c.ChallengerID != userID {
			return apierr.Forbidden("only the challenger may respond")
		}

		switch response {
		case models.ResponseAccept:
			updated, upErr := o.challenges.UpdateChallengeState(ctx, challengeID, models.ChallengeStateWaitingResponse, models.ChallengeStateActive)
			if upErr != nil {
				return mapStoreErr(upErr, "challenge not found", "challenge state changed concurrently")
			}
			session := models.Session{
				SessionID:   uuid.New().String(),
				ChallengeID: challengeID,
				Players:     []string{updated.ChallengerID, updated.ChallengedID},
			}
			if err := o.sessions.CreateSession(ctx, session); err != nil {
				return apierr.Transient("failed to create session", err)
			}
			if schedErr := o.scheduler.CancelTimeout(ctx, challengeID, updated.Attempts); schedErr != nil {
				o.log.Warn("orchestrator: failed to cancel timeout", zap.Error(schedErr))
			}

			o.bestEffort(func() error {
				return o.notifier.EmitSession(ctx, session.SessionID, "session:ready", map[string]interface{}{
					"sessionId":   session.SessionID,
					"challengeId": challengeID,
					"gameType":    updated.GameType,
				})
			}, "emit session:ready to session")
			for _, player := range session.Players {
				opponent := session.OpponentOf(player)
				o.bestEffort(func() error {
					return o.notifier.Emit(ctx, player, "session:ready", map[string]interface{}{
						"sessionId":   session.SessionID,
						"challengeId": challengeID,
						"opponent":    map[string]string{"id": opponent},
						"gameType":    updated.GameType,
					})
				}, "emit session:ready to player")
			}

			result = map[string]interface{}{"action": "SESSION_CREATED", "sessionId": session.SessionID}
			return nil

		case models.ResponseDecline:
			if _, upErr := o.challenges.UpdateChallengeState(ctx, challengeID, models.ChallengeStateWaitingResponse, models.ChallengeStateDeclined); upErr != nil {
				return mapStoreErr(upErr, "challenge not found", "challenge state changed concurrently")
			}
			if schedErr := o.scheduler.CancelTimeout(ctx, challengeID, c.Attempts); schedErr != nil {
				o.log.Warn("orchestrator: failed to cancel timeout", zap.Error(schedErr))
			}
			o.bestEffort(func() error {
				return o.notifier.Emit(ctx, c.ChallengedID, "challenge:declined", map[string]interface{}{
					"challengeId": challengeID,
				})
			}, "emit challenge:declined")
			result = map[string]interface{}{"action": "DECLINED"}
			return nil

		default:
			return apierr.Validation("response must be ACCEPT or DECLINE")
		}
	})
	return result, err
}

// HandleTimeout is the Scheduler handler for a challenge wake-up timeout.
// It re-reads the challenge under the lock and returns quietly if another
// path already won the race.
func (o *Orchestrator) HandleTimeout(ctx context.Context, challengeID string, attempt int) error {
	return o.withChallengeLock(ctx, challengeID, func(ctx context.Context) error {
		c, err := o.challenges.GetChallenge(ctx, challengeID)
		if err != nil {
			if err == services.ErrNotFound {
				return nil
			}
			return apierr.Transient("failed to read challenge", err)
		}
		if c.State != models.ChallengeStateWaitingResponse {
			return nil
		}

		if attempt >= o.cfg.MaxRetryAttempts {
			if _, upErr := o.challenges.UpdateChallengeState(ctx, challengeID, models.ChallengeStateWaitingResponse, models.ChallengeStateTimeout); upErr != nil {
				if upErr == services.ErrConditionFailed {
					return nil
				}
				return apierr.Transient("failed to mark challenge timed out", upErr)
			}
			o.bestEffort(func() error {
				return o.notifier.Emit(ctx, c.ChallengedID, "challenge:timeout", map[string]interface{}{
					"challengeId": challengeID,
					"now":         time.Now().UTC(),
				})
			}, "emit challenge:timeout")
			return nil
		}

		online, _ := o.presence.IsOnline(ctx, c.ChallengerID)
		if online {
			o.bestEffort(func() error {
				return o.notifier.Emit(ctx, c.ChallengerID, "challenge:wake-up", map[string]interface{}{
					"challengeId": challengeID,
					"challenger":  c.ChallengerID,
					"gameType":    c.GameType,
					"now":         time.Now().UTC(),
				})
			}, "re-emit challenge:wake-up")
		}
		o.push.Send(ctx, c.ChallengerID, push.Payload{
			ChallengeID: challengeID,
			Event:       "challenge:wake-up",
			Title:       "Wake up!",
			Body:        fmt.Sprintf("Still waiting for your response to %s", c.GameType),
		})

		if _, err := o.challenges.IncrementAttempt(ctx, challengeID, o.cfg.MaxRetryAttempts); err != nil {
			return apierr.Transient("failed to increment attempt", err)
		}
		nextAttempt := attempt + 1
		if err := o.scheduler.ScheduleTimeout(ctx, challengeID, nextAttempt, o.timeoutInterval()); err != nil {
			o.log.Warn("orchestrator: failed to schedule retry", zap.Error(err))
		}
		return nil
	})
}

func (o *Orchestrator) timeoutInterval() time.Duration {
	if o.cfg.HandshakeTimeout <= 0 {
		return 30 * time.Second
	}
	return o.cfg.HandshakeTimeout
}

// DeclineByChallenged handles the challenged user declining before ever
// accepting, i.e. while the challenge is still PENDING.
func (o *Orchestrator) DeclineByChallenged(ctx context.Context, challengeID, userID string) error {
	return o.withChallengeLock(ctx, challengeID, func(ctx context.Context) error {
		c, err := o.challenges.GetChallenge(ctx, challengeID)
		if err != nil {
			return mapStoreErr(err, "challenge not found", "")
		}
		if c.ChallengedID != userID {
			return apierr.Forbidden("only the challenged user may decline")
		}
		if c.State != models.ChallengeStatePending {
			return apierr.Conflict("challenge is not pending")
		}
		if _, err := o.challenges.UpdateChallengeState(ctx, challengeID, models.ChallengeStatePending, models.ChallengeStateDeclined); err != nil {
			return mapStoreErr(err, "challenge not found", "challenge state changed concurrently")
		}
		o.bestEffort(func() error {
			return o.notifier.Emit(ctx, c.ChallengerID, "challenge:declined", map[string]interface{}{
				"challengeId": challengeID,
				"declinedBy":  userID,
			})
		}, "emit challenge:declined to challenger")
		return nil
	})
}

// MarkExpired runs the cleanup job's PENDING-expiry sweep, outside any
// per-challenge lock; races with InitiateHandshake are resolved by the
// record store's conditional update.
func (o *Orchestrator) MarkExpired(ctx context.Context) (int, error) {
	return o.challenges.MarkExpired(ctx, time.Now())
}

// PruneTerminal deletes terminal challenges older than the retention
// window, the other half of the recurring cleanup job. Like MarkExpired,
// it runs outside any per-challenge lock.
func (o *Orchestrator) PruneTerminal(ctx context.Context, retention time.Duration) (int, error) {
	return o.challenges.DeleteTerminalOlderThan(ctx, time.Now().Add(-retention))
}

func (o *Orchestrator) bestEffort(fn func() error, what string) {
	if err := fn(); err != nil {
		o.log.Warn("orchestrator: best-effort delivery failed", zap.String("what", what), zap.Error(err))
	}
}
