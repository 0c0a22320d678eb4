// Package scheduler implements delayed and recurring jobs keyed by
// stable, caller-chosen ids, delivered at-least-once on top of the
// shared-store adapter's sorted-set primitives. Handlers are supplied by
// the orchestrator (timeout) and the cleanup job; they MUST be
// idempotent and re-check state before acting, per spec.md §4.6.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"handshake/apierr"
	"handshake/sharedstore"

	"go.uber.org/zap"
)

const jobsKey = "scheduler:jobs"

// Handler processes one job delivery. Returning a Transient *apierr.Error
// lets the scheduler's own poll loop retry it later; any other error is
// treated as a completed (poison-pill-avoiding) delivery.
type Handler func(ctx context.Context, payload json.RawMessage) error

type job struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type Scheduler struct {
	store       *sharedstore.Adapter
	log         *zap.Logger
	handlers    map[string]Handler
	pollEvery   time.Duration
	stop        chan struct{}
}

func New(store *sharedstore.Adapter, log *zap.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		log:       log,
		handlers:  make(map[string]Handler),
		pollEvery: time.Second,
		stop:      make(chan struct{}),
	}
}

// RegisterHandler binds a job kind to its handler. Call before Start.
func (s *Scheduler) RegisterHandler(kind string, h Handler) {
	s.handlers[kind] = h
}

// Schedule enqueues jobID to run at runAt. Re-scheduling the same jobID
// simply overwrites its run time (sorted-set ZADD is idempotent on
// member), matching the deterministic-id idempotence spec.md §4.6 and
// §8 require of ScheduleTimeout.
func (s *Scheduler) Schedule(ctx context.Context, jobID, kind string, payload interface{}, runAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("scheduler: marshal payload for %q: %w", jobID, err)
	}
	j := job{ID: jobID, Kind: kind, Payload: raw}
	encoded, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("scheduler: marshal job %q: %w", jobID, err)
	}
	if err := s.store.ZAddDelayed(ctx, jobsKey, string(encoded), runAt); err != nil {
		return fmt.Errorf("scheduler: schedule %q: %w", jobID, err)
	}
	return nil
}

// Cancel removes a previously scheduled job by its exact encoded member.
// Since members are content-addressed (id+kind+payload), cancellation of
// a stale reschedule is not needed — a later Schedule call with the same
// jobID and a new payload naturally coexists, and the handler re-checks
// state regardless.
func (s *Scheduler) Cancel(ctx context.Context, jobID, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("scheduler: marshal payload for cancel %q: %w", jobID, err)
	}
	j := job{ID: jobID, Kind: kind, Payload: raw}
	encoded, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("scheduler: marshal job for cancel %q: %w", jobID, err)
	}
	return s.store.ZRem(ctx, jobsKey, string(encoded))
}

// Start launches the poll loop that pops and delivers due jobs until ctx
// is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ZPopUntil(ctx, jobsKey, time.Now())
	if err != nil {
		s.log.Warn("scheduler: poll failed", zap.Error(err))
		return
	}
	for _, encoded := range due {
		var j job
		if err := json.Unmarshal([]byte(encoded), &j); err != nil {
			s.log.Error("scheduler: corrupt job entry dropped", zap.Error(err))
			continue
		}
		s.deliver(ctx, j)
	}
}

func (s *Scheduler) deliver(ctx context.Context, j job) {
	handler, ok := s.handlers[j.Kind]
	if !ok {
		s.log.Error("scheduler: no handler registered for job kind", zap.String("kind", j.Kind))
		return
	}
	err := handler(ctx, j.Payload)
	if err == nil {
		return
	}
	if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindTransient {
		// Re-enqueue a short distance in the future so the scheduler's own
		// retry/backoff applies, per spec.md §7.
		_ = s.store.ZAddDelayed(ctx, jobsKey, mustEncode(j), time.Now().Add(5*time.Second))
		s.log.Warn("scheduler: job failed transiently, re-queued", zap.String("jobId", j.ID), zap.Error(err))
		return
	}
	s.log.Error("scheduler: job handler failed, treating as delivered", zap.String("jobId", j.ID), zap.Error(err))
}

func mustEncode(j job) string {
	b, _ := json.Marshal(j)
	return string(b)
}
