// Package reconcile keeps each answer's derived status consistent with its
// evidence. Every evidence mutation marks the answer dirty; a single
// reconciliation per answer may be in flight at a time, and mutations that
// arrive mid-flight collapse into one trailing rerun. Status changes are
// published to subscribers, replacing ad-hoc interval timers with explicit
// cancellable subscriptions.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"corecompliance/internal/assessment/derive"
	"corecompliance/internal/assessment/metrics"
	"corecompliance/internal/assessment/models"
	"corecompliance/internal/catalog"
	"corecompliance/internal/verification"
	"corecompliance/pkg/platform/sentinel"
)

// AnswerStore is the slice of the answer store the loop needs.
type AnswerStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Answer, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) error
	ListPendingVerification(ctx context.Context) ([]*models.Answer, error)
}

// RuleCatalog resolves the rule an answer responds to.
type RuleCatalog interface {
	FindRule(ctx context.Context, ruleID uuid.UUID) (catalog.Rule, error)
}

// Event describes one persisted status change.
type Event struct {
	AnswerID uuid.UUID
	RuleID   uuid.UUID
	Subject  string
	Previous models.Status
	Current  models.Status
}

// answerState tracks the per-answer machine: absent from the map is Idle,
// reconciling=false/dirty=true is Dirty, reconciling=true is Reconciling.
type answerState struct {
	dirty       bool
	reconciling bool
}

// Loop is the reconciliation engine. One instance serves all answers; state
// is per answer and answers reconcile independently of each other.
type Loop struct {
	answers AnswerStore
	rules   RuleCatalog
	gateway verification.Gateway
	metrics *metrics.Metrics
	logger  *slog.Logger

	settleDelay  time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	states  map[uuid.UUID]*answerState
	subs    map[uint64]chan Event
	nextSub uint64

	wake chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithSettleDelay sets how long a file upload settles in external storage
// before its verification request goes out.
func WithSettleDelay(d time.Duration) Option {
	return func(l *Loop) { l.settleDelay = d }
}

// WithPollInterval sets the verification polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.pollInterval = d }
}

func New(answers AnswerStore, rules RuleCatalog, gateway verification.Gateway, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		answers:      answers,
		rules:        rules,
		gateway:      gateway,
		metrics:      m,
		logger:       logger,
		settleDelay:  2 * time.Second,
		pollInterval: 10 * time.Second,
		states:       make(map[uuid.UUID]*answerState),
		subs:         make(map[uint64]chan Event),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// MarkDirty records that the answer's evidence changed and ensures exactly
// one reconciliation ends up running for it. Calls arriving while a
// reconciliation is in flight coalesce into a single trailing rerun.
func (l *Loop) MarkDirty(answerID uuid.UUID) {
	l.mu.Lock()
	st, ok := l.states[answerID]
	if !ok {
		st = &answerState{}
		l.states[answerID] = st
	}
	if st.reconciling {
		st.dirty = true
		l.mu.Unlock()
		l.metrics.RecordCoalesced()
		return
	}
	st.reconciling = true
	l.mu.Unlock()

	go l.reconcile(answerID)
}

func (l *Loop) reconcile(answerID uuid.UUID) {
	for {
		start := time.Now()
		err := l.pass(context.Background(), answerID)
		l.metrics.ObserveReconcile(time.Since(start).Seconds())

		l.mu.Lock()
		st := l.states[answerID]
		if err != nil {
			// Leave the answer dirty so the next triggering mutation
			// retries; the mismatched status is never reported reconciled.
			st.reconciling = false
			st.dirty = true
			l.mu.Unlock()
			l.logger.Error("reconciliation failed",
				"answer_id", answerID.String(),
				"error", err.Error(),
			)
			return
		}
		if st.dirty {
			st.dirty = false
			l.mu.Unlock()
			continue
		}
		st.reconciling = false
		delete(l.states, answerID)
		l.mu.Unlock()
		return
	}
}

// pass derives the answer's status once and persists it when it changed.
func (l *Loop) pass(ctx context.Context, answerID uuid.UUID) error {
	answer, err := l.answers.Get(ctx, answerID)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Deleted externally; nothing to reconcile.
		return nil
	}
	if err != nil {
		return err
	}

	rule, err := l.rules.FindRule(ctx, answer.RuleID)
	if err != nil {
		return err
	}

	derived, ok := derive.Derive(rule, answer)
	if ok {
		l.metrics.RecordDerivation(string(derived))
	}
	if ok && derived != answer.Status {
		if err := l.answers.UpdateStatus(ctx, answerID, derived); err != nil {
			return err
		}
		l.metrics.RecordStatusWrite()
		l.publish(Event{
			AnswerID: answer.ID,
			RuleID:   answer.RuleID,
			Subject:  answer.Subject,
			Previous: answer.Status,
			Current:  derived,
		})
	}

	if answer.HasPendingVerification() {
		l.wakePoller()
	}
	return nil
}

// Subscribe returns a channel of status-change events and a cancel func.
// Slow subscribers drop events rather than stall reconciliation; consumers
// needing completeness re-read the store.
func (l *Loop) Subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan Event, 16)
	l.subs[id] = ch
	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (l *Loop) publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ScheduleFileVerification asks the gateway to verify a freshly uploaded
// file after a settle delay, giving external storage time to commit the
// upload. The delay is policy: the verifier already tolerates reading early.
func (l *Loop) ScheduleFileVerification(answerID uuid.UUID, fileType string) {
	l.wakePoller()
	time.AfterFunc(l.settleDelay, func() {
		if err := l.gateway.RequestFileVerification(context.Background(), answerID, fileType); err != nil {
			l.logger.Error("file verification request failed",
				"answer_id", answerID.String(),
				"file_type", fileType,
				"error", err.Error(),
			)
		}
	})
}

func (l *Loop) wakePoller() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the polling fallback: while any answer has evidence pending
// verification, re-read that population every poll interval and re-derive
// it, then go idle once nothing is pending. Blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()
	armed := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			if !armed {
				timer.Reset(l.pollInterval)
				armed = true
			}
		case <-timer.C:
			armed = false
			l.metrics.RecordPollerTick()
			pending, err := l.answers.ListPendingVerification(ctx)
			if err != nil {
				l.logger.Error("verification poll failed", "error", err.Error())
			}
			for _, answer := range pending {
				l.MarkDirty(answer.ID)
			}
			if err != nil || len(pending) > 0 {
				timer.Reset(l.pollInterval)
				armed = true
			}
		}
	}
}
