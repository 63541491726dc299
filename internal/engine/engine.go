// Package engine orchestrates the vote pipeline: cast, recompute, event
// status write-back, trust feedback, and change notification.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crowdguard/veritas/internal/consensus"
	"github.com/crowdguard/veritas/internal/feedback"
	"github.com/crowdguard/veritas/internal/geo"
	"github.com/crowdguard/veritas/internal/ledger"
	"github.com/crowdguard/veritas/internal/notify"
)

// Store is the slice of the backing store the engine itself touches.
type Store interface {
	GetEvent(ctx context.Context, eventID string) (*ledger.Event, error)
	CreateEvent(ctx context.Context, evt ledger.Event) error
	UpdateEventStatus(ctx context.Context, eventID string, status ledger.EventStatus) error
}

// Publisher receives engine signals. Implementations must tolerate being
// called from the cast path; the engine ignores publish failures beyond
// logging them.
type Publisher interface {
	PublishConsensusChanged(evt notify.ConsensusChanged) error
	PublishVoteAccepted(evt notify.VoteAccepted) error
}

// Engine serializes all work per event. Votes on different events never
// contend on the same lock. The prior verdict is read from the persisted
// event status, so transition detection survives restarts and is shared by
// every engine over the same store.
type Engine struct {
	ledger    *ledger.Ledger
	calc      *consensus.Calculator
	feedback  *feedback.Engine
	store     Store
	publisher Publisher // optional
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*eventLock
}

// eventLock is a per-event mutex with a waiter count so idle entries can be
// evicted.
type eventLock struct {
	mu   sync.Mutex
	refs int
}

func New(l *ledger.Ledger, calc *consensus.Calculator, fb *feedback.Engine, store Store, publisher Publisher, logger *slog.Logger) *Engine {
	initMetrics()
	return &Engine{
		ledger:    l,
		calc:      calc,
		feedback:  fb,
		store:     store,
		publisher: publisher,
		logger:    logger,
		locks:     make(map[string]*eventLock),
	}
}

// CastVote records a vote and synchronously recomputes the event's
// consensus. The cast and the recompute hold the event's lock together, so
// concurrent casts on one event serialize while other events proceed.
func (e *Engine) CastVote(ctx context.Context, eventID, voterID string, voteType ledger.VoteType, location *geo.Point) (*ledger.Vote, consensus.Result, error) {
	lock := e.lockEvent(eventID)
	defer e.unlockEvent(eventID, lock)

	vote, err := e.ledger.Cast(ctx, eventID, voterID, voteType, location)
	if err != nil {
		recordVote(string(voteType), "rejected")
		return nil, consensus.Result{}, err
	}
	recordVote(string(voteType), "accepted")

	if e.publisher != nil {
		if err := e.publisher.PublishVoteAccepted(notify.VoteAccepted{
			EventID:  vote.EventID,
			VoterID:  vote.VoterID,
			VoteType: string(vote.Type),
			CastAt:   vote.CastAt,
		}); err != nil {
			e.logger.Warn("failed to publish vote accepted", "event_id", eventID, "error", err)
		}
	}

	result, err := e.recompute(ctx, eventID)
	if err != nil {
		// The vote is durably recorded; a failed recompute is surfaced but
		// the next cast or read converges to the same result.
		return vote, consensus.Result{}, fmt.Errorf("recompute after cast: %w", err)
	}
	return vote, result, nil
}

// RegisterEvent records an event from the reporting flow so votes can be
// cast against it. Registration is idempotent on the event id; the first
// write wins.
func (e *Engine) RegisterEvent(ctx context.Context, evt ledger.Event) error {
	if evt.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if evt.Severity < 1 || evt.Severity > 5 {
		return fmt.Errorf("severity must be between 1 and 5, got %d", evt.Severity)
	}
	if !evt.Location.Valid() {
		return fmt.Errorf("event location is out of range")
	}
	if evt.Status == "" {
		evt.Status = ledger.StatusPending
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	if err := e.store.CreateEvent(ctx, evt); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	e.logger.Info("event registered", "event_id", evt.ID, "severity", evt.Severity)
	return nil
}

// Consensus recomputes the event's result on demand without casting.
func (e *Engine) Consensus(ctx context.Context, eventID string) (consensus.Result, error) {
	lock := e.lockEvent(eventID)
	defer e.unlockEvent(eventID, lock)

	evt, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return consensus.Result{}, err
	}
	if evt == nil {
		return consensus.Result{}, fmt.Errorf("%w: %s", ledger.ErrUnknownEvent, eventID)
	}

	votes, err := e.ledger.Votes(ctx, eventID)
	if err != nil {
		return consensus.Result{}, err
	}
	return e.calc.Compute(eventID, votes), nil
}

// Overturn administratively replaces an event's verdict and re-runs trust
// feedback against the corrected outcome.
func (e *Engine) Overturn(ctx context.Context, eventID string, verdict consensus.Verdict) (consensus.Result, error) {
	if verdict != consensus.VerdictConfirm && verdict != consensus.VerdictDispute {
		return consensus.Result{}, fmt.Errorf("cannot overturn to %q", verdict)
	}

	lock := e.lockEvent(eventID)
	defer e.unlockEvent(eventID, lock)

	evt, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return consensus.Result{}, err
	}
	if evt == nil {
		return consensus.Result{}, fmt.Errorf("%w: %s", ledger.ErrUnknownEvent, eventID)
	}

	votes, err := e.ledger.Votes(ctx, eventID)
	if err != nil {
		return consensus.Result{}, err
	}

	result := e.calc.Compute(eventID, votes)
	old := statusVerdict(evt.Status)
	result.Verdict = verdict
	result.Confidence = 0.95

	// Overturning to the verdict already on record is a no-op; feedback has
	// already been applied for it.
	if old == verdict {
		return result, nil
	}

	if err := e.applyTransition(ctx, evt, votes, old, result); err != nil {
		return result, err
	}
	e.logger.Info("verdict overturned", "event_id", eventID, "old", string(old), "new", string(verdict))
	return result, nil
}

func (e *Engine) recompute(ctx context.Context, eventID string) (consensus.Result, error) {
	start := time.Now()
	defer func() { observeRecompute(time.Since(start)) }()

	evt, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return consensus.Result{}, err
	}
	if evt == nil {
		return consensus.Result{}, fmt.Errorf("%w: %s", ledger.ErrUnknownEvent, eventID)
	}

	votes, err := e.ledger.Votes(ctx, eventID)
	if err != nil {
		return consensus.Result{}, err
	}

	result := e.calc.Compute(eventID, votes)
	for _, tag := range result.Anomalies {
		recordAnomaly(string(tag))
	}

	old := statusVerdict(evt.Status)
	if old == result.Verdict {
		return result, nil
	}
	if err := e.applyTransition(ctx, evt, votes, old, result); err != nil {
		return result, err
	}
	return result, nil
}

// applyTransition performs the side effects of a verdict change: event
// status write-back, trust feedback, and the change notification.
func (e *Engine) applyTransition(ctx context.Context, evt *ledger.Event, votes []ledger.Vote, old consensus.Verdict, result consensus.Result) error {
	if err := e.store.UpdateEventStatus(ctx, evt.ID, verdictStatus(result.Verdict)); err != nil {
		return fmt.Errorf("write event status: %w", err)
	}

	if result.Verdict != consensus.VerdictUndecided {
		if err := e.feedback.Apply(ctx, evt, votes, result); err != nil {
			// Feedback is best effort: a partial failure must not roll
			// back the verdict.
			e.logger.Error("trust feedback incomplete", "event_id", evt.ID, "error", err)
		}
	}

	recordTransition(string(result.Verdict))

	if e.publisher != nil {
		if err := e.publisher.PublishConsensusChanged(notify.ConsensusChanged{
			EventID:    evt.ID,
			OldVerdict: string(old),
			NewVerdict: string(result.Verdict),
			Confidence: result.Confidence,
			ChangedAt:  time.Now().UTC(),
		}); err != nil {
			e.logger.Warn("failed to publish consensus change", "event_id", evt.ID, "error", err)
		}
	}

	e.logger.Info("consensus changed",
		"event_id", evt.ID,
		"old_verdict", string(old),
		"new_verdict", string(result.Verdict),
		"confidence", result.Confidence,
	)
	return nil
}

func verdictStatus(v consensus.Verdict) ledger.EventStatus {
	switch v {
	case consensus.VerdictConfirm:
		return ledger.StatusConfirmed
	case consensus.VerdictDispute:
		return ledger.StatusDisputed
	default:
		return ledger.StatusPending
	}
}

// statusVerdict reads the last applied verdict back out of the persisted
// event status. Pending and expired events carry no verdict.
func statusVerdict(s ledger.EventStatus) consensus.Verdict {
	switch s {
	case ledger.StatusConfirmed:
		return consensus.VerdictConfirm
	case ledger.StatusDisputed:
		return consensus.VerdictDispute
	default:
		return consensus.VerdictUndecided
	}
}

// lockEvent acquires the per-event mutex, creating it on first use.
func (e *Engine) lockEvent(eventID string) *eventLock {
	e.mu.Lock()
	lock, ok := e.locks[eventID]
	if !ok {
		lock = &eventLock{}
		e.locks[eventID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockEvent releases the mutex and drops the map entry once nobody holds
// or awaits it, so resolved events do not pin memory.
func (e *Engine) unlockEvent(eventID string, lock *eventLock) {
	lock.mu.Unlock()

	e.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.locks, eventID)
	}
	e.mu.Unlock()
}
