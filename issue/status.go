package issue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"civicflow/identity"
)

// transitions is the legality table: current status to the set of states
// reachable from it. The state machine is data, not control flow; an
// empty set marks a terminal state.
var transitions = map[Status][]Status{
	StatusSubmitted:    {StatusAcknowledged},
	StatusAcknowledged: {StatusAssigned},
	StatusAssigned:     {StatusInProgress, StatusOnHold},
	StatusInProgress:   {StatusOnHold, StatusResolved},
	StatusOnHold:       {StatusInProgress, StatusResolved},
	StatusResolved:     {},
}

// CanTransition reports whether the edge from -> to is legal. A
// transition to the current status is never legal: no-op rows would
// corrupt the audit trail's meaning.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal targets from a given status.
func NextStatuses(from Status) []Status {
	next := transitions[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// TransitionEvent describes an accepted transition, handed to the
// notification dispatcher after commit.
type TransitionEvent struct {
	Issue     Issue
	OldStatus Status
	NewStatus Status
	ActorID   string
}

// Dispatcher receives transition events. Delivery is at-least-once and
// best-effort; implementations must tolerate duplicate invocation.
type Dispatcher interface {
	OnTransition(ctx context.Context, ev TransitionEvent) error
}

// TransitionParams carries one transition request.
type TransitionParams struct {
	IssueID    string
	Actor      identity.Identity
	NextStatus Status

	Notes         *string
	InternalNotes *string

	// AssignTo/AssignDepartment may be set on the assigned edge or any
	// later staff/admin transition.
	AssignTo         *string
	AssignDepartment *string
}

// Engine serializes status changes per issue. The read-check-write
// sequence runs inside a single transaction with a compare-and-swap on
// the current status; a losing concurrent writer gets
// ErrConcurrentModification and must retry.
type Engine struct {
	pool       TxBeginner
	repo       Repository
	outbox     OutboxWriter
	dispatcher Dispatcher
	logger     *slog.Logger

	idGenerator func() string
	now         func() time.Time
}

// NewEngine wires the transition engine. dispatcher and outbox may be
// nil in tests; logger defaults to slog.Default.
func NewEngine(pool TxBeginner, repo Repository, outbox OutboxWriter, dispatcher Dispatcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		dispatcher:  dispatcher,
		logger:      logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithIDGenerator overrides audit row id generation, for tests.
func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGenerator = gen
	return e
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Transition validates and applies one status change. On success the
// issue row, one audit row and one outbox row are committed atomically;
// afterwards the dispatcher is invoked with the same event. Dispatch
// failures are logged and never roll back the transition.
func (e *Engine) Transition(ctx context.Context, params TransitionParams) (Issue, error) {
	if params.IssueID == "" {
		return Issue{}, fmt.Errorf("%w: missing issue id", ErrInvalidInput)
	}
	if !ValidStatus(params.NextStatus) {
		return Issue{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, params.NextStatus)
	}
	if !params.Actor.IsStaff() {
		return Issue{}, fmt.Errorf("%w: role %s may not transition issues", ErrForbidden, params.Actor.Role)
	}
	if (params.AssignTo != nil || params.AssignDepartment != nil) &&
		params.Actor.Role != identity.RoleStaff && params.Actor.Role != identity.RoleAdmin {
		return Issue{}, fmt.Errorf("%w: role %s may not assign issues", ErrForbidden, params.Actor.Role)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Issue{}, fmt.Errorf("issue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := e.repo.GetIssueTx(ctx, tx, params.IssueID)
	if err != nil {
		return Issue{}, err
	}

	if !CanTransition(current.Status, params.NextStatus) {
		return Issue{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, params.NextStatus)
	}

	updated, matched, err := e.repo.UpdateStatusCAS(ctx, tx, CASParams{
		IssueID:            params.IssueID,
		OldStatus:          current.Status,
		NewStatus:          params.NextStatus,
		AssignedTo:         params.AssignTo,
		AssignedDepartment: params.AssignDepartment,
	})
	if err != nil {
		return Issue{}, err
	}
	if !matched {
		// The row moved under us between the read and the conditional
		// update; the caller retries against the fresh state.
		return Issue{}, fmt.Errorf("%w: issue %s left %s concurrently", ErrConcurrentModification, params.IssueID, current.Status)
	}

	oldStatus := current.Status
	if err := e.repo.AppendUpdate(ctx, tx, Update{
		ID:            e.idGenerator(),
		IssueID:       params.IssueID,
		UserID:        params.Actor.ActorID,
		OldStatus:     &oldStatus,
		NewStatus:     params.NextStatus,
		Notes:         params.Notes,
		InternalNotes: params.InternalNotes,
		CreatedAt:     e.now(),
	}); err != nil {
		return Issue{}, err
	}

	if e.outbox != nil {
		if err := e.outbox.Enqueue(ctx, tx, "issues", "UPDATE", map[string]any{
			"id":         params.IssueID,
			"old_status": oldStatus,
			"new_status": params.NextStatus,
		}); err != nil {
			return Issue{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Issue{}, fmt.Errorf("issue: commit transition: %w", err)
	}

	if e.dispatcher != nil {
		ev := TransitionEvent{
			Issue:     updated,
			OldStatus: oldStatus,
			NewStatus: params.NextStatus,
			ActorID:   params.Actor.ActorID,
		}
		if err := e.dispatcher.OnTransition(ctx, ev); err != nil {
			e.logger.Warn("notification dispatch failed",
				"issue_id", params.IssueID,
				"new_status", params.NextStatus,
				"error", err)
		}
	}

	return updated, nil
}
