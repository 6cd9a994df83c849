package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"civicflow/issue"
)

// statusMessages maps each status to the text the reporter sees.
var statusMessages = map[issue.Status]struct {
	title   string
	message string
}{
	issue.StatusAcknowledged: {
		title:   "Issue acknowledged",
		message: "Your report %q has been acknowledged by city staff.",
	},
	issue.StatusAssigned: {
		title:   "Issue assigned",
		message: "Your report %q has been assigned to a department for resolution.",
	},
	issue.StatusInProgress: {
		title:   "Work in progress",
		message: "Work has started on your report %q.",
	},
	issue.StatusOnHold: {
		title:   "Issue on hold",
		message: "Your report %q has been placed on hold.",
	},
	issue.StatusResolved: {
		title:   "Issue resolved",
		message: "Your report %q has been resolved. Thank you for reporting it.",
	},
	issue.StatusSubmitted: {
		title:   "Issue reopened",
		message: "Your report %q has been returned to the submitted queue.",
	},
}

// Service creates and reads notifications. It implements issue.Dispatcher
// so status transitions fan out to the reporter.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

// NewService creates a notification service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		logger:      logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithIDGenerator overrides id generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OnTransition notifies the reporter about a status change. Actors are not
// notified about their own actions.
func (s *Service) OnTransition(ctx context.Context, ev issue.TransitionEvent) error {
	if ev.Issue.ReporterID == ev.ActorID {
		return nil
	}

	text, ok := statusMessages[ev.NewStatus]
	if !ok {
		text.title = "Issue updated"
		text.message = "Your report %q has a new status."
	}

	n := Notification{
		ID:        s.idGenerator(),
		UserID:    ev.Issue.ReporterID,
		IssueID:   ev.Issue.ID,
		Title:     text.title,
		Message:   fmt.Sprintf(text.message, ev.Issue.Title),
		Type:      TypeStatusUpdate,
		Read:      false,
		CreatedAt: s.now(),
	}
	if err := s.repo.Insert(ctx, n); err != nil {
		return fmt.Errorf("notification: on transition: %w", err)
	}

	s.logger.Debug("notification created",
		"notification_id", n.ID, "user_id", n.UserID, "issue_id", n.IssueID, "status", ev.NewStatus)
	return nil
}

// MarkRead marks a notification as read. Only the recipient may do so.
func (s *Service) MarkRead(ctx context.Context, notificationID, actorID string) error {
	n, err := s.repo.Get(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != actorID {
		return ErrForbidden
	}
	if n.Read {
		return nil
	}
	return s.repo.MarkRead(ctx, notificationID)
}

// ListUnread returns the actor's unread notifications, newest first.
func (s *Service) ListUnread(ctx context.Context, actorID string) ([]Notification, error) {
	return s.repo.ListUnread(ctx, actorID)
}
