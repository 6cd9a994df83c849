package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"civicflow/issue"
)

type fakeRepo struct {
	inserted []Notification
	byID     map[string]Notification
	marked   []string

	insertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]Notification{}}
}

func (f *fakeRepo) Insert(ctx context.Context, n Notification) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, n)
	f.byID[n.ID] = n
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Notification, error) {
	n, ok := f.byID[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (f *fakeRepo) MarkRead(ctx context.Context, id string) error {
	n, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	f.byID[id] = n
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeRepo) ListUnread(ctx context.Context, userID string) ([]Notification, error) {
	var out []Notification
	for _, n := range f.byID {
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func newTestService(repo Repository) *Service {
	seq := 0
	return NewService(repo, slog.New(slog.NewTextHandler(&strings.Builder{}, nil))).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("ntf-%d", seq)
		}).
		WithClock(func() time.Time {
			return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		})
}

func transitionEvent(reporterID, actorID string, next issue.Status) issue.TransitionEvent {
	return issue.TransitionEvent{
		Issue: issue.Issue{
			ID:         "iss-1",
			ReporterID: reporterID,
			Title:      "Pothole on Main St",
			Status:     next,
		},
		OldStatus: issue.StatusSubmitted,
		NewStatus: next,
		ActorID:   actorID,
	}
}

func TestOnTransitionNotifiesReporter(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	err := svc.OnTransition(context.Background(), transitionEvent("citizen-1", "staff-1", issue.StatusAcknowledged))
	if err != nil {
		t.Fatalf("OnTransition() error = %v", err)
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("inserted = %d notifications, want 1", len(repo.inserted))
	}
	n := repo.inserted[0]
	if n.UserID != "citizen-1" {
		t.Errorf("UserID = %q, want citizen-1", n.UserID)
	}
	if n.IssueID != "iss-1" {
		t.Errorf("IssueID = %q, want iss-1", n.IssueID)
	}
	if n.Type != TypeStatusUpdate {
		t.Errorf("Type = %q, want %q", n.Type, TypeStatusUpdate)
	}
	if n.Read {
		t.Error("new notification should be unread")
	}
	if !strings.Contains(n.Message, "Pothole on Main St") {
		t.Errorf("message %q should mention the issue title", n.Message)
	}
}

func TestOnTransitionSkipsSelfNotification(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	err := svc.OnTransition(context.Background(), transitionEvent("staff-1", "staff-1", issue.StatusResolved))
	if err != nil {
		t.Fatalf("OnTransition() error = %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("inserted = %d notifications, want 0 for self transition", len(repo.inserted))
	}
}

func TestOnTransitionMessagePerStatus(t *testing.T) {
	cases := []struct {
		status    issue.Status
		wantTitle string
	}{
		{issue.StatusAcknowledged, "Issue acknowledged"},
		{issue.StatusAssigned, "Issue assigned"},
		{issue.StatusInProgress, "Work in progress"},
		{issue.StatusOnHold, "Issue on hold"},
		{issue.StatusResolved, "Issue resolved"},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(repo)

			if err := svc.OnTransition(context.Background(), transitionEvent("citizen-1", "staff-1", tc.status)); err != nil {
				t.Fatalf("OnTransition() error = %v", err)
			}
			if len(repo.inserted) != 1 {
				t.Fatalf("inserted = %d, want 1", len(repo.inserted))
			}
			if got := repo.inserted[0].Title; got != tc.wantTitle {
				t.Errorf("Title = %q, want %q", got, tc.wantTitle)
			}
		})
	}
}

func TestOnTransitionInsertFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = errors.New("db down")
	svc := newTestService(repo)

	err := svc.OnTransition(context.Background(), transitionEvent("citizen-1", "staff-1", issue.StatusAcknowledged))
	if err == nil {
		t.Fatal("OnTransition() should surface repository errors")
	}
}

func TestMarkReadRecipientOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	if err := svc.OnTransition(context.Background(), transitionEvent("citizen-1", "staff-1", issue.StatusAcknowledged)); err != nil {
		t.Fatalf("OnTransition() error = %v", err)
	}
	id := repo.inserted[0].ID

	if err := svc.MarkRead(context.Background(), id, "other-user"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("MarkRead by non-recipient = %v, want ErrForbidden", err)
	}
	if err := svc.MarkRead(context.Background(), id, "citizen-1"); err != nil {
		t.Fatalf("MarkRead by recipient error = %v", err)
	}
	if len(repo.marked) != 1 || repo.marked[0] != id {
		t.Fatalf("marked = %v, want [%s]", repo.marked, id)
	}

	// Replaying the same read is a no-op.
	if err := svc.MarkRead(context.Background(), id, "citizen-1"); err != nil {
		t.Fatalf("MarkRead replay error = %v", err)
	}
	if len(repo.marked) != 1 {
		t.Fatalf("replay should not mark again, marked = %v", repo.marked)
	}
}

func TestMarkReadUnknownNotification(t *testing.T) {
	svc := newTestService(newFakeRepo())

	if err := svc.MarkRead(context.Background(), "missing", "citizen-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkRead unknown id = %v, want ErrNotFound", err)
	}
}

func TestListUnreadScopedToActor(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	for _, reporter := range []string{"citizen-1", "citizen-1", "citizen-2"} {
		if err := svc.OnTransition(context.Background(), transitionEvent(reporter, "staff-1", issue.StatusAcknowledged)); err != nil {
			t.Fatalf("OnTransition() error = %v", err)
		}
	}

	list, err := svc.ListUnread(context.Background(), "citizen-1")
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListUnread = %d notifications, want 2", len(list))
	}
	for _, n := range list {
		if n.UserID != "citizen-1" {
			t.Errorf("notification %s belongs to %s, want citizen-1", n.ID, n.UserID)
		}
	}
}
