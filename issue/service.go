package issue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"civicflow/identity"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Classifier assigns an initial priority from the report text. It is
// advisory: implementations never fail, they fall back to medium.
type Classifier func(ctx context.Context, title, description, category string) int

// CreateParams carries a new report. Location fields are all-or-nothing;
// partially specified coordinates are rejected.
type CreateParams struct {
	ReporterID  string
	Title       string
	Description *string
	Category    Category

	Latitude  *float64
	Longitude *float64
	Address   *string
}

// Service owns issue records: creation, attachments, reads and the
// staff priority override. Status changes go through the Engine.
type Service struct {
	pool     TxBeginner
	repo     Repository
	outbox   OutboxWriter
	classify Classifier

	idGenerator func() string
	now         func() time.Time
}

// NewService wires the issue store. classify may be nil, in which case
// every new issue starts at medium priority.
func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter, classify Classifier) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		classify:    classify,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithIDGenerator overrides id generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and persists a new report. The issue row, its
// creation audit row and the change-feed entry commit atomically; the
// classifier runs first and can only delay creation up to its own
// deadline, never fail it.
func (s *Service) Create(ctx context.Context, params CreateParams) (Issue, error) {
	if params.ReporterID == "" {
		return Issue{}, fmt.Errorf("%w: missing reporter id", ErrInvalidInput)
	}

	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Issue{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !ValidCategory(params.Category) {
		return Issue{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, params.Category)
	}

	location, err := buildLocation(params.Latitude, params.Longitude, params.Address)
	if err != nil {
		return Issue{}, err
	}

	priority := PriorityMedium
	if s.classify != nil {
		var description string
		if params.Description != nil {
			description = *params.Description
		}
		priority = s.classify(ctx, title, description, string(params.Category))
		if !ValidPriority(priority) {
			priority = PriorityMedium
		}
	}

	now := s.now()
	is := Issue{
		ID:          s.idGenerator(),
		ReporterID:  params.ReporterID,
		Title:       title,
		Description: params.Description,
		Category:    params.Category,
		Status:      StatusSubmitted,
		Priority:    priority,
		Location:    location,
		Attachments: []Attachment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Issue{}, fmt.Errorf("issue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIssue(ctx, tx, is); err != nil {
		return Issue{}, err
	}

	if err := s.repo.AppendUpdate(ctx, tx, Update{
		ID:        s.idGenerator(),
		IssueID:   is.ID,
		UserID:    params.ReporterID,
		OldStatus: nil,
		NewStatus: StatusSubmitted,
		CreatedAt: now,
	}); err != nil {
		return Issue{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, "issues", "INSERT", map[string]any{
			"id":       is.ID,
			"category": is.Category,
		}); err != nil {
			return Issue{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Issue{}, fmt.Errorf("issue: commit create: %w", err)
	}

	return is, nil
}

// AttachFiles appends uploaded file URLs to an issue. Appends are
// idempotent per URL: duplicates are ignored, never re-appended. Only
// the reporter or staff may attach.
func (s *Service) AttachFiles(ctx context.Context, actor identity.Identity, issueID string, atts []Attachment) (Issue, error) {
	if issueID == "" {
		return Issue{}, fmt.Errorf("%w: missing issue id", ErrInvalidInput)
	}
	for _, a := range atts {
		if strings.TrimSpace(a.URL) == "" {
			return Issue{}, fmt.Errorf("%w: attachment url is required", ErrInvalidInput)
		}
		if !validAttachmentKind(a.Kind) {
			return Issue{}, fmt.Errorf("%w: unknown attachment kind %q", ErrInvalidInput, a.Kind)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Issue{}, fmt.Errorf("issue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	is, err := s.repo.GetIssueForUpdate(ctx, tx, issueID)
	if err != nil {
		return Issue{}, err
	}
	if !actor.IsStaff() && is.ReporterID != actor.ActorID {
		return Issue{}, fmt.Errorf("%w: only the reporter may attach files", ErrForbidden)
	}

	merged := mergeAttachments(is.Attachments, atts)
	if len(merged) == len(is.Attachments) {
		// Nothing new; skip the write but still succeed.
		return is, tx.Commit(ctx)
	}

	photos, videos := splitAttachments(merged)
	if err := s.repo.SetAttachments(ctx, tx, issueID, photos, videos); err != nil {
		return Issue{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, "issues", "UPDATE", map[string]any{
			"id":     issueID,
			"change": "attachments",
		}); err != nil {
			return Issue{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Issue{}, fmt.Errorf("issue: commit attach: %w", err)
	}

	is.Attachments = merged
	return is, nil
}

// Get returns a single issue projected for the actor. Citizens can only
// fetch their own reports directly; everything else goes through the
// public listing.
func (s *Service) Get(ctx context.Context, actor identity.Identity, issueID string) (View, error) {
	is, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return View{}, err
	}
	if !actor.IsStaff() && is.ReporterID != actor.ActorID {
		return View{}, fmt.Errorf("%w: not the reporter", ErrForbidden)
	}
	return ViewOf(is), nil
}

// List returns issues visible to the actor, newest first. Citizen
// queries are constrained to their own reports at the query level and
// the projection is applied on top as the single authorization
// checkpoint.
func (s *Service) List(ctx context.Context, actor identity.Identity, filters Filters) ([]View, error) {
	if !actor.IsStaff() {
		filters.ReporterID = actor.ActorID
	}

	issues, err := s.repo.ListIssues(ctx, filters)
	if err != nil {
		return nil, err
	}
	return FilterForRole(issues, actor), nil
}

// ListPublic returns the community listing: every issue, stripped of
// reporter identity and assignment fields, for any authenticated actor.
func (s *Service) ListPublic(ctx context.Context, filters Filters) ([]PublicView, error) {
	// Reporter filtering is a private concern; the community listing
	// never keys on it.
	filters.ReporterID = ""

	issues, err := s.repo.ListIssues(ctx, filters)
	if err != nil {
		return nil, err
	}

	views := make([]PublicView, 0, len(issues))
	for _, is := range issues {
		views = append(views, PublicViewOf(is))
	}
	return views, nil
}

// ListUpdates returns the audit trail projected for the actor. Internal
// notes are visible to staff only.
func (s *Service) ListUpdates(ctx context.Context, actor identity.Identity, issueID string) ([]UpdateView, error) {
	is, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && is.ReporterID != actor.ActorID {
		return nil, fmt.Errorf("%w: not the reporter", ErrForbidden)
	}

	updates, err := s.repo.ListUpdates(ctx, issueID)
	if err != nil {
		return nil, err
	}
	return UpdateViewsForRole(updates, actor), nil
}

// SetPriorityOverride applies an administrative priority change. Only
// staff and admin may override; the change is deliberately not audited.
func (s *Service) SetPriorityOverride(ctx context.Context, actor identity.Identity, issueID string, priority int) (View, error) {
	if !actor.CanOverridePriority() {
		return View{}, fmt.Errorf("%w: role %s may not override priority", ErrForbidden, actor.Role)
	}
	if !ValidPriority(priority) {
		return View{}, fmt.Errorf("%w: priority must be 1, 2 or 3", ErrInvalidInput)
	}

	is, err := s.repo.SetPriority(ctx, issueID, priority)
	if err != nil {
		return View{}, err
	}
	return ViewOf(is), nil
}

// buildLocation enforces the all-or-nothing location invariant.
func buildLocation(lat, lng *float64, addr *string) (*Location, error) {
	if lat == nil && lng == nil && addr == nil {
		return nil, nil
	}
	if lat == nil || lng == nil || addr == nil {
		return nil, fmt.Errorf("%w: location requires latitude, longitude and address together", ErrInvalidInput)
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	}
	return &Location{Latitude: *lat, Longitude: *lng, Address: *addr}, nil
}

// mergeAttachments appends the new attachments that are not already
// present, keyed by URL. Order is preserved: existing first, then new
// arrivals in request order.
func mergeAttachments(existing, incoming []Attachment) []Attachment {
	seen := make(map[string]struct{}, len(existing))
	merged := make([]Attachment, 0, len(existing)+len(incoming))
	for _, a := range existing {
		if _, dup := seen[a.URL]; dup {
			continue
		}
		seen[a.URL] = struct{}{}
		merged = append(merged, a)
	}
	for _, a := range incoming {
		if _, dup := seen[a.URL]; dup {
			continue
		}
		seen[a.URL] = struct{}{}
		merged = append(merged, a)
	}
	return merged
}
