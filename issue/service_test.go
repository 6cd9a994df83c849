package issue

import (
	"context"
	"errors"
	"testing"

	"civicflow/identity"
)

func citizenActor(id string) identity.Identity {
	return identity.Identity{ActorID: id, Role: identity.RoleCitizen}
}

func ptr[T any](v T) *T { return &v }

func TestCreate_Success(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepo()
	outbox := &fakeOutbox{}
	classify := func(ctx context.Context, title, description, category string) int {
		return PriorityHigh
	}
	svc := NewService(pool, repo, outbox, classify)

	is, err := svc.Create(context.Background(), CreateParams{
		ReporterID:  "citizen-a",
		Title:       "Water main break on Elm St",
		Description: ptr("Street flooding rapidly"),
		Category:    CategoryWaterLeak,
		Latitude:    ptr(40.7128),
		Longitude:   ptr(-74.006),
		Address:     ptr("12 Elm St"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if is.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", is.Status)
	}
	if is.Priority != PriorityHigh {
		t.Errorf("priority = %d, want %d", is.Priority, PriorityHigh)
	}
	if is.Location == nil || is.Location.Address != "12 Elm St" {
		t.Errorf("location not persisted: %+v", is.Location)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}

	if len(repo.updates) != 1 {
		t.Fatalf("expected creation audit row, got %d", len(repo.updates))
	}
	if repo.updates[0].OldStatus != nil {
		t.Errorf("creation audit row must have nil old status, got %v", *repo.updates[0].OldStatus)
	}
	if repo.updates[0].NewStatus != StatusSubmitted {
		t.Errorf("creation audit row new status = %s", repo.updates[0].NewStatus)
	}

	if len(outbox.entries) != 1 || outbox.entries[0].eventType != "INSERT" {
		t.Errorf("expected one INSERT outbox entry, got %+v", outbox.entries)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(), nil, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"empty title", CreateParams{ReporterID: "c", Title: "   ", Category: CategoryPothole}},
		{"unknown category", CreateParams{ReporterID: "c", Title: "t", Category: Category("sinkhole")}},
		{"partial location", CreateParams{ReporterID: "c", Title: "t", Category: CategoryPothole, Latitude: ptr(1.0)}},
		{"latitude out of range", CreateParams{ReporterID: "c", Title: "t", Category: CategoryPothole, Latitude: ptr(91.0), Longitude: ptr(0.0), Address: ptr("x")}},
		{"missing reporter", CreateParams{Title: "t", Category: CategoryPothole}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.params); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreate_NilClassifierDefaultsMedium(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(), nil, nil)

	is, err := svc.Create(context.Background(), CreateParams{
		ReporterID: "citizen-a",
		Title:      "Tagged wall",
		Category:   CategoryGraffiti,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if is.Priority != PriorityMedium {
		t.Errorf("priority = %d, want medium fallback", is.Priority)
	}
}

func TestCreate_OutOfRangeClassifierResultDefaultsMedium(t *testing.T) {
	classify := func(ctx context.Context, title, description, category string) int { return 7 }
	svc := NewService(&fakePool{}, newFakeRepo(), nil, classify)

	is, err := svc.Create(context.Background(), CreateParams{
		ReporterID: "citizen-a",
		Title:      "Flickering streetlight",
		Category:   CategoryBrokenStreetlight,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if is.Priority != PriorityMedium {
		t.Errorf("priority = %d, want medium fallback", is.Priority)
	}
}

func TestAttachFiles_DeduplicatesByURL(t *testing.T) {
	seed := seedIssue("issue-1", StatusSubmitted)
	seed.ReporterID = "citizen-a"
	seed.Attachments = []Attachment{{URL: "https://cdn/x/a.jpg", Kind: AttachmentPhoto}}
	repo := newFakeRepo(seed)
	svc := NewService(&fakePool{}, repo, &fakeOutbox{}, nil)

	is, err := svc.AttachFiles(context.Background(), citizenActor("citizen-a"), "issue-1", []Attachment{
		{URL: "https://cdn/x/a.jpg", Kind: AttachmentPhoto},
		{URL: "https://cdn/x/b.mp4", Kind: AttachmentVideo},
		{URL: "https://cdn/x/b.mp4", Kind: AttachmentVideo},
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(is.Attachments) != 2 {
		t.Fatalf("expected 2 attachments after dedup, got %d", len(is.Attachments))
	}
}

func TestAttachFiles_IdempotentReplay(t *testing.T) {
	seed := seedIssue("issue-1", StatusSubmitted)
	seed.ReporterID = "citizen-a"
	repo := newFakeRepo(seed)
	svc := NewService(&fakePool{}, repo, &fakeOutbox{}, nil)
	ctx := context.Background()
	actor := citizenActor("citizen-a")
	atts := []Attachment{{URL: "https://cdn/x/a.jpg", Kind: AttachmentPhoto}}

	if _, err := svc.AttachFiles(ctx, actor, "issue-1", atts); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	is, err := svc.AttachFiles(ctx, actor, "issue-1", atts)
	if err != nil {
		t.Fatalf("replayed attach: %v", err)
	}
	if len(is.Attachments) != 1 {
		t.Fatalf("expected 1 attachment after replay, got %d", len(is.Attachments))
	}
}

func TestAttachFiles_OnlyReporterOrStaff(t *testing.T) {
	seed := seedIssue("issue-1", StatusSubmitted)
	seed.ReporterID = "citizen-a"
	repo := newFakeRepo(seed)
	svc := NewService(&fakePool{}, repo, nil, nil)
	ctx := context.Background()
	atts := []Attachment{{URL: "https://cdn/x/a.jpg", Kind: AttachmentPhoto}}

	if _, err := svc.AttachFiles(ctx, citizenActor("citizen-b"), "issue-1", atts); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if _, err := svc.AttachFiles(ctx, staffActor("staff-1"), "issue-1", atts); err != nil {
		t.Fatalf("staff attach: %v", err)
	}
}

func TestAttachFiles_NotFound(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(), nil, nil)

	_, err := svc.AttachFiles(context.Background(), citizenActor("citizen-a"), "missing", []Attachment{
		{URL: "https://cdn/x/a.jpg", Kind: AttachmentPhoto},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachFiles_RejectsBadKind(t *testing.T) {
	seed := seedIssue("issue-1", StatusSubmitted)
	seed.ReporterID = "citizen-a"
	svc := NewService(&fakePool{}, newFakeRepo(seed), nil, nil)

	_, err := svc.AttachFiles(context.Background(), citizenActor("citizen-a"), "issue-1", []Attachment{
		{URL: "https://cdn/x/a.gif", Kind: AttachmentKind("animation")},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSetPriorityOverride_RoleGate(t *testing.T) {
	seed := seedIssue("issue-1", StatusSubmitted)
	repo := newFakeRepo(seed)
	svc := NewService(&fakePool{}, repo, nil, nil)
	ctx := context.Background()

	for _, actor := range []identity.Identity{
		citizenActor("citizen-a"),
		{ActorID: "fw-1", Role: identity.RoleFieldWorker},
	} {
		if _, err := svc.SetPriorityOverride(ctx, actor, "issue-1", PriorityLow); !errors.Is(err, ErrForbidden) {
			t.Errorf("role %s: expected ErrForbidden, got %v", actor.Role, err)
		}
	}

	v, err := svc.SetPriorityOverride(ctx, staffActor("staff-1"), "issue-1", PriorityLow)
	if err != nil {
		t.Fatalf("staff override: %v", err)
	}
	if v.Priority != PriorityLow {
		t.Errorf("priority = %d, want %d", v.Priority, PriorityLow)
	}
}

func TestSetPriorityOverride_InvalidValue(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(seedIssue("issue-1", StatusSubmitted)), nil, nil)

	_, err := svc.SetPriorityOverride(context.Background(), staffActor("staff-1"), "issue-1", 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGet_CitizenCannotFetchForeignIssue(t *testing.T) {
	seed := seedIssue("issue-1", StatusSubmitted)
	seed.ReporterID = "citizen-a"
	svc := NewService(&fakePool{}, newFakeRepo(seed), nil, nil)
	ctx := context.Background()

	if _, err := svc.Get(ctx, citizenActor("citizen-b"), "issue-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(ctx, citizenActor("citizen-a"), "issue-1"); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(ctx, staffActor("staff-1"), "issue-1"); err != nil {
		t.Fatalf("staff get: %v", err)
	}
}

func TestList_CitizenScopedToOwnReports(t *testing.T) {
	mine := seedIssue("issue-1", StatusSubmitted)
	mine.ReporterID = "citizen-a"
	other := seedIssue("issue-2", StatusSubmitted)
	other.ReporterID = "citizen-b"
	svc := NewService(&fakePool{}, newFakeRepo(mine, other), nil, nil)

	views, err := svc.List(context.Background(), citizenActor("citizen-a"), Filters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].ID != "issue-1" {
		t.Fatalf("citizen list leaked foreign issues: %+v", views)
	}

	staffViews, err := svc.List(context.Background(), staffActor("staff-1"), Filters{})
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if len(staffViews) != 2 {
		t.Fatalf("staff should see all issues, got %d", len(staffViews))
	}
}

func TestMergeAttachments(t *testing.T) {
	existing := []Attachment{
		{URL: "a", Kind: AttachmentPhoto},
		{URL: "b", Kind: AttachmentPhoto},
	}
	incoming := []Attachment{
		{URL: "b", Kind: AttachmentPhoto},
		{URL: "c", Kind: AttachmentVideo},
		{URL: "c", Kind: AttachmentVideo},
	}

	merged := mergeAttachments(existing, incoming)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged attachments, got %d", len(merged))
	}
	for i, want := range []string{"a", "b", "c"} {
		if merged[i].URL != want {
			t.Errorf("merged[%d] = %s, want %s", i, merged[i].URL, want)
		}
	}
}
