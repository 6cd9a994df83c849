package issue

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakePool and fakeTx satisfy just enough of pgx for the service and
// engine, which only begin, commit and roll back.
type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

// fakeRepo keeps issues and audit rows in memory, mirroring the SQL
// semantics the engine relies on (CAS, resolved_at latching).
type fakeRepo struct {
	issues  map[string]Issue
	updates []Update

	forceCASMiss bool
	appendErr    error
}

func newFakeRepo(seed ...Issue) *fakeRepo {
	r := &fakeRepo{issues: make(map[string]Issue)}
	for _, is := range seed {
		r.issues[is.ID] = is
	}
	return r
}

func (r *fakeRepo) InsertIssue(ctx context.Context, tx pgx.Tx, is Issue) error {
	r.issues[is.ID] = is
	return nil
}

func (r *fakeRepo) GetIssue(ctx context.Context, id string) (Issue, error) {
	is, ok := r.issues[id]
	if !ok {
		return Issue{}, ErrNotFound
	}
	return is, nil
}

func (r *fakeRepo) GetIssueTx(ctx context.Context, tx pgx.Tx, id string) (Issue, error) {
	return r.GetIssue(ctx, id)
}

func (r *fakeRepo) GetIssueForUpdate(ctx context.Context, tx pgx.Tx, id string) (Issue, error) {
	return r.GetIssue(ctx, id)
}

func (r *fakeRepo) ListIssues(ctx context.Context, filters Filters) ([]Issue, error) {
	list := []Issue{}
	for _, is := range r.issues {
		if filters.ReporterID != "" && is.ReporterID != filters.ReporterID {
			continue
		}
		if filters.Status != "" && is.Status != filters.Status {
			continue
		}
		if filters.Category != "" && is.Category != filters.Category {
			continue
		}
		if filters.HasLocation != nil && *filters.HasLocation != (is.Location != nil) {
			continue
		}
		list = append(list, is)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (r *fakeRepo) UpdateStatusCAS(ctx context.Context, tx pgx.Tx, params CASParams) (Issue, bool, error) {
	is, ok := r.issues[params.IssueID]
	if !ok {
		return Issue{}, false, nil
	}
	if r.forceCASMiss || is.Status != params.OldStatus {
		return Issue{}, false, nil
	}

	is.Status = params.NewStatus
	is.UpdatedAt = time.Now()
	if params.NewStatus == StatusResolved && is.ResolvedAt == nil {
		now := time.Now()
		is.ResolvedAt = &now
	}
	if params.AssignedTo != nil {
		is.AssignedTo = params.AssignedTo
	}
	if params.AssignedDepartment != nil {
		is.AssignedDepartment = params.AssignedDepartment
	}
	r.issues[params.IssueID] = is
	return is, true, nil
}

func (r *fakeRepo) SetAttachments(ctx context.Context, tx pgx.Tx, id string, photos, videos []string) error {
	is, ok := r.issues[id]
	if !ok {
		return ErrNotFound
	}
	is.Attachments = joinAttachments(photos, videos)
	r.issues[id] = is
	return nil
}

func (r *fakeRepo) SetPriority(ctx context.Context, id string, priority int) (Issue, error) {
	is, ok := r.issues[id]
	if !ok {
		return Issue{}, ErrNotFound
	}
	is.Priority = priority
	r.issues[id] = is
	return is, nil
}

func (r *fakeRepo) AppendUpdate(ctx context.Context, tx pgx.Tx, up Update) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.updates = append(r.updates, up)
	return nil
}

func (r *fakeRepo) ListUpdates(ctx context.Context, issueID string) ([]Update, error) {
	list := []Update{}
	for _, up := range r.updates {
		if up.IssueID == issueID {
			list = append(list, up)
		}
	}
	return list, nil
}

type enqueued struct {
	table     string
	eventType string
	payload   map[string]any
}

type fakeOutbox struct {
	entries []enqueued
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, table, eventType string, payload map[string]any) error {
	f.entries = append(f.entries, enqueued{table: table, eventType: eventType, payload: payload})
	return nil
}

type fakeDispatcher struct {
	events []TransitionEvent
	err    error
}

func (f *fakeDispatcher) OnTransition(ctx context.Context, ev TransitionEvent) error {
	f.events = append(f.events, ev)
	return f.err
}
