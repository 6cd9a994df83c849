package issue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInvalidInput signals malformed or missing required fields.
	ErrInvalidInput = errors.New("issue: invalid input")
	// ErrNotFound is returned when no issue row exists for the identifier.
	ErrNotFound = errors.New("issue: not found")
	// ErrForbidden signals the actor lacks the role for the mutation.
	ErrForbidden = errors.New("issue: forbidden")
	// ErrInvalidTransition signals a status change outside the legality table.
	ErrInvalidTransition = errors.New("issue: invalid transition")
	// ErrConcurrentModification signals a lost compare-and-swap race; the
	// caller should re-read and retry.
	ErrConcurrentModification = errors.New("issue: concurrent modification")
)

// OutboxWriter enqueues change-feed rows inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, table, eventType string, payload map[string]any) error
}

// CASParams is the conditional status write: the update only lands when
// the row still carries OldStatus.
type CASParams struct {
	IssueID            string
	OldStatus          Status
	NewStatus          Status
	AssignedTo         *string
	AssignedDepartment *string
}

// Repository defines the data access required by the issue service and
// the transition engine.
type Repository interface {
	InsertIssue(ctx context.Context, tx pgx.Tx, is Issue) error
	GetIssue(ctx context.Context, id string) (Issue, error)
	GetIssueTx(ctx context.Context, tx pgx.Tx, id string) (Issue, error)
	GetIssueForUpdate(ctx context.Context, tx pgx.Tx, id string) (Issue, error)
	ListIssues(ctx context.Context, filters Filters) ([]Issue, error)
	UpdateStatusCAS(ctx context.Context, tx pgx.Tx, params CASParams) (Issue, bool, error)
	SetAttachments(ctx context.Context, tx pgx.Tx, id string, photos, videos []string) error
	SetPriority(ctx context.Context, id string, priority int) (Issue, error)
	AppendUpdate(ctx context.Context, tx pgx.Tx, up Update) error
	ListUpdates(ctx context.Context, issueID string) ([]Update, error)
}

const issueColumns = `id, user_id, title, description, category, status, priority,
	latitude, longitude, address, photos, videos,
	assigned_to, assigned_department, created_at, updated_at, resolved_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed issue repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertIssue writes a freshly created issue row.
func (r *PGRepository) InsertIssue(ctx context.Context, tx pgx.Tx, is Issue) error {
	const insertSQL = `
		INSERT INTO issues (id, user_id, title, description, category, status, priority,
			latitude, longitude, address, photos, videos, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var lat, lng *float64
	var addr *string
	if is.Location != nil {
		lat, lng, addr = &is.Location.Latitude, &is.Location.Longitude, &is.Location.Address
	}
	photos, videos := splitAttachments(is.Attachments)

	if _, err := tx.Exec(ctx, insertSQL,
		is.ID, is.ReporterID, is.Title, is.Description, is.Category, is.Status, is.Priority,
		lat, lng, addr, photos, videos, is.CreatedAt, is.UpdatedAt,
	); err != nil {
		return fmt.Errorf("issue: insert: %w", err)
	}
	return nil
}

// GetIssue fetches a single issue outside any transaction.
func (r *PGRepository) GetIssue(ctx context.Context, id string) (Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = $1`, issueColumns)
	is, err := scanIssue(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, ErrNotFound
		}
		return Issue{}, fmt.Errorf("issue: get: %w", err)
	}
	return is, nil
}

// GetIssueTx fetches a single issue inside the caller's transaction
// without locking the row; the transition engine pairs this read with a
// compare-and-swap write.
func (r *PGRepository) GetIssueTx(ctx context.Context, tx pgx.Tx, id string) (Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = $1`, issueColumns)
	is, err := scanIssue(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, ErrNotFound
		}
		return Issue{}, fmt.Errorf("issue: get in tx: %w", err)
	}
	return is, nil
}

// GetIssueForUpdate locks the row for the attachment append path.
// Attachment writes are independent of status and never contend with the
// engine's CAS.
func (r *PGRepository) GetIssueForUpdate(ctx context.Context, tx pgx.Tx, id string) (Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = $1 FOR UPDATE`, issueColumns)
	is, err := scanIssue(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, ErrNotFound
		}
		return Issue{}, fmt.Errorf("issue: get for update: %w", err)
	}
	return is, nil
}

// ListIssues returns issues matching the filters, newest first with a
// stable id tie-break.
func (r *PGRepository) ListIssues(ctx context.Context, filters Filters) ([]Issue, error) {
	base := fmt.Sprintf(`SELECT %s FROM issues`, issueColumns)

	where := []string{}
	args := []any{}
	if filters.ReporterID != "" {
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)+1))
		args = append(args, filters.ReporterID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("category=$%d", len(args)+1))
		args = append(args, filters.Category)
	}
	if filters.HasLocation != nil {
		if *filters.HasLocation {
			where = append(where, "latitude IS NOT NULL AND longitude IS NOT NULL")
		} else {
			where = append(where, "latitude IS NULL")
		}
	}

	query := base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("issue: query list: %w", err)
	}
	defer rows.Close()

	list := []Issue{}
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("issue: scan list: %w", err)
		}
		list = append(list, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("issue: iterate list: %w", err)
	}

	return list, nil
}

// UpdateStatusCAS applies the conditional status write. The boolean
// reports whether the row still carried OldStatus; false means a
// concurrent writer won the race.
func (r *PGRepository) UpdateStatusCAS(ctx context.Context, tx pgx.Tx, params CASParams) (Issue, bool, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE issues
		SET status = $1,
		    updated_at = get_tx_timestamp(),
		    resolved_at = CASE WHEN $1 = 'resolved'::issue_status
		                       THEN COALESCE(resolved_at, get_tx_timestamp())
		                       ELSE resolved_at END,
		    assigned_to = COALESCE($2, assigned_to),
		    assigned_department = COALESCE($3, assigned_department)
		WHERE id = $4 AND status = $5
		RETURNING %s`, issueColumns)

	is, err := scanIssue(tx.QueryRow(ctx, updateSQL,
		params.NewStatus, params.AssignedTo, params.AssignedDepartment,
		params.IssueID, params.OldStatus,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, false, nil
		}
		return Issue{}, false, fmt.Errorf("issue: cas update: %w", err)
	}
	return is, true, nil
}

// SetAttachments rewrites the attachment arrays. Callers hold the row
// lock via GetIssueForUpdate and pass the merged, deduplicated set.
func (r *PGRepository) SetAttachments(ctx context.Context, tx pgx.Tx, id string, photos, videos []string) error {
	const updateSQL = `
		UPDATE issues
		SET photos = $1, videos = $2, updated_at = get_tx_timestamp()
		WHERE id = $3
	`
	tag, err := tx.Exec(ctx, updateSQL, photos, videos, id)
	if err != nil {
		return fmt.Errorf("issue: set attachments: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPriority applies a staff priority override. The override is not
// audited; only updated_at moves.
func (r *PGRepository) SetPriority(ctx context.Context, id string, priority int) (Issue, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE issues
		SET priority = $1, updated_at = now()
		WHERE id = $2
		RETURNING %s`, issueColumns)

	is, err := scanIssue(r.pool.QueryRow(ctx, updateSQL, priority, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, ErrNotFound
		}
		return Issue{}, fmt.Errorf("issue: set priority: %w", err)
	}
	return is, nil
}

// AppendUpdate writes one audit row inside the caller's transaction.
func (r *PGRepository) AppendUpdate(ctx context.Context, tx pgx.Tx, up Update) error {
	const insertSQL = `
		INSERT INTO issue_updates (id, issue_id, user_id, old_status, new_status, notes, internal_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, insertSQL,
		up.ID, up.IssueID, up.UserID, up.OldStatus, up.NewStatus,
		up.Notes, up.InternalNotes, up.CreatedAt,
	); err != nil {
		return fmt.Errorf("issue: append update: %w", err)
	}
	return nil
}

// ListUpdates returns the audit trail for an issue in creation order.
func (r *PGRepository) ListUpdates(ctx context.Context, issueID string) ([]Update, error) {
	const query = `
		SELECT id, issue_id, user_id, old_status, new_status, notes, internal_notes, created_at
		FROM issue_updates
		WHERE issue_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, issueID)
	if err != nil {
		return nil, fmt.Errorf("issue: query updates: %w", err)
	}
	defer rows.Close()

	list := []Update{}
	for rows.Next() {
		var up Update
		if err := rows.Scan(
			&up.ID, &up.IssueID, &up.UserID, &up.OldStatus, &up.NewStatus,
			&up.Notes, &up.InternalNotes, &up.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("issue: scan update: %w", err)
		}
		list = append(list, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("issue: iterate updates: %w", err)
	}

	return list, nil
}

func scanIssue(row pgx.Row) (Issue, error) {
	var (
		is             Issue
		lat, lng       *float64
		addr           *string
		photos, videos []string
	)
	err := row.Scan(
		&is.ID, &is.ReporterID, &is.Title, &is.Description, &is.Category, &is.Status, &is.Priority,
		&lat, &lng, &addr, &photos, &videos,
		&is.AssignedTo, &is.AssignedDepartment, &is.CreatedAt, &is.UpdatedAt, &is.ResolvedAt,
	)
	if err != nil {
		return Issue{}, err
	}

	if lat != nil && lng != nil && addr != nil {
		is.Location = &Location{Latitude: *lat, Longitude: *lng, Address: *addr}
	}
	is.Attachments = joinAttachments(photos, videos)
	return is, nil
}

func splitAttachments(atts []Attachment) (photos, videos []string) {
	photos, videos = []string{}, []string{}
	for _, a := range atts {
		if a.Kind == AttachmentVideo {
			videos = append(videos, a.URL)
		} else {
			photos = append(photos, a.URL)
		}
	}
	return photos, videos
}

func joinAttachments(photos, videos []string) []Attachment {
	atts := make([]Attachment, 0, len(photos)+len(videos))
	for _, url := range photos {
		atts = append(atts, Attachment{URL: url, Kind: AttachmentPhoto})
	}
	for _, url := range videos {
		atts = append(atts, Attachment{URL: url, Kind: AttachmentVideo})
	}
	return atts
}
