package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against a live database while the
// actors hammer it. Every query must return zero rows on a healthy system.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_matches_trail",
			SQL: `WITH last AS (
                      SELECT DISTINCT ON (issue_id) issue_id, new_status
                      FROM issue_updates
                      ORDER BY issue_id, created_at DESC, id DESC)
                  SELECT i.id, i.status, l.new_status FROM issues i
                  JOIN last l ON l.issue_id = i.id
                  WHERE l.new_status <> i.status`,
		},
		{
			Name: "O2_single_creation_row",
			SQL: `SELECT issue_id, COUNT(*) FROM issue_updates
                  WHERE old_status IS NULL
                  GROUP BY issue_id HAVING COUNT(*) <> 1`,
		},
		{
			Name: "O3_trail_edges_legal",
			SQL: `SELECT u.id, u.old_status, u.new_status FROM issue_updates u
                  WHERE u.old_status IS NOT NULL
                    AND (u.old_status::text, u.new_status::text) NOT IN (
                      ('submitted','acknowledged'),
                      ('acknowledged','assigned'),
                      ('assigned','in_progress'),
                      ('assigned','on_hold'),
                      ('in_progress','on_hold'),
                      ('in_progress','resolved'),
                      ('on_hold','in_progress'),
                      ('on_hold','resolved'))`,
		},
		{
			Name: "O4_resolved_terminal",
			SQL: `SELECT id FROM issue_updates WHERE old_status = 'resolved'
                  UNION ALL
                  SELECT id FROM issues WHERE status = 'resolved' AND resolved_at IS NULL`,
		},
		{
			Name: "O5_notification_recipient",
			SQL: `SELECT n.id FROM notifications n
                  JOIN issues i ON i.id = n.issue_id
                  WHERE n.user_id <> i.user_id`,
		},
		{
			Name: "O6_outbox_drains",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row)
// or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
