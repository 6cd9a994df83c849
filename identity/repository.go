package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRoleNotFound signals the actor has no explicit user_roles row.
var ErrRoleNotFound = errors.New("identity: role not found")

// Repository reads role assignments. Role administration happens outside
// this core; the repository is read-only on purpose.
type Repository interface {
	GetRole(ctx context.Context, userID string) (Role, *string, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed role repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetRole fetches the role and optional department for a user.
func (r *PGRepository) GetRole(ctx context.Context, userID string) (Role, *string, error) {
	const query = `
		SELECT role, department
		FROM user_roles
		WHERE user_id = $1
	`

	var (
		role       Role
		department *string
	)
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&role, &department); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrRoleNotFound
		}
		return "", nil, fmt.Errorf("identity: get role: %w", err)
	}

	return role, department, nil
}
