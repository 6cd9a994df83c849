package identity

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthenticated signals that no actor identity was supplied.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Service resolves authenticated actors to their role and department.
type Service struct {
	repo Repository
}

// NewService creates the role resolver.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve maps an authenticated actor id to an Identity. Actors without
// an explicit role record default to citizen; resolution never fails for
// an authenticated actor.
func (s *Service) Resolve(ctx context.Context, actorID string) (Identity, error) {
	if actorID == "" {
		return Identity{}, ErrUnauthenticated
	}

	role, department, err := s.repo.GetRole(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return Identity{ActorID: actorID, Role: RoleCitizen}, nil
		}
		return Identity{}, fmt.Errorf("identity: resolve %s: %w", actorID, err)
	}

	if !isValidRole(role) {
		// An unknown role value in the store is treated as citizen rather
		// than granting accidental staff access.
		return Identity{ActorID: actorID, Role: RoleCitizen}, nil
	}

	return Identity{ActorID: actorID, Role: role, Department: department}, nil
}
