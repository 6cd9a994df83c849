package identity

// Role classifies what an actor may do across the platform. Every
// authenticated actor has exactly one role; citizen is the implicit
// default when no user_roles row exists.
type Role string

const (
	RoleCitizen     Role = "citizen"
	RoleStaff       Role = "staff"
	RoleAdmin       Role = "admin"
	RoleFieldWorker Role = "field_worker"
)

// Identity is the resolved actor passed explicitly into every core
// operation. There is no ambient current-actor state anywhere.
type Identity struct {
	ActorID    string
	Role       Role
	Department *string
}

// IsStaff reports whether the actor belongs to the municipal side
// (staff, admin or field worker).
func (id Identity) IsStaff() bool {
	switch id.Role {
	case RoleStaff, RoleAdmin, RoleFieldWorker:
		return true
	}
	return false
}

// CanOverridePriority reports whether the actor may adjust issue
// priority after creation. Field workers may transition issues but not
// re-prioritize them.
func (id Identity) CanOverridePriority() bool {
	return id.Role == RoleStaff || id.Role == RoleAdmin
}

func isValidRole(r Role) bool {
	switch r {
	case RoleCitizen, RoleStaff, RoleAdmin, RoleFieldWorker:
		return true
	}
	return false
}
