package rbac

// Permissions guarding the orchestrator API.
const (
	PermissionCreateProject     = "project:create"
	PermissionReadProject       = "project:read"
	PermissionStartPhase        = "phase:start"
	PermissionResolveCheckpoint = "checkpoint:resolve"
	PermissionRequestCheckpoint = "checkpoint:request"
	PermissionReplayOutbox      = "outbox:replay"
)

// Roles carried in the JWT.
const (
	RoleFounder    = "founder"
	RoleConsultant = "consultant"
	RoleAdmin      = "admin"
)

var rolePermissions = map[string][]string{
	RoleFounder: {
		PermissionCreateProject,
		PermissionReadProject,
		PermissionStartPhase,
		PermissionResolveCheckpoint,
		PermissionRequestCheckpoint,
	},
	RoleConsultant: {
		PermissionCreateProject,
		PermissionReadProject,
		PermissionStartPhase,
		PermissionResolveCheckpoint,
		PermissionRequestCheckpoint,
	},
	RoleAdmin: {
		PermissionCreateProject,
		PermissionReadProject,
		PermissionStartPhase,
		PermissionResolveCheckpoint,
		PermissionRequestCheckpoint,
		PermissionReplayOutbox,
	},
}

// HasPermission checks whether the role grants the permission.
func HasPermission(role string, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission returns a typed error when the role lacks the permission.
func CheckPermission(role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
