package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleWelder    Role = "welder"
	RoleInspector Role = "inspector"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionApprove Action = "approve"
	ActionDelete  Action = "delete"
	ActionAdmin   Action = "admin"
)

// Can reports whether a role may perform an action. Welders record work,
// inspectors additionally approve and delete, admins do everything.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleInspector:
		return action == ActionRead || action == ActionWrite || action == ActionApprove || action == ActionDelete
	case RoleWelder:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleWelder, RoleInspector, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
