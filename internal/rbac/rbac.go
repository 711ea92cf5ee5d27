// Package rbac decides which API actions a token holder may attempt.
// Per-paper checks (contact, author) are made by the paper service.
package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionSave    Action = "save"
	ActionExport  Action = "export"
	ActionHistory Action = "history"
	ActionSearch  Action = "search"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionSave || action == ActionExport || action == ActionHistory
	default:
		return false
	}
}

// ForActor maps the token's admin flag to a role.
func ForActor(admin bool) Role {
	if admin {
		return RoleAdmin
	}
	return RoleUser
}
