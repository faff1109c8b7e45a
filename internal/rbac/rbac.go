package rbac

import (
	"errors"
	"strings"
)

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
)

var ErrInvalidGrant = errors.New("role must be editor or viewer")

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionEdit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a stored permission role to a Role. Anything it does not
// recognise resolves to viewer.
func Normalize(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleEditor:
		return RoleEditor
	case RoleViewer:
		return RoleViewer
	default:
		return RoleViewer
	}
}

// ParseGrant validates a role supplied when sharing. Owner cannot be granted.
func ParseGrant(role string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleEditor, RoleViewer:
		return r, nil
	default:
		return "", ErrInvalidGrant
	}
}

// Effective collapses owner into editor for display.
func Effective(role Role) Role {
	if role == RoleOwner || role == RoleEditor {
		return RoleEditor
	}
	return RoleViewer
}
