package rbac

import (
	"errors"
	"fmt"
	"time"
)

type Role string

const (
	RoleAgentAdmin Role = "agent-admin"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeAgent  Scope = "agent"
	ScopeServer Scope = "server"
)

type ResourceType string

const (
	ResourceAgent  ResourceType = "agent"
	ResourceServer ResourceType = "server"
)

type Assignment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Role       Role      `json:"role"`
	Scope      Scope     `json:"scope"`
	ResourceID string    `json:"resource_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Permission is the effective capability set for one user on one resource.
type Permission struct {
	View        bool `json:"view"`
	Control     bool `json:"control"`
	Delete      bool `json:"delete"`
	ManageUsers bool `json:"manage_users"`
}

var ErrInvalidAssignment = errors.New("invalid role assignment")

// Validate enforces the grant-time constraints: agent-admin only at agent
// scope, global grants carry no resource, scoped grants require one.
func (a Assignment) Validate() error {
	switch a.Role {
	case RoleAgentAdmin, RoleOperator, RoleViewer:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidAssignment, a.Role)
	}
	switch a.Scope {
	case ScopeGlobal, ScopeAgent, ScopeServer:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidAssignment, a.Scope)
	}
	if a.Role == RoleAgentAdmin && a.Scope != ScopeAgent {
		return fmt.Errorf("%w: agent-admin requires agent scope", ErrInvalidAssignment)
	}
	if a.Scope == ScopeGlobal && a.ResourceID != "" {
		return fmt.Errorf("%w: global scope must not carry a resource", ErrInvalidAssignment)
	}
	if a.Scope != ScopeGlobal && a.ResourceID == "" {
		return fmt.Errorf("%w: %s scope requires a resource", ErrInvalidAssignment, a.Scope)
	}
	return nil
}

// rolePermission is the capability set one role grants where it applies.
func rolePermission(r Role) Permission {
	switch r {
	case RoleAgentAdmin:
		return Permission{View: true, Control: true, Delete: true, ManageUsers: true}
	case RoleOperator:
		return Permission{View: true, Control: true}
	case RoleViewer:
		return Permission{View: true}
	}
	return Permission{}
}

func (p Permission) union(other Permission) Permission {
	return Permission{
		View:        p.View || other.View,
		Control:     p.Control || other.Control,
		Delete:      p.Delete || other.Delete,
		ManageUsers: p.ManageUsers || other.ManageUsers,
	}
}

// Full is the unrestricted capability set (system admin bypass).
func Full() Permission {
	return Permission{View: true, Control: true, Delete: true, ManageUsers: true}
}
