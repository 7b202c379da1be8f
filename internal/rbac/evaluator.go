package rbac

import "github.com/zedops/warden/internal/users"

// Resource identifies the target of a permission check. AgentID must be set
// for server resources so agent-scoped grants cascade down.
type Resource struct {
	Type    ResourceType
	ID      string
	AgentID string
}

// Evaluate computes the effective permission for a user over a resource from
// their role assignments. Conflicting assignments resolve most-permissive-wins;
// there is no deny. The system admin role bypasses evaluation entirely.
func Evaluate(systemRole string, assignments []Assignment, res Resource) Permission {
	if systemRole == users.RoleAdmin {
		return Full()
	}

	var p Permission
	for _, a := range assignments {
		if applies(a, res) {
			p = p.union(rolePermission(a.Role))
		}
	}
	return p
}

func applies(a Assignment, res Resource) bool {
	switch a.Scope {
	case ScopeGlobal:
		return true
	case ScopeAgent:
		// An agent grant covers the agent and every server under it.
		if res.Type == ResourceAgent {
			return a.ResourceID == res.ID
		}
		return a.ResourceID == res.AgentID
	case ScopeServer:
		return res.Type == ResourceServer && a.ResourceID == res.ID
	}
	return false
}
