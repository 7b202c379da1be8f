package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignmentValidate(t *testing.T) {
	tests := []struct {
		name string
		a    Assignment
		ok   bool
	}{
		{"agent-admin at agent scope", Assignment{Role: RoleAgentAdmin, Scope: ScopeAgent, ResourceID: "a1"}, true},
		{"agent-admin at global scope", Assignment{Role: RoleAgentAdmin, Scope: ScopeGlobal}, false},
		{"agent-admin at server scope", Assignment{Role: RoleAgentAdmin, Scope: ScopeServer, ResourceID: "s1"}, false},
		{"global viewer without resource", Assignment{Role: RoleViewer, Scope: ScopeGlobal}, true},
		{"global viewer with resource", Assignment{Role: RoleViewer, Scope: ScopeGlobal, ResourceID: "a1"}, false},
		{"server operator without resource", Assignment{Role: RoleOperator, Scope: ScopeServer}, false},
		{"server operator with resource", Assignment{Role: RoleOperator, Scope: ScopeServer, ResourceID: "s1"}, true},
		{"unknown role", Assignment{Role: "owner", Scope: ScopeGlobal}, false},
		{"unknown scope", Assignment{Role: RoleViewer, Scope: "planet"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAssignment)
			}
		})
	}
}

func TestEvaluate_SystemAdminBypass(t *testing.T) {
	p := Evaluate("admin", nil, Resource{Type: ResourceServer, ID: "s1"})
	assert.Equal(t, Full(), p)
}

func TestEvaluate_GlobalAppliesEverywhere(t *testing.T) {
	assignments := []Assignment{
		{Role: RoleViewer, Scope: ScopeGlobal},
	}

	p := Evaluate("user", assignments, Resource{Type: ResourceAgent, ID: "a1"})
	assert.True(t, p.View)
	assert.False(t, p.Control)

	p = Evaluate("user", assignments, Resource{Type: ResourceServer, ID: "s1", AgentID: "a1"})
	assert.True(t, p.View)
}

func TestEvaluate_AgentScopeCascadesToServers(t *testing.T) {
	assignments := []Assignment{
		{Role: RoleAgentAdmin, Scope: ScopeAgent, ResourceID: "a1"},
	}

	p := Evaluate("user", assignments, Resource{Type: ResourceServer, ID: "s1", AgentID: "a1"})
	assert.Equal(t, Full(), p)

	p = Evaluate("user", assignments, Resource{Type: ResourceServer, ID: "s2", AgentID: "a2"})
	assert.Equal(t, Permission{}, p, "grant must not leak to other agents")
}

func TestEvaluate_ServerScopeIsNarrow(t *testing.T) {
	assignments := []Assignment{
		{Role: RoleOperator, Scope: ScopeServer, ResourceID: "s1"},
	}

	p := Evaluate("user", assignments, Resource{Type: ResourceServer, ID: "s1", AgentID: "a1"})
	assert.True(t, p.Control)
	assert.False(t, p.Delete, "operator may start/stop but not delete")

	p = Evaluate("user", assignments, Resource{Type: ResourceAgent, ID: "a1"})
	assert.Equal(t, Permission{}, p, "server grant must not apply to its agent")
}

func TestEvaluate_MostPermissiveWins(t *testing.T) {
	assignments := []Assignment{
		{Role: RoleViewer, Scope: ScopeGlobal},
		{Role: RoleOperator, Scope: ScopeServer, ResourceID: "s1"},
	}

	p := Evaluate("user", assignments, Resource{Type: ResourceServer, ID: "s1"})
	assert.True(t, p.View)
	assert.True(t, p.Control)
	assert.False(t, p.Delete)
}
