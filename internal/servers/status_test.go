package servers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusCreating, StatusRunning, true},
		{StatusCreating, StatusFailed, true},
		{StatusCreating, StatusStopped, false},
		{StatusRunning, StatusStopped, true},
		{StatusStopped, StatusRunning, true},
		{StatusRunning, StatusDeleting, true},
		{StatusFailed, StatusDeleting, true},
		{StatusDeleting, StatusDeleted, true},
		{StatusDeleted, StatusMissing, true},
		{StatusDeleted, StatusRunning, false},
		{StatusDeleted, StatusStopped, false},
		{StatusMissing, StatusRunning, true},
		{StatusMissing, StatusDeleting, true},
		{StatusMissing, StatusStopped, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRebuildable(t *testing.T) {
	assert.True(t, Rebuildable(StatusRunning))
	assert.True(t, Rebuildable(StatusStopped))
	assert.True(t, Rebuildable(StatusFailed))
	assert.False(t, Rebuildable(StatusCreating))
	assert.False(t, Rebuildable(StatusMissing))
	assert.False(t, Rebuildable(StatusDeleted))
}

func TestValidateCreate(t *testing.T) {
	valid := CreateRequest{
		AgentID:  "agent-1",
		Name:     "zed1",
		GamePort: 16261,
		UDPPort:  16262,
		RCONPort: 27015,
	}
	assert.NoError(t, ValidateCreate(valid))

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing agent", func(r *CreateRequest) { r.AgentID = "" }},
		{"name too short", func(r *CreateRequest) { r.Name = "ab" }},
		{"name uppercase", func(r *CreateRequest) { r.Name = "Zed1" }},
		{"name leading digit", func(r *CreateRequest) { r.Name = "1zed" }},
		{"name too long", func(r *CreateRequest) { r.Name = "abcdefghijklmnopqrstuvwxyz-0123456" }},
		{"game port zero", func(r *CreateRequest) { r.GamePort = 0 }},
		{"rcon port out of range", func(r *CreateRequest) { r.RCONPort = 70000 }},
		{"rcon equals game", func(r *CreateRequest) { r.RCONPort = r.GamePort }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			assert.ErrorIs(t, ValidateCreate(req), ErrValidation)
		})
	}
}

func TestHasContainer(t *testing.T) {
	s := Server{Status: StatusRunning, ContainerID: "abc"}
	assert.True(t, s.HasContainer())

	s.Status = StatusMissing
	assert.False(t, s.HasContainer(), "container_id not authoritative for missing")

	s.Status = StatusStopped
	s.ContainerID = ""
	assert.False(t, s.HasContainer())
}
