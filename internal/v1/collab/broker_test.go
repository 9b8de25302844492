package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-yup-ai/sim/internal/v1/access"
	"github.com/git-yup-ai/sim/internal/v1/store"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

func newTestBroker() (*Broker, *store.Memory) {
	mem := store.NewMemory()
	reg := NewRegistry()
	return NewBroker(reg, access.NewResolver(mem, mem), mem), mem
}

func route(t *testing.T, b *Broker, c *MockClient, event string, payload any) {
	t.Helper()
	data, err := types.NewEnvelope(event, payload)
	require.NoError(t, err)
	b.Route(context.Background(), c, data)
}

func joinWorkflow(t *testing.T, b *Broker, c *MockClient, workflowID string) {
	t.Helper()
	route(t, b, c, types.EventJoinWorkflow, types.JoinWorkflowPayload{WorkflowID: types.WorkflowIDType(workflowID)})
	var joined types.JoinedWorkflowPayload
	c.LastEvent(t, types.EventJoinedWorkflow, &joined)
	require.Equal(t, types.WorkflowIDType(workflowID), joined.WorkflowID)
}

func TestJoinWorkspace(t *testing.T) {
	b, mem := newTestBroker()
	mem.SetPermission("user-1", "ws-1", types.RoleTypeEdit)

	c := NewMockClient("sock-1", "user-1", "Alice")
	route(t, b, c, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})

	var joined types.JoinedWorkspacePayload
	c.LastEvent(t, types.EventJoinedWorkspace, &joined)
	assert.Equal(t, types.WorkspaceIDType("ws-1"), joined.WorkspaceID)
	assert.Equal(t, types.RoleTypeEdit, joined.Role)

	room, ok := b.registry.WorkspaceRoomByID("ws-1")
	require.True(t, ok)
	assert.True(t, room.IsMember("sock-1"))
	assert.Equal(t, 1, room.ActiveConnections())
}

func TestJoinWorkspace_AccessDenied(t *testing.T) {
	b, _ := newTestBroker()

	c := NewMockClient("sock-1", "user-1", "Alice")
	route(t, b, c, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})

	var errPayload types.JoinWorkspaceErrorPayload
	c.LastEvent(t, types.EventJoinWorkspaceError, &errPayload)
	assert.Equal(t, "access denied", errPayload.Reason)

	// Denied joins never create the room.
	_, ok := b.registry.WorkspaceRoomByID("ws-1")
	assert.False(t, ok)
}

func TestJoinWorkflow(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-1", "ws-1", types.RoleTypeEdit)

	c := NewMockClient("sock-1", "user-1", "Alice")
	joinWorkflow(t, b, c, "wf-1")

	var joined types.JoinedWorkflowPayload
	c.LastEvent(t, types.EventJoinedWorkflow, &joined)
	assert.Equal(t, types.WorkspaceIDType("ws-1"), joined.WorkspaceID)
	assert.Equal(t, types.RoleTypeEdit, joined.Role)

	// Joiner receives the presence snapshot including themselves.
	var snapshot types.PresenceSnapshot
	c.LastEvent(t, types.EventPresenceUpdate, &snapshot)
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, types.UserIDType("user-1"), snapshot.Users[0].UserID)
	assert.Equal(t, types.RoleTypeEdit, snapshot.Users[0].Role)

	room, ok := b.registry.WorkflowRoomByID("wf-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.ActiveConnections())
}

func TestJoinWorkflow_UnknownWorkflow(t *testing.T) {
	b, _ := newTestBroker()

	c := NewMockClient("sock-1", "user-1", "Alice")
	route(t, b, c, types.EventJoinWorkflow, types.JoinWorkflowPayload{WorkflowID: "missing"})

	var errPayload types.JoinWorkflowErrorPayload
	c.LastEvent(t, types.EventJoinWorkflowError, &errPayload)
	assert.Equal(t, "workflow not found", errPayload.Reason)
}

func TestJoinWorkflow_NoPermission(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)

	c := NewMockClient("sock-1", "user-1", "Alice")
	route(t, b, c, types.EventJoinWorkflow, types.JoinWorkflowPayload{WorkflowID: "wf-1"})

	var errPayload types.JoinWorkflowErrorPayload
	c.LastEvent(t, types.EventJoinWorkflowError, &errPayload)
	assert.Equal(t, "access denied", errPayload.Reason)
}

func TestJoinWorkflow_ImplicitLeave(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.CreateWorkflow("wf-2", "ws-1", nil)
	mem.SetPermission("user-1", "ws-1", types.RoleTypeEdit)
	mem.SetPermission("user-2", "ws-1", types.RoleTypeEdit)

	alice := NewMockClient("sock-a", "user-1", "Alice")
	bob := NewMockClient("sock-b", "user-2", "Bob")
	joinWorkflow(t, b, alice, "wf-1")
	joinWorkflow(t, b, bob, "wf-1")

	bob.Reset()
	joinWorkflow(t, b, alice, "wf-2")

	// Bob saw exactly one presence update, now without Alice.
	assert.Equal(t, 1, bob.CountEvent(types.EventPresenceUpdate))
	var snapshot types.PresenceSnapshot
	bob.LastEvent(t, types.EventPresenceUpdate, &snapshot)
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, types.UserIDType("user-2"), snapshot.Users[0].UserID)

	// Reverse index follows the move.
	room, ok := b.registry.WorkflowRoomFor("sock-a")
	require.True(t, ok)
	assert.Equal(t, types.WorkflowIDType("wf-2"), room.ID)
}

func TestLeaveWorkflow_LastLeaverDestroysRoom(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-1", "ws-1", types.RoleTypeEdit)

	c := NewMockClient("sock-1", "user-1", "Alice")
	joinWorkflow(t, b, c, "wf-1")
	route(t, b, c, types.EventLeaveWorkflow, nil)

	var left types.LeftWorkflowPayload
	c.LastEvent(t, types.EventLeftWorkflow, &left)
	assert.Equal(t, types.WorkflowIDType("wf-1"), left.WorkflowID)

	_, ok := b.registry.WorkflowRoomByID("wf-1")
	assert.False(t, ok)
	_, ok = b.registry.WorkflowRoomFor("sock-1")
	assert.False(t, ok)
}

func TestJoinLeave_RoundTrip(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-1", "ws-1", types.RoleTypeRead)
	mem.SetPermission("user-2", "ws-1", types.RoleTypeRead)

	anchor := NewMockClient("sock-0", "user-2", "Anchor")
	joinWorkflow(t, b, anchor, "wf-1")

	c := NewMockClient("sock-1", "user-1", "Alice")
	joinWorkflow(t, b, c, "wf-1")
	route(t, b, c, types.EventLeaveWorkflow, nil)

	// Back to the prior state: anchor alone, room alive.
	room, ok := b.registry.WorkflowRoomByID("wf-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.ActiveConnections())
	assert.Equal(t, 1, room.UniqueUserCount())
}

func TestHandleDisconnect(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-1", "ws-1", types.RoleTypeEdit)
	mem.SetPermission("user-2", "ws-1", types.RoleTypeEdit)

	alice := NewMockClient("sock-a", "user-1", "Alice")
	bob := NewMockClient("sock-b", "user-2", "Bob")
	route(t, b, alice, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})
	joinWorkflow(t, b, alice, "wf-1")
	joinWorkflow(t, b, bob, "wf-1")

	bob.Reset()
	b.HandleDisconnect(context.Background(), alice)

	var snapshot types.PresenceSnapshot
	bob.LastEvent(t, types.EventPresenceUpdate, &snapshot)
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, types.UserIDType("user-2"), snapshot.Users[0].UserID)

	// Both memberships and reverse indices are gone.
	_, ok := b.registry.WorkflowRoomFor("sock-a")
	assert.False(t, ok)
	_, _, ok = b.registry.WorkspaceBindingFor("sock-a")
	assert.False(t, ok)
}

func TestUnknownEventIsDropped(t *testing.T) {
	b, _ := newTestBroker()
	c := NewMockClient("sock-1", "user-1", "Alice")

	b.Route(context.Background(), c, []byte(`{"event":"no-such-event","payload":{}}`))
	b.Route(context.Background(), c, []byte(`not json`))

	assert.Empty(t, c.Frames)
}
