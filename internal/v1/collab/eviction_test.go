package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

// Revoking a user mid-session removes every one of their connections from
// the workflow room and tells the rest of the room.
func TestRevokeDuringSession(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-u", "ws-1", types.RoleTypeEdit)
	mem.SetPermission("user-b", "ws-1", types.RoleTypeEdit)

	u := NewMockClient("sock-u", "user-u", "U")
	bystander := NewMockClient("sock-b", "user-b", "B")
	route(t, b, u, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})
	joinWorkflow(t, b, u, "wf-1")
	joinWorkflow(t, b, bystander, "wf-1")
	bystander.Reset()

	b.HandlePermissionChanged(context.Background(), "user-u", "ws-1", types.RoleTypeNone, true)

	// Exactly one revocation notice per connection.
	assert.Equal(t, 1, u.CountEvent(types.EventPermissionRevoked))
	var revoked types.PermissionRevokedPayload
	u.LastEvent(t, types.EventPermissionRevoked, &revoked)
	assert.Equal(t, types.WorkspaceIDType("ws-1"), revoked.WorkspaceID)

	// Remaining members get a snapshot without U.
	var snapshot types.PresenceSnapshot
	bystander.LastEvent(t, types.EventPresenceUpdate, &snapshot)
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, types.UserIDType("user-b"), snapshot.Users[0].UserID)

	// All membership of U is gone.
	_, ok := b.registry.WorkflowRoomFor("sock-u")
	assert.False(t, ok)
	_, _, ok = b.registry.WorkspaceBindingFor("sock-u")
	assert.False(t, ok)
}

func TestPermissionDowngrade(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-u", "ws-1", types.RoleTypeEdit)

	u := NewMockClient("sock-u", "user-u", "U")
	route(t, b, u, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})
	joinWorkflow(t, b, u, "wf-1")

	b.HandlePermissionChanged(context.Background(), "user-u", "ws-1", types.RoleTypeRead, false)

	var changed types.PermissionChangedPayload
	u.LastEvent(t, types.EventPermissionChanged, &changed)
	assert.Equal(t, types.RoleTypeEdit, changed.OldRole)
	assert.Equal(t, types.RoleTypeRead, changed.NewRole)
	assert.Equal(t, 1, u.CountEvent(types.EventPermissionChanged))

	// The cached role on the presence is downgraded, so the next mutation
	// is rejected.
	room, ok := b.registry.WorkflowRoomByID("wf-1")
	require.True(t, ok)
	role, ok := room.RoleOf("sock-u")
	require.True(t, ok)
	assert.Equal(t, types.RoleTypeRead, role)

	sendOperation(t, b, u, "op-1", TargetBlock, "add", map[string]any{
		"id": "b1", "type": "agent", "position": map[string]float64{"x": 0, "y": 0},
	})
	assert.Equal(t, 1, u.CountEvent(types.EventOperationForbidden))

	// Membership is retained on downgrade.
	assert.True(t, room.IsMember("sock-u"))
}

func TestWorkflowDeleted(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-a", "ws-1", types.RoleTypeEdit)
	mem.SetPermission("user-b", "ws-1", types.RoleTypeEdit)

	alice := NewMockClient("sock-a", "user-a", "Alice")
	bob := NewMockClient("sock-b", "user-b", "Bob")
	joinWorkflow(t, b, alice, "wf-1")
	joinWorkflow(t, b, bob, "wf-1")

	mem.DeleteWorkflow("wf-1")
	b.HandleWorkflowDeleted(context.Background(), "wf-1")

	for _, c := range []*MockClient{alice, bob} {
		var deleted types.WorkflowDeletedPayload
		c.LastEvent(t, types.EventWorkflowDeleted, &deleted)
		assert.Equal(t, types.WorkflowIDType("wf-1"), deleted.WorkflowID)
	}

	// Room is gone and tombstoned: re-join is denied until the durable
	// record reappears.
	_, ok := b.registry.WorkflowRoomByID("wf-1")
	assert.False(t, ok)

	alice.Reset()
	route(t, b, alice, types.EventJoinWorkflow, types.JoinWorkflowPayload{WorkflowID: "wf-1"})
	var joinErr types.JoinWorkflowErrorPayload
	alice.LastEvent(t, types.EventJoinWorkflowError, &joinErr)
	assert.Equal(t, "workflow was deleted", joinErr.Reason)

	// Restore the record: the tombstone lifts and the join succeeds.
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	alice.Reset()
	joinWorkflow(t, b, alice, "wf-1")
}

// Folder cascade: one fanout to the workspace plus one deletion per
// cascaded workflow, each tombstoning its room.
func TestFolderCascade(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-2", "ws-1", nil)
	mem.CreateWorkflow("wf-3", "ws-1", nil)
	mem.SetPermission("user-a", "ws-1", types.RoleTypeEdit)
	mem.SetPermission("user-b", "ws-1", types.RoleTypeEdit)

	alice := NewMockClient("sock-a", "user-a", "Alice")
	bob := NewMockClient("sock-b", "user-b", "Bob")
	route(t, b, alice, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})
	joinWorkflow(t, b, alice, "wf-2")
	joinWorkflow(t, b, bob, "wf-3")

	ctx := context.Background()
	err := b.HandleWorkspaceResourceChanged(ctx, "ws-1", types.ResourceFolders, "delete",
		[]byte(`{"folderId":"F1","deletionStats":{"folders":1,"workflows":2}}`))
	require.NoError(t, err)
	mem.DeleteWorkflow("wf-2")
	mem.DeleteWorkflow("wf-3")
	b.HandleWorkflowDeleted(ctx, "wf-2")
	b.HandleWorkflowDeleted(ctx, "wf-3")

	assert.Equal(t, 1, alice.CountEvent("workspace-folder-deleted"))
	assert.Equal(t, 1, alice.CountEvent(types.EventWorkflowDeleted))
	assert.Equal(t, 1, bob.CountEvent(types.EventWorkflowDeleted))

	_, ok := b.registry.WorkflowRoomByID("wf-2")
	assert.False(t, ok)
	_, ok = b.registry.WorkflowRoomByID("wf-3")
	assert.False(t, ok)
	assert.True(t, b.registry.IsTombstoned("wf-2"))
	assert.True(t, b.registry.IsTombstoned("wf-3"))
}

func TestWorkflowUpdatedAndReverted(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-a", "ws-1", types.RoleTypeRead)

	c := NewMockClient("sock-a", "user-a", "Alice")
	joinWorkflow(t, b, c, "wf-1")

	ctx := context.Background()
	b.HandleWorkflowUpdated(ctx, "wf-1")
	b.HandleWorkflowReverted(ctx, "wf-1")
	b.HandleCopilotEdit(ctx, "wf-1", "refactored the graph")

	assert.Equal(t, 1, c.CountEvent(types.EventWorkflowUpdated))
	assert.Equal(t, 1, c.CountEvent(types.EventWorkflowReverted))

	var copilot types.CopilotEditPayload
	c.LastEvent(t, types.EventCopilotEdit, &copilot)
	assert.Equal(t, "refactored the graph", copilot.Description)

	// Signals for idle workflows are dropped quietly.
	b.HandleWorkflowUpdated(ctx, "wf-idle")
}

func TestNotifyShutdown(t *testing.T) {
	b, mem := newTestBroker()
	mem.CreateWorkflow("wf-1", "ws-1", nil)
	mem.SetPermission("user-a", "ws-1", types.RoleTypeRead)

	c := NewMockClient("sock-a", "user-a", "Alice")
	joinWorkflow(t, b, c, "wf-1")

	b.NotifyShutdown(context.Background())
	assert.Equal(t, 1, c.CountEvent(types.EventServerShutdown))
}
