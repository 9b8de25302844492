package collab

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

func TestFanoutEventNames(t *testing.T) {
	cases := []struct {
		resource  string
		operation string
		want      string
	}{
		{types.ResourceEnv, "update", "workspace-env-updated"},
		{types.ResourceEnv, "delete", "workspace-env-updated"},
		{types.ResourceTools, "create", "workspace-tool-created"},
		{types.ResourceTools, "update", "workspace-tool-updated"},
		{types.ResourceTools, "delete", "workspace-tool-deleted"},
		{types.ResourceFolders, "delete", "workspace-folder-deleted"},
		{types.ResourceMCP, "create", "workspace-mcp-created"},
		{types.ResourceMCP, "update", "workspace-mcp-updated"},
		{types.ResourceMCP, "delete", "workspace-mcp-deleted"},
		{types.ResourceWorkflows, "create", "workspace-workflow-created"},
		{types.ResourceWorkflows, "delete", "workspace-workflow-deleted"},
	}
	for _, tc := range cases {
		got, err := fanoutEventName(tc.resource, tc.operation)
		require.NoError(t, err, "%s/%s", tc.resource, tc.operation)
		assert.Equal(t, tc.want, got)
	}

	_, err := fanoutEventName("datasets", "create")
	assert.Error(t, err)
	_, err = fanoutEventName(types.ResourceTools, "upsert")
	assert.Error(t, err)
	_, err = fanoutEventName(types.ResourceEnv, "create")
	assert.Error(t, err)
}

func TestFanout_EmitsToWorkspaceRoom(t *testing.T) {
	b, mem := newTestBroker()
	mem.SetPermission("user-a", "ws-1", types.RoleTypeRead)
	mem.SetPermission("user-b", "ws-1", types.RoleTypeRead)

	alice := NewMockClient("sock-a", "user-a", "Alice")
	bob := NewMockClient("sock-b", "user-b", "Bob")
	route(t, b, alice, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})
	route(t, b, bob, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})

	data := json.RawMessage(`{"id":"tool-1","name":"search"}`)
	err := b.HandleWorkspaceResourceChanged(context.Background(), "ws-1", types.ResourceTools, "create", data)
	require.NoError(t, err)

	for _, c := range []*MockClient{alice, bob} {
		var got types.WorkspaceResourceEvent
		c.LastEvent(t, "workspace-tool-created", &got)
		assert.Equal(t, types.WorkspaceIDType("ws-1"), got.WorkspaceID)
		assert.Equal(t, "create", got.Operation)
		assert.JSONEq(t, string(data), string(got.Data))
		assert.Positive(t, got.Timestamp)
	}
}

func TestFanout_EnvKeysOnly(t *testing.T) {
	b, mem := newTestBroker()
	mem.SetPermission("user-a", "ws-1", types.RoleTypeRead)

	c := NewMockClient("sock-a", "user-a", "Alice")
	route(t, b, c, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})

	// Values in the ingress payload must never reach clients.
	data := json.RawMessage(`{"keys":["API_KEY","DB_URL"],"values":{"API_KEY":"s3cret"}}`)
	err := b.HandleWorkspaceResourceChanged(context.Background(), "ws-1", types.ResourceEnv, "update", data)
	require.NoError(t, err)

	var got types.WorkspaceResourceEvent
	c.LastEvent(t, "workspace-env-updated", &got)
	assert.JSONEq(t, `{"keys":["API_KEY","DB_URL"]}`, string(got.Data))
}

func TestFanout_EmptyRoomIsNoop(t *testing.T) {
	b, _ := newTestBroker()
	err := b.HandleWorkspaceResourceChanged(context.Background(), "ws-ghost", types.ResourceFolders, "update", nil)
	assert.NoError(t, err)
}

func TestFanout_DuplicateEventsBroadcastTwice(t *testing.T) {
	b, mem := newTestBroker()
	mem.SetPermission("user-a", "ws-1", types.RoleTypeRead)

	c := NewMockClient("sock-a", "user-a", "Alice")
	route(t, b, c, types.EventJoinWorkspace, types.JoinWorkspacePayload{WorkspaceID: "ws-1"})

	data := json.RawMessage(`{"id":"f-1"}`)
	require.NoError(t, b.HandleWorkspaceResourceChanged(context.Background(), "ws-1", types.ResourceFolders, "create", data))
	require.NoError(t, b.HandleWorkspaceResourceChanged(context.Background(), "ws-1", types.ResourceFolders, "create", data))

	assert.Equal(t, 2, c.CountEvent("workspace-folder-created"))
}
