package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

func TestMemory_SeedAndRead(t *testing.T) {
	m := NewMemory()
	m.CreateWorkflow("wf-1", "ws-1", nil)
	m.SetPermission("user-1", "ws-1", types.RoleTypeAdmin)

	ctx := context.Background()

	state, err := m.GetState(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, state.Blocks)

	meta, err := m.GetMeta(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkspaceIDType("ws-1"), meta.WorkspaceID)

	role, ok, err := m.WorkspaceRole(ctx, "user-1", "ws-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.RoleTypeAdmin, role)
}

func TestMemory_MutateIsolation(t *testing.T) {
	m := NewMemory()
	m.CreateWorkflow("wf-1", "ws-1", nil)

	ctx := context.Background()

	committed, err := m.Mutate(ctx, "wf-1", func(s *types.WorkflowState) error {
		s.Blocks["b1"] = types.Block{ID: "b1", Type: "agent"}
		return nil
	})
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	committed.Blocks["b2"] = types.Block{ID: "b2"}

	got, err := m.GetState(ctx, "wf-1")
	require.NoError(t, err)
	assert.Contains(t, got.Blocks, "b1")
	assert.NotContains(t, got.Blocks, "b2")
}

func TestMemory_DeleteAndRevoke(t *testing.T) {
	m := NewMemory()
	m.CreateWorkflow("wf-1", "ws-1", nil)
	m.SetPermission("user-1", "ws-1", types.RoleTypeRead)

	ctx := context.Background()

	m.DeleteWorkflow("wf-1")
	_, err := m.GetState(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := m.Exists(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, ok)

	m.SetPermission("user-1", "ws-1", types.RoleTypeNone)
	_, ok, err = m.WorkspaceRole(ctx, "user-1", "ws-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
