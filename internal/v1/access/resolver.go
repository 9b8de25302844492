// Package access resolves what a user may do to a workspace or workflow.
// Roles live in the permission store; this package only answers questions,
// it never grants anything.
package access

import (
	"context"
	"errors"

	"github.com/git-yup-ai/sim/internal/v1/store"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// ErrWorkflowNotFound indicates the workflow has no registry entry, so no
// workspace (and therefore no role) can be resolved for it.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Access is the result of a permission lookup.
type Access struct {
	HasAccess bool
	Role      types.RoleType
}

// Resolver answers workspace and workflow permission questions.
type Resolver struct {
	workflows   store.WorkflowStore
	permissions store.PermissionStore
}

func NewResolver(workflows store.WorkflowStore, permissions store.PermissionStore) *Resolver {
	return &Resolver{workflows: workflows, permissions: permissions}
}

// ResolveWorkspaceAccess returns the user's role on the workspace, if any.
func (r *Resolver) ResolveWorkspaceAccess(ctx context.Context, userID types.UserIDType, workspaceID types.WorkspaceIDType) (Access, error) {
	role, ok, err := r.permissions.WorkspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return Access{}, err
	}
	if !ok {
		return Access{HasAccess: false, Role: types.RoleTypeNone}, nil
	}
	return Access{HasAccess: true, Role: role}, nil
}

// ResolveWorkflowAccess resolves the workflow's workspace and then the
// user's role on it. Workflow permissions are always inherited from the
// owning workspace.
func (r *Resolver) ResolveWorkflowAccess(ctx context.Context, userID types.UserIDType, workflowID types.WorkflowIDType) (Access, types.WorkspaceIDType, error) {
	meta, err := r.workflows.GetMeta(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Access{}, "", ErrWorkflowNotFound
		}
		return Access{}, "", err
	}

	acc, err := r.ResolveWorkspaceAccess(ctx, userID, meta.WorkspaceID)
	if err != nil {
		return Access{}, meta.WorkspaceID, err
	}
	return acc, meta.WorkspaceID, nil
}
