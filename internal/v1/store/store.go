// Package store provides the broker's view of the durable workflow and
// permission records. The broker never owns this data; it reads and mutates
// documents the application tier persists.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

var (
	// ErrNotFound indicates the workflow record does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrConflict indicates a mutation failed a semantic precondition
	// (missing edge endpoint, duplicate block id, unknown variable).
	// Surfaced to the originator as an operation failure, never a fault.
	ErrConflict = errors.New("operation conflict")

	// ErrTxContention indicates the optimistic transaction kept losing the
	// race with concurrent writers and gave up.
	ErrTxContention = errors.New("transaction contention")
)

// Conflictf builds an ErrConflict with a client-visible reason.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// WorkflowStore exposes read/replace of full workflow state and transactional
// fine-grained mutation of it.
type WorkflowStore interface {
	// GetState returns the current document. ErrNotFound when absent.
	GetState(ctx context.Context, id types.WorkflowIDType) (*types.WorkflowState, error)

	// ReplaceState overwrites the full document.
	ReplaceState(ctx context.Context, id types.WorkflowIDType, state *types.WorkflowState) error

	// Mutate applies fn to the current document inside a single optimistic
	// transaction and persists the result, returning the committed state.
	// fn errors abort the transaction and are returned unchanged.
	Mutate(ctx context.Context, id types.WorkflowIDType, fn func(*types.WorkflowState) error) (*types.WorkflowState, error)

	// GetMeta resolves the workflow's registry entry (workspace, folder).
	GetMeta(ctx context.Context, id types.WorkflowIDType) (*types.WorkflowMeta, error)

	// Exists reports whether the durable record is present.
	Exists(ctx context.Context, id types.WorkflowIDType) (bool, error)

	Ping(ctx context.Context) error
}

// PermissionStore answers "what role does user U hold on workspace W?".
type PermissionStore interface {
	// WorkspaceRole returns (role, true) when the user has access and
	// (RoleTypeNone, false) when not. The error is reserved for
	// infrastructure failures.
	WorkspaceRole(ctx context.Context, userID types.UserIDType, workspaceID types.WorkspaceIDType) (types.RoleType, bool, error)
}
