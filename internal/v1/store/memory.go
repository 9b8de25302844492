package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

// Memory is an in-process WorkflowStore/PermissionStore used by tests and
// single-instance development mode. Documents round-trip through JSON so
// callers never share pointers with the store, matching Redis semantics.
type Memory struct {
	mu     sync.RWMutex
	states map[types.WorkflowIDType][]byte
	metas  map[types.WorkflowIDType]types.WorkflowMeta
	perms  map[string]types.RoleType // "{workspaceId}:{userId}"
}

var _ WorkflowStore = (*Memory)(nil)
var _ PermissionStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		states: make(map[types.WorkflowIDType][]byte),
		metas:  make(map[types.WorkflowIDType]types.WorkflowMeta),
		perms:  make(map[string]types.RoleType),
	}
}

func permMapKey(workspaceID types.WorkspaceIDType, userID types.UserIDType) string {
	return string(workspaceID) + ":" + string(userID)
}

// CreateWorkflow seeds a workflow document and its registry entry.
func (m *Memory) CreateWorkflow(id types.WorkflowIDType, workspaceID types.WorkspaceIDType, state *types.WorkflowState) {
	if state == nil {
		state = types.NewWorkflowState()
	}
	data, _ := json.Marshal(state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = data
	m.metas[id] = types.WorkflowMeta{ID: id, WorkspaceID: workspaceID, Name: string(id)}
}

// DeleteWorkflow removes the document and registry entry.
func (m *Memory) DeleteWorkflow(id types.WorkflowIDType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	delete(m.metas, id)
}

// SetPermission seeds a workspace role. RoleTypeNone removes the grant.
func (m *Memory) SetPermission(userID types.UserIDType, workspaceID types.WorkspaceIDType, role types.RoleType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == types.RoleTypeNone {
		delete(m.perms, permMapKey(workspaceID, userID))
		return
	}
	m.perms[permMapKey(workspaceID, userID)] = role
}

func (m *Memory) GetState(ctx context.Context, id types.WorkflowIDType) (*types.WorkflowState, error) {
	m.mu.RLock()
	raw, ok := m.states[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var state types.WorkflowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *Memory) ReplaceState(ctx context.Context, id types.WorkflowIDType, state *types.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = data
	return nil
}

func (m *Memory) Mutate(ctx context.Context, id types.WorkflowIDType, fn func(*types.WorkflowState) error) (*types.WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.states[id]
	if !ok {
		return nil, ErrNotFound
	}

	var state types.WorkflowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	if err := fn(&state); err != nil {
		return nil, err
	}

	data, err := json.Marshal(&state)
	if err != nil {
		return nil, err
	}
	m.states[id] = data
	return &state, nil
}

func (m *Memory) GetMeta(ctx context.Context, id types.WorkflowIDType) (*types.WorkflowMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.metas[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

func (m *Memory) Exists(ctx context.Context, id types.WorkflowIDType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[id]
	return ok, nil
}

func (m *Memory) WorkspaceRole(ctx context.Context, userID types.UserIDType, workspaceID types.WorkspaceIDType) (types.RoleType, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.perms[permMapKey(workspaceID, userID)]
	if !ok || !role.Valid() {
		return types.RoleTypeNone, false, nil
	}
	return role, true, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
