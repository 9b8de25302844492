package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

const (
	// tombstoneTTL is how long a deleted workflow rejects re-joins. After
	// expiry the access check alone decides.
	tombstoneTTL = 30 * time.Second
)

// ErrTombstoned rejects joins that race with a workflow deletion.
var ErrTombstoned = errors.New("workflow was deleted")

// workspaceBinding caches what the connection resolved at join time.
type workspaceBinding struct {
	WorkspaceID types.WorkspaceIDType
	UserID      types.UserIDType
	Role        types.RoleType
}

// Registry is the authoritative in-memory directory of rooms. It owns
// membership, the per-socket reverse indices, and room lifecycle: rooms are
// created on first join and destroyed on last leave.
//
// Lock order is always registry.mu before a room's mu. Neither is ever held
// across durable I/O or socket sends.
type Registry struct {
	mu              sync.Mutex
	workflowRooms   map[types.WorkflowIDType]*WorkflowRoom
	workspaceRooms  map[types.WorkspaceIDType]*WorkspaceRoom
	socketWorkflow  map[types.SocketIDType]types.WorkflowIDType
	socketWorkspace map[types.SocketIDType]workspaceBinding
	tombstones      map[types.WorkflowIDType]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		workflowRooms:   make(map[types.WorkflowIDType]*WorkflowRoom),
		workspaceRooms:  make(map[types.WorkspaceIDType]*WorkspaceRoom),
		socketWorkflow:  make(map[types.SocketIDType]types.WorkflowIDType),
		socketWorkspace: make(map[types.SocketIDType]workspaceBinding),
		tombstones:      make(map[types.WorkflowIDType]time.Time),
	}
}

// IsTombstoned reports whether the workflow still carries a deletion tombstone.
func (reg *Registry) IsTombstoned(workflowID types.WorkflowIDType) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.tombstonedLocked(workflowID)
}

func (reg *Registry) tombstonedLocked(workflowID types.WorkflowIDType) bool {
	t, ok := reg.tombstones[workflowID]
	if !ok {
		return false
	}
	if time.Since(t) > tombstoneTTL {
		delete(reg.tombstones, workflowID)
		return false
	}
	return true
}

// ClearTombstone removes the negative entry, used when the durable record
// is confirmed to exist again.
func (reg *Registry) ClearTombstone(workflowID types.WorkflowIDType) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.tombstones, workflowID)
}

// JoinWorkflow places the connection into the workflow's room, creating it
// if absent and implicitly leaving any previous workflow room. Returns the
// joined room and the previous room (nil if none) so the caller can emit a
// presence update to each after the locks are released.
func (reg *Registry) JoinWorkflow(ctx context.Context, client types.ClientInterface, workflowID types.WorkflowIDType, workspaceID types.WorkspaceIDType, role types.RoleType) (*WorkflowRoom, *WorkflowRoom, error) {
	socketID := client.GetSocketID()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.tombstonedLocked(workflowID) {
		return nil, nil, ErrTombstoned
	}

	previous := reg.leaveWorkflowLocked(socketID)

	room, ok := reg.workflowRooms[workflowID]
	if !ok {
		logging.Info(ctx, "Creating workflow room", zap.String("workflow_id", string(workflowID)))
		room = newWorkflowRoom(workflowID, workspaceID)
		reg.workflowRooms[workflowID] = room
		metrics.ActiveRooms.WithLabelValues("workflow").Inc()
	}

	room.mu.Lock()
	room.addMemberLocked(client, role)
	count := len(room.clients)
	room.mu.Unlock()

	reg.socketWorkflow[socketID] = workflowID
	metrics.RoomParticipants.WithLabelValues(string(workflowID)).Set(float64(count))

	return room, previous, nil
}

// LeaveWorkflow removes the connection from its workflow room, destroying
// the room on last leave. Returns the room left, or nil.
func (reg *Registry) LeaveWorkflow(socketID types.SocketIDType) *WorkflowRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.leaveWorkflowLocked(socketID)
}

func (reg *Registry) leaveWorkflowLocked(socketID types.SocketIDType) *WorkflowRoom {
	workflowID, ok := reg.socketWorkflow[socketID]
	if !ok {
		return nil
	}
	delete(reg.socketWorkflow, socketID)

	room, ok := reg.workflowRooms[workflowID]
	if !ok {
		return nil
	}

	room.mu.Lock()
	remaining := room.removeMemberLocked(socketID)
	room.mu.Unlock()

	if remaining == 0 {
		delete(reg.workflowRooms, workflowID)
		metrics.ActiveRooms.WithLabelValues("workflow").Dec()
		metrics.RoomParticipants.DeleteLabelValues(string(workflowID))
	} else {
		metrics.RoomParticipants.WithLabelValues(string(workflowID)).Set(float64(remaining))
	}
	return room
}

// JoinWorkspace places the connection into the workspace room, implicitly
// leaving any previous one, and caches the resolved role.
func (reg *Registry) JoinWorkspace(ctx context.Context, client types.ClientInterface, workspaceID types.WorkspaceIDType, role types.RoleType) *WorkspaceRoom {
	socketID := client.GetSocketID()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.leaveWorkspaceLocked(socketID)

	room, ok := reg.workspaceRooms[workspaceID]
	if !ok {
		logging.Info(ctx, "Creating workspace room", zap.String("workspace_id", string(workspaceID)))
		room = newWorkspaceRoom(workspaceID)
		reg.workspaceRooms[workspaceID] = room
		metrics.ActiveRooms.WithLabelValues("workspace").Inc()
	}

	room.mu.Lock()
	room.addMemberLocked(client)
	room.mu.Unlock()

	reg.socketWorkspace[socketID] = workspaceBinding{
		WorkspaceID: workspaceID,
		UserID:      client.GetUser().UserID,
		Role:        role,
	}
	return room
}

// LeaveWorkspace removes the connection from its workspace room. Returns
// the binding that was dropped, or false.
func (reg *Registry) LeaveWorkspace(socketID types.SocketIDType) (workspaceBinding, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.leaveWorkspaceLocked(socketID)
}

func (reg *Registry) leaveWorkspaceLocked(socketID types.SocketIDType) (workspaceBinding, bool) {
	binding, ok := reg.socketWorkspace[socketID]
	if !ok {
		return workspaceBinding{}, false
	}
	delete(reg.socketWorkspace, socketID)

	room, ok := reg.workspaceRooms[binding.WorkspaceID]
	if !ok {
		return binding, true
	}

	room.mu.Lock()
	remaining := room.removeMemberLocked(socketID)
	room.mu.Unlock()

	if remaining == 0 {
		delete(reg.workspaceRooms, binding.WorkspaceID)
		metrics.ActiveRooms.WithLabelValues("workspace").Dec()
	}
	return binding, true
}

// WorkflowRoomFor resolves the room the socket currently edits in.
func (reg *Registry) WorkflowRoomFor(socketID types.SocketIDType) (*WorkflowRoom, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	workflowID, ok := reg.socketWorkflow[socketID]
	if !ok {
		return nil, false
	}
	room, ok := reg.workflowRooms[workflowID]
	return room, ok
}

// WorkflowRoomByID resolves a room by workflow id.
func (reg *Registry) WorkflowRoomByID(workflowID types.WorkflowIDType) (*WorkflowRoom, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.workflowRooms[workflowID]
	return room, ok
}

// WorkspaceRoomByID resolves a room by workspace id.
func (reg *Registry) WorkspaceRoomByID(workspaceID types.WorkspaceIDType) (*WorkspaceRoom, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.workspaceRooms[workspaceID]
	return room, ok
}

// WorkspaceBindingFor returns the socket's cached workspace membership.
func (reg *Registry) WorkspaceBindingFor(socketID types.SocketIDType) (types.WorkspaceIDType, types.RoleType, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	binding, ok := reg.socketWorkspace[socketID]
	return binding.WorkspaceID, binding.Role, ok
}

// UpdateWorkspaceRole rewrites the cached role of every connection of the
// user bound to the workspace. Returns the affected sockets and the role
// they held before.
func (reg *Registry) UpdateWorkspaceRole(userID types.UserIDType, workspaceID types.WorkspaceIDType, role types.RoleType) ([]types.SocketIDType, types.RoleType) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var affected []types.SocketIDType
	oldRole := types.RoleTypeNone
	for sid, binding := range reg.socketWorkspace {
		if binding.WorkspaceID != workspaceID || binding.UserID != userID {
			continue
		}
		oldRole = binding.Role
		binding.Role = role
		reg.socketWorkspace[sid] = binding
		affected = append(affected, sid)
	}
	return affected, oldRole
}

// WorkspaceClientsOfUser returns every connection of the user currently in
// the workspace room.
func (reg *Registry) WorkspaceClientsOfUser(workspaceID types.WorkspaceIDType, userID types.UserIDType) []types.ClientInterface {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.workspaceRooms[workspaceID]
	if !ok {
		return nil
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	var out []types.ClientInterface
	for _, c := range room.clients {
		if c.GetUser().UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// DropWorkspaceMemberships removes every connection of the user from the
// workspace room and clears their bindings. Returns the dropped clients.
func (reg *Registry) DropWorkspaceMemberships(userID types.UserIDType, workspaceID types.WorkspaceIDType) []types.ClientInterface {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.workspaceRooms[workspaceID]
	var dropped []types.ClientInterface
	for sid, binding := range reg.socketWorkspace {
		if binding.WorkspaceID != workspaceID || binding.UserID != userID {
			continue
		}
		delete(reg.socketWorkspace, sid)
		if room == nil {
			continue
		}
		room.mu.Lock()
		if c, ok := room.clients[sid]; ok {
			dropped = append(dropped, c)
		}
		remaining := room.removeMemberLocked(sid)
		room.mu.Unlock()
		if remaining == 0 {
			delete(reg.workspaceRooms, workspaceID)
			metrics.ActiveRooms.WithLabelValues("workspace").Dec()
			room = nil
		}
	}
	return dropped
}

// WorkflowRoomsInWorkspace snapshots the workflow rooms owned by a workspace.
func (reg *Registry) WorkflowRoomsInWorkspace(workspaceID types.WorkspaceIDType) []*WorkflowRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var out []*WorkflowRoom
	for _, room := range reg.workflowRooms {
		if room.WorkspaceID == workspaceID {
			out = append(out, room)
		}
	}
	return out
}

// EvictWorkflowRoom removes every member of the workflow room, tombstones
// the id, and returns the clients that were evicted so the caller can
// notify them outside the lock.
func (reg *Registry) EvictWorkflowRoom(workflowID types.WorkflowIDType) []types.ClientInterface {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.tombstones[workflowID] = time.Now()

	room, ok := reg.workflowRooms[workflowID]
	if !ok {
		return nil
	}

	room.mu.Lock()
	evicted := make([]types.ClientInterface, 0, len(room.clients))
	for sid, c := range room.clients {
		evicted = append(evicted, c)
		delete(reg.socketWorkflow, sid)
	}
	room.clients = make(map[types.SocketIDType]types.ClientInterface)
	room.presences = make(map[types.SocketIDType]*types.Presence)
	room.mu.Unlock()

	delete(reg.workflowRooms, workflowID)
	metrics.ActiveRooms.WithLabelValues("workflow").Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(workflowID))

	return evicted
}

// TotalConnections counts sockets known to either reverse index.
func (reg *Registry) TotalConnections() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	seen := make(map[types.SocketIDType]struct{}, len(reg.socketWorkflow)+len(reg.socketWorkspace))
	for sid := range reg.socketWorkflow {
		seen[sid] = struct{}{}
	}
	for sid := range reg.socketWorkspace {
		seen[sid] = struct{}{}
	}
	return len(seen)
}

// AllWorkflowRooms snapshots every active workflow room.
func (reg *Registry) AllWorkflowRooms() []*WorkflowRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*WorkflowRoom, 0, len(reg.workflowRooms))
	for _, room := range reg.workflowRooms {
		out = append(out, room)
	}
	return out
}

// AllWorkspaceRooms snapshots every active workspace room.
func (reg *Registry) AllWorkspaceRooms() []*WorkspaceRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*WorkspaceRoom, 0, len(reg.workspaceRooms))
	for _, room := range reg.workspaceRooms {
		out = append(out, room)
	}
	return out
}
