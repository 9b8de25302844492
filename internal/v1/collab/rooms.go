// Package collab implements the broker core: the room registry, presence
// tracking, the workflow operation pipeline, workspace fanout, and eviction.
package collab

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// WorkflowRoom is the set of connections editing one workflow, plus their
// live presence. Membership is guarded by mu; the operation pipeline is
// serialized separately by opMu so durable I/O never blocks membership.
type WorkflowRoom struct {
	ID          types.WorkflowIDType
	WorkspaceID types.WorkspaceIDType

	mu        sync.RWMutex
	clients   map[types.SocketIDType]types.ClientInterface
	presences map[types.SocketIDType]*types.Presence

	// opMu serializes the operation pipeline for this workflow. Held across
	// the durable commit, never together with mu.
	opMu          sync.Mutex
	lastTimestamp int64
	lastModified  int64
}

func newWorkflowRoom(id types.WorkflowIDType, workspaceID types.WorkspaceIDType) *WorkflowRoom {
	return &WorkflowRoom{
		ID:          id,
		WorkspaceID: workspaceID,
		clients:     make(map[types.SocketIDType]types.ClientInterface),
		presences:   make(map[types.SocketIDType]*types.Presence),
	}
}

// nextTimestamp issues the server-authoritative timestamp for a committed
// operation. Strictly monotonic per room even when the wall clock stalls.
// Caller must hold opMu.
func (r *WorkflowRoom) nextTimestamp() int64 {
	now := time.Now().UnixMilli()
	if now <= r.lastTimestamp {
		now = r.lastTimestamp + 1
	}
	r.lastTimestamp = now
	return now
}

// bumpLastModified records the timestamp of a successful operation.
// Caller must hold opMu.
func (r *WorkflowRoom) bumpLastModified(ts int64) {
	r.lastModified = ts
}

// LastModified returns the server timestamp of the room's latest operation.
func (r *WorkflowRoom) LastModified() int64 {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.lastModified
}

func (r *WorkflowRoom) addMemberLocked(client types.ClientInterface, role types.RoleType) *types.Presence {
	now := time.Now().UnixMilli()
	user := client.GetUser()
	p := &types.Presence{
		UserID:       user.UserID,
		UserName:     user.Name,
		Avatar:       user.Avatar,
		SocketID:     client.GetSocketID(),
		JoinedAt:     now,
		LastActivity: now,
		Role:         role,
	}
	r.clients[client.GetSocketID()] = client
	r.presences[client.GetSocketID()] = p
	return p
}

func (r *WorkflowRoom) removeMemberLocked(socketID types.SocketIDType) int {
	delete(r.clients, socketID)
	delete(r.presences, socketID)
	return len(r.clients)
}

// ActiveConnections returns the membership count.
func (r *WorkflowRoom) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// UniqueUserCount deduplicates multiple connections of the same user.
func (r *WorkflowRoom) UniqueUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[types.UserIDType]struct{}, len(r.presences))
	for _, p := range r.presences {
		seen[p.UserID] = struct{}{}
	}
	return len(seen)
}

// IsMember checks if the given socket belongs to the room.
func (r *WorkflowRoom) IsMember(socketID types.SocketIDType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[socketID]
	return ok
}

// RoleOf returns the cached role of a member's presence.
func (r *WorkflowRoom) RoleOf(socketID types.SocketIDType) (types.RoleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presences[socketID]
	if !ok {
		return types.RoleTypeNone, false
	}
	return p.Role, true
}

// UpdateCursor mutates the sender's presence cursor.
func (r *WorkflowRoom) UpdateCursor(socketID types.SocketIDType, cursor types.CursorPosition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presences[socketID]
	if !ok {
		return false
	}
	c := cursor
	p.Cursor = &c
	p.LastActivity = time.Now().UnixMilli()
	return true
}

// UpdateSelection mutates the sender's presence selection.
func (r *WorkflowRoom) UpdateSelection(socketID types.SocketIDType, sel types.Selection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presences[socketID]
	if !ok {
		return false
	}
	s := sel
	p.Selection = &s
	p.LastActivity = time.Now().UnixMilli()
	return true
}

// updateRoleOfUser rewrites the cached role on every presence of the user
// and returns the affected sockets.
func (r *WorkflowRoom) updateRoleOfUser(userID types.UserIDType, role types.RoleType) []types.SocketIDType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected []types.SocketIDType
	for sid, p := range r.presences {
		if p.UserID == userID {
			p.Role = role
			affected = append(affected, sid)
		}
	}
	return affected
}

// clientsOfUser returns every connection of the user in this room.
func (r *WorkflowRoom) clientsOfUser(userID types.UserIDType) []types.ClientInterface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ClientInterface
	for sid, p := range r.presences {
		if p.UserID == userID {
			if c, ok := r.clients[sid]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// SnapshotPresence returns the full ordered membership. Ordered by join
// time with socket id as tie-break so every receiver sees the same list.
func (r *WorkflowRoom) SnapshotPresence() []types.Presence {
	r.mu.RLock()
	out := make([]types.Presence, 0, len(r.presences))
	for _, p := range r.presences {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].SocketID < out[j].SocketID
	})
	return out
}

// Broadcast marshals the payload once and queues it to every member except
// exclude. Recipients are collected under the read lock and sent to after
// release, so a slow socket never stalls membership.
func (r *WorkflowRoom) Broadcast(ctx context.Context, event string, payload any, exclude types.SocketIDType) {
	data, err := types.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(ctx, "Failed to marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.RLock()
	recipients := make([]types.ClientInterface, 0, len(r.clients))
	for sid, c := range r.clients {
		if sid != exclude {
			recipients = append(recipients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		c.SendRaw(data)
	}
}

// BroadcastPresence emits the full snapshot to every member.
func (r *WorkflowRoom) BroadcastPresence(ctx context.Context) {
	snapshot := types.PresenceSnapshot{
		WorkflowID: r.ID,
		Users:      r.SnapshotPresence(),
	}
	r.Broadcast(ctx, types.EventPresenceUpdate, snapshot, "")
}

// WorkspaceRoom is the set of connections subscribed to one workspace's
// resource events. Carries membership only, no presence.
type WorkspaceRoom struct {
	ID types.WorkspaceIDType

	mu      sync.RWMutex
	clients map[types.SocketIDType]types.ClientInterface
}

func newWorkspaceRoom(id types.WorkspaceIDType) *WorkspaceRoom {
	return &WorkspaceRoom{
		ID:      id,
		clients: make(map[types.SocketIDType]types.ClientInterface),
	}
}

func (r *WorkspaceRoom) addMemberLocked(client types.ClientInterface) {
	r.clients[client.GetSocketID()] = client
}

func (r *WorkspaceRoom) removeMemberLocked(socketID types.SocketIDType) int {
	delete(r.clients, socketID)
	return len(r.clients)
}

// ActiveConnections returns the membership count.
func (r *WorkspaceRoom) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IsMember checks if the given socket belongs to the room.
func (r *WorkspaceRoom) IsMember(socketID types.SocketIDType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[socketID]
	return ok
}

// Broadcast queues an event to every member except exclude.
func (r *WorkspaceRoom) Broadcast(ctx context.Context, event string, payload any, exclude types.SocketIDType) {
	data, err := types.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(ctx, "Failed to marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.RLock()
	recipients := make([]types.ClientInterface, 0, len(r.clients))
	for sid, c := range r.clients {
		if sid != exclude {
			recipients = append(recipients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		c.SendRaw(data)
	}
}
