package collab

import (
	"context"

	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// HandlePermissionChanged applies a workspace role change or removal to
// every live connection of the user. The socket itself stays open either
// way; a removed client is expected to navigate away.
func (b *Broker) HandlePermissionChanged(ctx context.Context, userID types.UserIDType, workspaceID types.WorkspaceIDType, newRole types.RoleType, isRemoved bool) {
	if isRemoved {
		b.revokeUser(ctx, userID, workspaceID)
		return
	}

	_, oldRole := b.registry.UpdateWorkspaceRole(userID, workspaceID, newRole)

	payload := types.PermissionChangedPayload{
		WorkspaceID: workspaceID,
		OldRole:     oldRole,
		NewRole:     newRole,
	}

	notified := make(map[types.SocketIDType]struct{})
	for _, c := range b.registry.WorkspaceClientsOfUser(workspaceID, userID) {
		c.Send(types.EventPermissionChanged, payload)
		notified[c.GetSocketID()] = struct{}{}
	}

	for _, room := range b.registry.WorkflowRoomsInWorkspace(workspaceID) {
		affected := room.updateRoleOfUser(userID, newRole)
		if len(affected) == 0 {
			continue
		}
		for _, c := range room.clientsOfUser(userID) {
			if _, seen := notified[c.GetSocketID()]; seen {
				continue
			}
			c.Send(types.EventPermissionChanged, payload)
			notified[c.GetSocketID()] = struct{}{}
		}
		// Remaining members see the new role in the snapshot.
		room.BroadcastPresence(ctx)
	}

	logging.Info(ctx, "Applied permission change",
		zap.String("user_id", string(userID)),
		zap.String("workspace_id", string(workspaceID)),
		zap.String("new_role", string(newRole)),
		zap.Int("connections", len(notified)))
}

// revokeUser force-leaves every room of the user in the workspace and
// notifies each affected connection exactly once.
func (b *Broker) revokeUser(ctx context.Context, userID types.UserIDType, workspaceID types.WorkspaceIDType) {
	payload := types.PermissionRevokedPayload{WorkspaceID: workspaceID}
	notified := make(map[types.SocketIDType]struct{})

	notify := func(c types.ClientInterface) {
		if _, seen := notified[c.GetSocketID()]; seen {
			return
		}
		c.Send(types.EventPermissionRevoked, payload)
		notified[c.GetSocketID()] = struct{}{}
	}

	for _, room := range b.registry.WorkflowRoomsInWorkspace(workspaceID) {
		evictees := room.clientsOfUser(userID)
		if len(evictees) == 0 {
			continue
		}
		for _, c := range evictees {
			notify(c)
			b.registry.LeaveWorkflow(c.GetSocketID())
			metrics.Evictions.WithLabelValues("permission-revoked").Inc()
		}
		if room.ActiveConnections() > 0 {
			room.BroadcastPresence(ctx)
		}
	}

	for _, c := range b.registry.DropWorkspaceMemberships(userID, workspaceID) {
		notify(c)
	}

	logging.Info(ctx, "Revoked workspace access",
		zap.String("user_id", string(userID)),
		zap.String("workspace_id", string(workspaceID)),
		zap.Int("connections", len(notified)))
}

// HandleWorkflowDeleted evicts the workflow's room, tombstones it, and
// tells each evicted connection to clear local state. Sockets stay open.
func (b *Broker) HandleWorkflowDeleted(ctx context.Context, workflowID types.WorkflowIDType) {
	evicted := b.registry.EvictWorkflowRoom(workflowID)

	payload := types.WorkflowDeletedPayload{WorkflowID: workflowID}
	for _, c := range evicted {
		c.Send(types.EventWorkflowDeleted, payload)
		metrics.Evictions.WithLabelValues("workflow-deleted").Inc()
	}

	logging.Info(ctx, "Workflow deleted, room tombstoned",
		zap.String("workflow_id", string(workflowID)),
		zap.Int("evicted", len(evicted)))
}

// HandleWorkflowUpdated signals an out-of-band rewrite of the durable
// record. Clients re-fetch via the sync path.
func (b *Broker) HandleWorkflowUpdated(ctx context.Context, workflowID types.WorkflowIDType) {
	room, ok := b.registry.WorkflowRoomByID(workflowID)
	if !ok {
		return
	}
	room.Broadcast(ctx, types.EventWorkflowUpdated, types.WorkflowUpdatedPayload{WorkflowID: workflowID}, "")
}

// HandleWorkflowReverted broadcasts a revert; clients treat it as a forced
// re-sync.
func (b *Broker) HandleWorkflowReverted(ctx context.Context, workflowID types.WorkflowIDType) {
	room, ok := b.registry.WorkflowRoomByID(workflowID)
	if !ok {
		return
	}
	room.Broadcast(ctx, types.EventWorkflowReverted, types.WorkflowRevertedPayload{WorkflowID: workflowID}, "")
}

// HandleCopilotEdit broadcasts that an automated editor rewrote the record.
func (b *Broker) HandleCopilotEdit(ctx context.Context, workflowID types.WorkflowIDType, description string) {
	room, ok := b.registry.WorkflowRoomByID(workflowID)
	if !ok {
		return
	}
	room.Broadcast(ctx, types.EventCopilotEdit, types.CopilotEditPayload{
		WorkflowID:  workflowID,
		Description: description,
	}, "")
}

// NotifyShutdown tells every connected client the broker is going away.
// Rooms and presence are not persisted; clients must rejoin after restart.
func (b *Broker) NotifyShutdown(ctx context.Context) {
	for _, room := range b.registry.AllWorkflowRooms() {
		room.Broadcast(ctx, types.EventServerShutdown, nil, "")
	}
	for _, room := range b.registry.AllWorkspaceRooms() {
		room.Broadcast(ctx, types.EventServerShutdown, nil, "")
	}
	logging.Info(ctx, "Shutdown notice broadcast to all rooms")
}
