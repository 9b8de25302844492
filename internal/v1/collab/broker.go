package collab

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/access"
	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/store"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// Broker binds inbound socket events to the registry, the presence tracker,
// and the operation pipeline. One Broker serves the whole process.
type Broker struct {
	registry  *Registry
	resolver  *access.Resolver
	workflows store.WorkflowStore
}

var _ types.SocketRouter = (*Broker)(nil)

func NewBroker(registry *Registry, resolver *access.Resolver, workflows store.WorkflowStore) *Broker {
	return &Broker{
		registry:  registry,
		resolver:  resolver,
		workflows: workflows,
	}
}

// Registry exposes the room directory to the ingress layer.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Route dispatches one inbound socket frame.
func (b *Broker) Route(ctx context.Context, client types.ClientInterface, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Warn(ctx, "Dropping malformed socket frame", zap.Error(err))
		metrics.SocketEvents.WithLabelValues("malformed", "error").Inc()
		return
	}

	switch env.Event {
	case types.EventJoinWorkspace:
		b.handleJoinWorkspace(ctx, client, env.Payload)
	case types.EventLeaveWorkspace:
		b.handleLeaveWorkspace(ctx, client)
	case types.EventJoinWorkflow:
		b.handleJoinWorkflow(ctx, client, env.Payload)
	case types.EventLeaveWorkflow:
		b.handleLeaveWorkflow(ctx, client)
	case types.EventWorkflowOperation:
		b.handleOperation(ctx, client, env.Payload)
	case types.EventSubblockUpdate:
		b.handleSubblockUpdate(ctx, client, env.Payload)
	case types.EventVariableUpdate:
		b.handleVariableUpdate(ctx, client, env.Payload)
	case types.EventCursorUpdate:
		b.handleCursorUpdate(ctx, client, env.Payload)
	case types.EventSelectionUpdate:
		b.handleSelectionUpdate(ctx, client, env.Payload)
	case types.EventRequestSync:
		b.handleRequestSync(ctx, client, env.Payload)
	default:
		logging.Warn(ctx, "Unknown socket event", zap.String("event", env.Event))
		metrics.SocketEvents.WithLabelValues("unknown", "error").Inc()
		return
	}
	metrics.SocketEvents.WithLabelValues(env.Event, "ok").Inc()
}

// HandleDisconnect tears down the connection's room memberships. Committed
// operations stand; the rest of each room gets a fresh presence snapshot.
func (b *Broker) HandleDisconnect(ctx context.Context, client types.ClientInterface) {
	socketID := client.GetSocketID()

	if room := b.registry.LeaveWorkflow(socketID); room != nil && room.ActiveConnections() > 0 {
		room.BroadcastPresence(ctx)
	}
	b.registry.LeaveWorkspace(socketID)

	logging.Info(ctx, "Client disconnected",
		zap.String("socket_id", string(socketID)),
		zap.String("user_id", string(client.GetUser().UserID)))
}

func (b *Broker) handleJoinWorkspace(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var p types.JoinWorkspacePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.WorkspaceID == "" {
		client.Send(types.EventJoinWorkspaceError, types.JoinWorkspaceErrorPayload{
			WorkspaceID: p.WorkspaceID,
			Reason:      "workspaceId is required",
		})
		return
	}

	acc, err := b.resolver.ResolveWorkspaceAccess(ctx, client.GetUser().UserID, p.WorkspaceID)
	if err != nil {
		logging.Error(ctx, "Workspace access resolution failed",
			zap.String("workspace_id", string(p.WorkspaceID)), zap.Error(err))
		client.Send(types.EventJoinWorkspaceError, types.JoinWorkspaceErrorPayload{
			WorkspaceID: p.WorkspaceID,
			Reason:      "internal error",
		})
		return
	}
	if !acc.HasAccess {
		client.Send(types.EventJoinWorkspaceError, types.JoinWorkspaceErrorPayload{
			WorkspaceID: p.WorkspaceID,
			Reason:      "access denied",
		})
		return
	}

	b.registry.JoinWorkspace(ctx, client, p.WorkspaceID, acc.Role)
	client.Send(types.EventJoinedWorkspace, types.JoinedWorkspacePayload{
		WorkspaceID: p.WorkspaceID,
		Role:        acc.Role,
	})

	logging.Info(ctx, "Joined workspace",
		zap.String("workspace_id", string(p.WorkspaceID)),
		zap.String("socket_id", string(client.GetSocketID())),
		zap.String("role", string(acc.Role)))
}

func (b *Broker) handleLeaveWorkspace(ctx context.Context, client types.ClientInterface) {
	binding, ok := b.registry.LeaveWorkspace(client.GetSocketID())
	if !ok {
		return
	}
	client.Send(types.EventLeftWorkspace, types.LeftWorkspacePayload{WorkspaceID: binding.WorkspaceID})
}

func (b *Broker) handleJoinWorkflow(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var p types.JoinWorkflowPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.WorkflowID == "" {
		client.Send(types.EventJoinWorkflowError, types.JoinWorkflowErrorPayload{
			WorkflowID: p.WorkflowID,
			Reason:     "workflowId is required",
		})
		return
	}

	// A tombstone blocks re-joins that race with deletion. It lifts as soon
	// as the durable record is observed again.
	if b.registry.IsTombstoned(p.WorkflowID) {
		exists, err := b.workflows.Exists(ctx, p.WorkflowID)
		if err != nil || !exists {
			client.Send(types.EventJoinWorkflowError, types.JoinWorkflowErrorPayload{
				WorkflowID: p.WorkflowID,
				Reason:     "workflow was deleted",
			})
			return
		}
		b.registry.ClearTombstone(p.WorkflowID)
	}

	acc, workspaceID, err := b.resolver.ResolveWorkflowAccess(ctx, client.GetUser().UserID, p.WorkflowID)
	if err != nil {
		reason := "internal error"
		if errors.Is(err, access.ErrWorkflowNotFound) {
			reason = "workflow not found"
		} else {
			logging.Error(ctx, "Workflow access resolution failed",
				zap.String("workflow_id", string(p.WorkflowID)), zap.Error(err))
		}
		client.Send(types.EventJoinWorkflowError, types.JoinWorkflowErrorPayload{
			WorkflowID: p.WorkflowID,
			Reason:     reason,
		})
		return
	}
	if !acc.HasAccess {
		client.Send(types.EventJoinWorkflowError, types.JoinWorkflowErrorPayload{
			WorkflowID: p.WorkflowID,
			Reason:     "access denied",
		})
		return
	}

	room, previous, err := b.registry.JoinWorkflow(ctx, client, p.WorkflowID, workspaceID, acc.Role)
	if err != nil {
		client.Send(types.EventJoinWorkflowError, types.JoinWorkflowErrorPayload{
			WorkflowID: p.WorkflowID,
			Reason:     "workflow was deleted",
		})
		return
	}

	client.Send(types.EventJoinedWorkflow, types.JoinedWorkflowPayload{
		WorkflowID:  p.WorkflowID,
		WorkspaceID: workspaceID,
		Role:        acc.Role,
	})

	// One presence update per affected room.
	room.BroadcastPresence(ctx)
	if previous != nil && previous.ActiveConnections() > 0 {
		previous.BroadcastPresence(ctx)
	}

	logging.Info(ctx, "Joined workflow",
		zap.String("workflow_id", string(p.WorkflowID)),
		zap.String("socket_id", string(client.GetSocketID())),
		zap.String("role", string(acc.Role)))
}

func (b *Broker) handleLeaveWorkflow(ctx context.Context, client types.ClientInterface) {
	room := b.registry.LeaveWorkflow(client.GetSocketID())
	if room == nil {
		return
	}
	client.Send(types.EventLeftWorkflow, types.LeftWorkflowPayload{WorkflowID: room.ID})
	if room.ActiveConnections() > 0 {
		room.BroadcastPresence(ctx)
	}
}
