package collab

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/store"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// handleOperation runs a workflow mutation through the pipeline:
// authorize, validate, apply, confirm, broadcast. Per-room serialization
// comes from the room's opMu; every observer sees the same order.
func (b *Broker) handleOperation(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var req types.OperationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		client.Send(types.EventOperationError, types.OperationFailure{Reason: "malformed operation request"})
		return
	}

	room, ok := b.registry.WorkflowRoomFor(client.GetSocketID())
	if !ok {
		client.Send(types.EventOperationError, types.OperationFailure{
			OperationID: req.OperationID,
			Reason:      "not in a workflow room",
		})
		return
	}

	role, ok := room.RoleOf(client.GetSocketID())
	if !ok || !role.CanEdit() {
		client.Send(types.EventOperationForbidden, types.OperationFailure{
			OperationID: req.OperationID,
			Reason:      "insufficient role",
		})
		metrics.Operations.WithLabelValues(req.Target, req.Operation, "forbidden").Inc()
		return
	}

	compiled, err := compileOperation(req.Target, req.Operation, req.Payload)
	if err != nil {
		client.Send(types.EventOperationError, types.OperationFailure{
			OperationID: req.OperationID,
			Reason:      err.Error(),
		})
		metrics.Operations.WithLabelValues(req.Target, req.Operation, "invalid").Inc()
		return
	}

	timer := prometheus.NewTimer(metrics.OperationDuration.WithLabelValues(req.Target))
	defer timer.ObserveDuration()

	room.opMu.Lock()
	defer room.opMu.Unlock()

	ts := room.nextTimestamp()

	if compiled.mutate != nil {
		if _, err := b.workflows.Mutate(ctx, room.ID, withLastSaved(compiled.mutate, ts)); err != nil {
			b.reportApplyFailure(ctx, client, room, req, err)
			return
		}
	}

	room.bumpLastModified(ts)

	client.Send(types.EventOperationConfirmed, types.OperationAck{
		OperationID:     req.OperationID,
		ServerTimestamp: ts,
	})
	room.Broadcast(ctx, types.EventWorkflowOperation, types.OperationBroadcast{
		OperationID:     req.OperationID,
		Operation:       req.Operation,
		Target:          req.Target,
		Payload:         req.Payload,
		ServerTimestamp: ts,
		UserID:          client.GetUser().UserID,
		SocketID:        client.GetSocketID(),
	}, client.GetSocketID())

	metrics.Operations.WithLabelValues(req.Target, req.Operation, "confirmed").Inc()
}

// withLastSaved stamps the document's save marker inside the same
// transaction as the mutation.
func withLastSaved(fn func(*types.WorkflowState) error, ts int64) func(*types.WorkflowState) error {
	return func(s *types.WorkflowState) error {
		if err := fn(s); err != nil {
			return err
		}
		s.LastSaved = ts
		return nil
	}
}

// reportApplyFailure maps a store error onto the wire taxonomy. Only the
// originator hears about failures; the room never sees unpersisted ops.
func (b *Broker) reportApplyFailure(ctx context.Context, client types.ClientInterface, room *WorkflowRoom, req types.OperationRequest, err error) {
	reason := "internal error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		reason = "workflow not found"
	case errors.Is(err, store.ErrConflict):
		reason = err.Error()
	case errors.Is(err, store.ErrTxContention):
		reason = "too much contention, retry"
	default:
		logging.Error(ctx, "Operation apply failed",
			zap.String("workflow_id", string(room.ID)),
			zap.String("target", req.Target),
			zap.String("operation", req.Operation),
			zap.Error(err))
	}

	client.Send(types.EventOperationFailed, types.OperationFailure{
		OperationID: req.OperationID,
		Reason:      reason,
	})
	metrics.Operations.WithLabelValues(req.Target, req.Operation, "failed").Inc()
}

// handleSubblockUpdate is the narrow path for editing a single subblock
// value without touching block topology.
func (b *Broker) handleSubblockUpdate(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var p types.SubblockUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		client.Send(types.EventOperationError, types.OperationFailure{Reason: "malformed subblock update"})
		return
	}

	room, role, ok := b.roomAndRole(client)
	if !ok {
		client.Send(types.EventOperationError, types.OperationFailure{
			OperationID: p.OperationID,
			Reason:      "not in a workflow room",
		})
		return
	}
	if !role.CanEdit() {
		client.Send(types.EventOperationForbidden, types.OperationFailure{
			OperationID: p.OperationID,
			Reason:      "insufficient role",
		})
		return
	}

	compiled, err := compileSubblockMutation(p.BlockID, p.SubblockID, p.Value)
	if err != nil {
		client.Send(types.EventOperationError, types.OperationFailure{
			OperationID: p.OperationID,
			Reason:      err.Error(),
		})
		return
	}

	room.opMu.Lock()
	defer room.opMu.Unlock()

	ts := room.nextTimestamp()
	if _, err := b.workflows.Mutate(ctx, room.ID, withLastSaved(compiled.mutate, ts)); err != nil {
		b.reportApplyFailure(ctx, client, room, types.OperationRequest{
			Operation:   "update",
			Target:      TargetSubblock,
			OperationID: p.OperationID,
		}, err)
		return
	}
	room.bumpLastModified(ts)

	if p.OperationID != "" {
		client.Send(types.EventOperationConfirmed, types.OperationAck{
			OperationID:     p.OperationID,
			ServerTimestamp: ts,
		})
	}
	room.Broadcast(ctx, types.EventSubblockUpdate, types.SubblockBroadcast{
		BlockID:         p.BlockID,
		SubblockID:      p.SubblockID,
		Value:           p.Value,
		OperationID:     p.OperationID,
		ServerTimestamp: ts,
		UserID:          client.GetUser().UserID,
		SocketID:        client.GetSocketID(),
	}, client.GetSocketID())

	metrics.Operations.WithLabelValues(TargetSubblock, "update", "confirmed").Inc()
}

// handleVariableUpdate is the narrow path for setting a variable's value.
func (b *Broker) handleVariableUpdate(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var p types.VariableUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		client.Send(types.EventOperationError, types.OperationFailure{Reason: "malformed variable update"})
		return
	}
	if p.VariableID == "" {
		client.Send(types.EventOperationError, types.OperationFailure{
			OperationID: p.OperationID,
			Reason:      "variable update requires variableId",
		})
		return
	}

	room, role, ok := b.roomAndRole(client)
	if !ok {
		client.Send(types.EventOperationError, types.OperationFailure{
			OperationID: p.OperationID,
			Reason:      "not in a workflow room",
		})
		return
	}
	if !role.CanEdit() {
		client.Send(types.EventOperationForbidden, types.OperationFailure{
			OperationID: p.OperationID,
			Reason:      "insufficient role",
		})
		return
	}

	room.opMu.Lock()
	defer room.opMu.Unlock()

	ts := room.nextTimestamp()
	mutate := func(s *types.WorkflowState) error {
		v, ok := s.Variables[p.VariableID]
		if !ok {
			return store.Conflictf("variable %s does not exist", p.VariableID)
		}
		v.Value = p.Value
		s.Variables[p.VariableID] = v
		return nil
	}
	if _, err := b.workflows.Mutate(ctx, room.ID, withLastSaved(mutate, ts)); err != nil {
		b.reportApplyFailure(ctx, client, room, types.OperationRequest{
			Operation:   "update",
			Target:      TargetVariable,
			OperationID: p.OperationID,
		}, err)
		return
	}
	room.bumpLastModified(ts)

	if p.OperationID != "" {
		client.Send(types.EventOperationConfirmed, types.OperationAck{
			OperationID:     p.OperationID,
			ServerTimestamp: ts,
		})
	}
	room.Broadcast(ctx, types.EventVariableUpdate, types.VariableBroadcast{
		VariableID:      p.VariableID,
		Value:           p.Value,
		OperationID:     p.OperationID,
		ServerTimestamp: ts,
		UserID:          client.GetUser().UserID,
		SocketID:        client.GetSocketID(),
	}, client.GetSocketID())

	metrics.Operations.WithLabelValues(TargetVariable, "update", "confirmed").Inc()
}

// handleRequestSync sends the authoritative document back to the requester.
// This is the recovery path after anything the client could not apply
// incrementally.
func (b *Broker) handleRequestSync(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var p types.RequestSyncPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			client.Send(types.EventOperationError, types.OperationFailure{Reason: "malformed sync request"})
			return
		}
	}

	workflowID := p.WorkflowID
	if workflowID == "" {
		room, ok := b.registry.WorkflowRoomFor(client.GetSocketID())
		if !ok {
			client.Send(types.EventOperationError, types.OperationFailure{Reason: "not in a workflow room"})
			return
		}
		workflowID = room.ID
	} else {
		// Sync is scoped to the caller's current room.
		room, ok := b.registry.WorkflowRoomFor(client.GetSocketID())
		if !ok || room.ID != workflowID {
			client.Send(types.EventOperationError, types.OperationFailure{Reason: "not in that workflow room"})
			return
		}
	}

	state, err := b.workflows.GetState(ctx, workflowID)
	if err != nil {
		reason := "failed to load workflow state"
		if errors.Is(err, store.ErrNotFound) {
			reason = "workflow not found"
		} else {
			logging.Error(ctx, "Sync load failed", zap.String("workflow_id", string(workflowID)), zap.Error(err))
		}
		client.Send(types.EventOperationError, types.OperationFailure{Reason: reason})
		return
	}

	client.Send(types.EventWorkflowState, types.WorkflowStatePayload{
		WorkflowID: workflowID,
		State:      *state,
		LastSaved:  state.LastSaved,
	})
}

// roomAndRole resolves the caller's current room and cached role.
func (b *Broker) roomAndRole(client types.ClientInterface) (*WorkflowRoom, types.RoleType, bool) {
	room, ok := b.registry.WorkflowRoomFor(client.GetSocketID())
	if !ok {
		return nil, types.RoleTypeNone, false
	}
	role, ok := room.RoleOf(client.GetSocketID())
	if !ok {
		return nil, types.RoleTypeNone, false
	}
	return room, role, true
}
