package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

var operationSuffix = map[string]string{
	types.ResourceOpCreate: "created",
	types.ResourceOpUpdate: "updated",
	types.ResourceOpDelete: "deleted",
}

// fanoutEventName maps (resourceType, operation) to the outbound event.
// Env events collapse to a single name because the payload is always the
// affected key list; everything else carries per-operation names.
func fanoutEventName(resourceType, operation string) (string, error) {
	suffix, ok := operationSuffix[operation]
	if !ok {
		return "", fmt.Errorf("unknown operation %q", operation)
	}

	switch resourceType {
	case types.ResourceEnv:
		if operation == types.ResourceOpCreate {
			return "", fmt.Errorf("env does not support create")
		}
		return "workspace-env-updated", nil
	case types.ResourceTools:
		return "workspace-tool-" + suffix, nil
	case types.ResourceFolders:
		return "workspace-folder-" + suffix, nil
	case types.ResourceMCP:
		return "workspace-mcp-" + suffix, nil
	case types.ResourceWorkflows:
		return "workspace-workflow-" + suffix, nil
	default:
		return "", fmt.Errorf("unknown resource type %q", resourceType)
	}
}

// envKeysOnly strips an env payload down to the affected key names.
// Values never leave the server.
func envKeysOnly(data json.RawMessage) json.RawMessage {
	var p struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Keys == nil {
		p.Keys = []string{}
	}
	out, _ := json.Marshal(map[string][]string{"keys": p.Keys})
	return out
}

// HandleWorkspaceResourceChanged fans an application-tier resource change
// out to the workspace room. A no-op when the room is empty. The original
// operation always rides in the payload envelope so clients can
// disambiguate coarse event names.
func (b *Broker) HandleWorkspaceResourceChanged(ctx context.Context, workspaceID types.WorkspaceIDType, resourceType, operation string, data json.RawMessage) error {
	eventName, err := fanoutEventName(resourceType, operation)
	if err != nil {
		return err
	}

	if resourceType == types.ResourceEnv {
		data = envKeysOnly(data)
	}

	payload := types.WorkspaceResourceEvent{
		WorkspaceID:  workspaceID,
		ResourceType: resourceType,
		Operation:    operation,
		Data:         data,
		Timestamp:    time.Now().UnixMilli(),
	}

	room, ok := b.registry.WorkspaceRoomByID(workspaceID)
	if !ok {
		logging.Info(ctx, "No workspace room for fanout, dropping",
			zap.String("workspace_id", string(workspaceID)),
			zap.String("event", eventName))
		metrics.FanoutEvents.WithLabelValues(resourceType, operation).Inc()
		return nil
	}

	room.Broadcast(ctx, eventName, payload, "")
	metrics.FanoutEvents.WithLabelValues(resourceType, operation).Inc()

	logging.Info(ctx, "Workspace resource fanout",
		zap.String("workspace_id", string(workspaceID)),
		zap.String("event", eventName),
		zap.Int("recipients", room.ActiveConnections()))
	return nil
}
