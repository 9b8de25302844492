package types

import "encoding/json"

// Envelope is the wire frame for every socket message, inbound and outbound.
// Payload semantics depend on Event.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope serializes payload inside an event envelope.
func NewEnvelope(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// --- Join / leave ---

type JoinWorkspacePayload struct {
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
}

type JoinedWorkspacePayload struct {
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
	Role        RoleType        `json:"role"`
}

type LeftWorkspacePayload struct {
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
}

type JoinWorkspaceErrorPayload struct {
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
	Reason      string          `json:"reason"`
}

type JoinWorkflowPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
}

type JoinedWorkflowPayload struct {
	WorkflowID  WorkflowIDType  `json:"workflowId"`
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
	Role        RoleType        `json:"role"`
}

type LeftWorkflowPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
}

type JoinWorkflowErrorPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
	Reason     string         `json:"reason"`
}

// --- Presence ---

// PresenceSnapshot is the full ordered membership of one workflow room.
// Reconnectors converge from snapshots, not deltas.
type PresenceSnapshot struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
	Users      []Presence     `json:"users"`
}

type CursorBroadcast struct {
	SocketID SocketIDType   `json:"socketId"`
	UserID   UserIDType     `json:"userId"`
	Cursor   CursorPosition `json:"cursor"`
}

type SelectionBroadcast struct {
	SocketID  SocketIDType `json:"socketId"`
	UserID    UserIDType   `json:"userId"`
	Selection Selection    `json:"selection"`
}

// --- Operations ---

// OperationRequest is a client-initiated workflow mutation.
type OperationRequest struct {
	Operation       string          `json:"operation"`
	Target          string          `json:"target"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp int64           `json:"clientTimestamp,omitempty"`
	OperationID     string          `json:"operationId"`
}

// OperationAck confirms a committed operation to its originator.
type OperationAck struct {
	OperationID     string `json:"operationId"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

// OperationFailure reports a rejected or failed operation to its originator.
type OperationFailure struct {
	OperationID string `json:"operationId,omitempty"`
	Reason      string `json:"reason"`
}

// OperationBroadcast replays a committed operation to the rest of the room.
type OperationBroadcast struct {
	OperationID     string          `json:"operationId"`
	Operation       string          `json:"operation"`
	Target          string          `json:"target"`
	Payload         json.RawMessage `json:"payload"`
	ServerTimestamp int64           `json:"serverTimestamp"`
	UserID          UserIDType      `json:"userId"`
	SocketID        SocketIDType    `json:"socketId"`
}

// --- Nested-value fast paths ---

// SubblockUpdatePayload sets one subblock value without touching topology.
type SubblockUpdatePayload struct {
	BlockID     string          `json:"blockId"`
	SubblockID  string          `json:"subblockId"`
	Value       json.RawMessage `json:"value"`
	OperationID string          `json:"operationId,omitempty"`
}

// SubblockBroadcast replays a committed subblock update to the room.
type SubblockBroadcast struct {
	BlockID         string          `json:"blockId"`
	SubblockID      string          `json:"subblockId"`
	Value           json.RawMessage `json:"value"`
	OperationID     string          `json:"operationId,omitempty"`
	ServerTimestamp int64           `json:"serverTimestamp"`
	UserID          UserIDType      `json:"userId"`
	SocketID        SocketIDType    `json:"socketId"`
}

// VariableUpdatePayload sets one variable's value.
type VariableUpdatePayload struct {
	VariableID  string          `json:"variableId"`
	Value       json.RawMessage `json:"value"`
	OperationID string          `json:"operationId,omitempty"`
}

// VariableBroadcast replays a committed variable update to the room.
type VariableBroadcast struct {
	VariableID      string          `json:"variableId"`
	Value           json.RawMessage `json:"value"`
	OperationID     string          `json:"operationId,omitempty"`
	ServerTimestamp int64           `json:"serverTimestamp"`
	UserID          UserIDType      `json:"userId"`
	SocketID        SocketIDType    `json:"socketId"`
}

// --- Sync ---

type RequestSyncPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
}

// WorkflowStatePayload carries the authoritative workflow document.
type WorkflowStatePayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
	State      WorkflowState  `json:"state"`
	LastSaved  int64          `json:"lastSaved"`
}

// --- Eviction / out-of-band notifications ---

type WorkflowDeletedPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
}

type WorkflowRevertedPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
}

type WorkflowUpdatedPayload struct {
	WorkflowID WorkflowIDType `json:"workflowId"`
}

type CopilotEditPayload struct {
	WorkflowID  WorkflowIDType `json:"workflowId"`
	Description string         `json:"description,omitempty"`
}

type PermissionChangedPayload struct {
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
	OldRole     RoleType        `json:"oldRole"`
	NewRole     RoleType        `json:"newRole"`
}

type PermissionRevokedPayload struct {
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
}

// WorkspaceResourceEvent is the payload envelope for every workspace-* fanout
// event. Operation is always carried here because some event names are
// coarser than the operation that produced them.
type WorkspaceResourceEvent struct {
	WorkspaceID  WorkspaceIDType `json:"workspaceId"`
	ResourceType string          `json:"resourceType"`
	Operation    string          `json:"operation"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}
