package types

// Inbound socket events (client → broker).
const (
	EventJoinWorkspace     = "join-workspace"
	EventLeaveWorkspace    = "leave-workspace"
	EventJoinWorkflow      = "join-workflow"
	EventLeaveWorkflow     = "leave-workflow"
	EventWorkflowOperation = "workflow-operation"
	EventSubblockUpdate    = "subblock-update"
	EventVariableUpdate    = "variable-update"
	EventCursorUpdate      = "cursor-update"
	EventSelectionUpdate   = "selection-update"
	EventRequestSync       = "request-sync"
)

// Outbound socket events (broker → client).
const (
	EventJoinedWorkspace    = "joined-workspace"
	EventLeftWorkspace      = "left-workspace"
	EventJoinWorkspaceError = "join-workspace-error"
	EventJoinedWorkflow     = "joined-workflow"
	EventLeftWorkflow       = "left-workflow"
	EventJoinWorkflowError  = "join-workflow-error"
	EventPresenceUpdate     = "presence-update"
	EventOperationConfirmed = "operation-confirmed"
	EventOperationFailed    = "operation-failed"
	EventOperationError     = "operation-error"
	EventOperationForbidden = "operation-forbidden"
	EventWorkflowState      = "workflow-state"
	EventWorkflowDeleted    = "workflow-deleted"
	EventWorkflowReverted   = "workflow-reverted"
	EventWorkflowUpdated    = "workflow-updated"
	EventCopilotEdit        = "copilot-workflow-edit"
	EventPermissionChanged  = "permission-changed"
	EventPermissionRevoked  = "permission-revoked"
	EventServerShutdown     = "server-shutdown"
)

// Workspace fanout resource types and operations accepted from the ingress.
const (
	ResourceEnv       = "env"
	ResourceTools     = "tools"
	ResourceFolders   = "folders"
	ResourceMCP       = "mcp"
	ResourceWorkflows = "workflows"

	ResourceOpCreate = "create"
	ResourceOpUpdate = "update"
	ResourceOpDelete = "delete"
)
