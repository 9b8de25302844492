package types

import "encoding/json"

// Block is a node of the workflow graph.
type Block struct {
	ID        string                     `json:"id"`
	Type      string                     `json:"type"`
	Name      string                     `json:"name"`
	Position  CursorPosition             `json:"position"`
	Enabled   bool                       `json:"enabled"`
	ParentID  string                     `json:"parentId,omitempty"`
	SubBlocks map[string]json.RawMessage `json:"subBlocks,omitempty"`
}

// Edge connects two blocks of the same workflow.
type Edge struct {
	ID            string `json:"id"`
	SourceBlockID string `json:"sourceBlockId"`
	TargetBlockID string `json:"targetBlockId"`
	SourceHandle  string `json:"sourceHandle,omitempty"`
	TargetHandle  string `json:"targetHandle,omitempty"`
}

// Subflow is a loop or parallel grouping over blocks.
type Subflow struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"` // "loop" or "parallel"
	Config json.RawMessage `json:"config,omitempty"`
}

// Variable is a workflow-scoped named value.
type Variable struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// DeploymentState records whether and when the workflow was deployed.
type DeploymentState struct {
	Deployed   bool  `json:"deployed"`
	DeployedAt int64 `json:"deployedAt,omitempty"`
}

// WorkflowState is the full durable document of one workflow.
type WorkflowState struct {
	Blocks     map[string]Block    `json:"blocks"`
	Edges      []Edge              `json:"edges"`
	Loops      map[string]Subflow  `json:"loops,omitempty"`
	Parallels  map[string]Subflow  `json:"parallels,omitempty"`
	Variables  map[string]Variable `json:"variables,omitempty"`
	Deployment DeploymentState     `json:"deployment"`
	LastSaved  int64               `json:"lastSaved"`
}

// NewWorkflowState returns an empty, initialized document.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		Blocks:    make(map[string]Block),
		Edges:     []Edge{},
		Loops:     make(map[string]Subflow),
		Parallels: make(map[string]Subflow),
		Variables: make(map[string]Variable),
	}
}

// WorkflowMeta is the registry entry of a workflow: which workspace and
// folder it belongs to.
type WorkflowMeta struct {
	ID          WorkflowIDType  `json:"id"`
	WorkspaceID WorkspaceIDType `json:"workspaceId"`
	FolderID    string          `json:"folderId,omitempty"`
	Name        string          `json:"name"`
}
