package collab

import (
	"encoding/json"
	"fmt"

	"github.com/git-yup-ai/sim/internal/v1/store"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// Operation targets accepted by the pipeline.
const (
	TargetBlock    = "block"
	TargetEdge     = "edge"
	TargetSubflow  = "subflow"
	TargetSubblock = "subblock"
	TargetVariable = "variable"
)

const (
	SubflowKindLoop     = "loop"
	SubflowKindParallel = "parallel"
)

// compiledOperation is a validated request ready to apply. mutate is nil
// for operations that broadcast without persisting.
type compiledOperation struct {
	mutate func(*types.WorkflowState) error
}

// errInvalid marks structural validation failures, reported to the
// originator as operation-error rather than operation-failed.
type errInvalid struct {
	reason string
}

func (e *errInvalid) Error() string { return e.reason }

func invalidf(format string, args ...any) error {
	return &errInvalid{reason: fmt.Sprintf(format, args...)}
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalidf("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidf("malformed payload: %v", err)
	}
	return nil
}

// compileOperation validates the payload for its (target, operation) pair
// and returns the mutator that enforces the semantic invariants inside the
// store transaction.
func compileOperation(target, operation string, payload json.RawMessage) (*compiledOperation, error) {
	switch target {
	case TargetBlock:
		return compileBlockOperation(operation, payload)
	case TargetEdge:
		return compileEdgeOperation(operation, payload)
	case TargetSubflow:
		return compileSubflowOperation(operation, payload)
	case TargetSubblock:
		return compileSubblockOperation(operation, payload)
	case TargetVariable:
		return compileVariableOperation(operation, payload)
	default:
		return nil, invalidf("unknown target %q", target)
	}
}

// --- Blocks ---

type blockAddPayload struct {
	ID        string                     `json:"id"`
	Type      string                     `json:"type"`
	Name      string                     `json:"name"`
	Position  *types.CursorPosition      `json:"position"`
	ParentID  string                     `json:"parentId,omitempty"`
	SubBlocks map[string]json.RawMessage `json:"subBlocks,omitempty"`
}

type blockIDPayload struct {
	ID string `json:"id"`
}

type blockPositionPayload struct {
	ID       string                `json:"id"`
	Position *types.CursorPosition `json:"position"`
	Commit   bool                  `json:"commit"`
}

type blockNamePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type blockDuplicatePayload struct {
	SourceID string                `json:"sourceId"`
	NewID    string                `json:"newId"`
	Name     string                `json:"name,omitempty"`
	Position *types.CursorPosition `json:"position,omitempty"`
}

func compileBlockOperation(operation string, payload json.RawMessage) (*compiledOperation, error) {
	switch operation {
	case "add":
		var p blockAddPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.Type == "" {
			return nil, invalidf("block add requires id and type")
		}
		if p.Position == nil {
			return nil, invalidf("block add requires a numeric position")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			if _, exists := s.Blocks[p.ID]; exists {
				return store.Conflictf("block %s already exists", p.ID)
			}
			if p.ParentID != "" {
				if _, ok := s.Blocks[p.ParentID]; !ok {
					return store.Conflictf("parent block %s does not exist", p.ParentID)
				}
			}
			s.Blocks[p.ID] = types.Block{
				ID:        p.ID,
				Type:      p.Type,
				Name:      p.Name,
				Position:  *p.Position,
				Enabled:   true,
				ParentID:  p.ParentID,
				SubBlocks: p.SubBlocks,
			}
			return nil
		}}, nil

	case "remove":
		var p blockIDPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, invalidf("block remove requires id")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			if _, ok := s.Blocks[p.ID]; !ok {
				return store.Conflictf("block %s does not exist", p.ID)
			}
			delete(s.Blocks, p.ID)
			// Edges attached to the block go with it.
			kept := s.Edges[:0]
			for _, e := range s.Edges {
				if e.SourceBlockID != p.ID && e.TargetBlockID != p.ID {
					kept = append(kept, e)
				}
			}
			s.Edges = kept
			return nil
		}}, nil

	case "update-position":
		var p blockPositionPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.Position == nil {
			return nil, invalidf("position update requires id and a numeric position")
		}
		if !p.Commit {
			// Intermediate drag frames broadcast without persisting.
			return &compiledOperation{mutate: nil}, nil
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			b, ok := s.Blocks[p.ID]
			if !ok {
				return store.Conflictf("block %s does not exist", p.ID)
			}
			b.Position = *p.Position
			s.Blocks[p.ID] = b
			return nil
		}}, nil

	case "update-name":
		var p blockNamePayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.Name == "" {
			return nil, invalidf("name update requires id and name")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			b, ok := s.Blocks[p.ID]
			if !ok {
				return store.Conflictf("block %s does not exist", p.ID)
			}
			b.Name = p.Name
			s.Blocks[p.ID] = b
			return nil
		}}, nil

	case "toggle-enabled":
		var p blockIDPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, invalidf("toggle requires id")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			b, ok := s.Blocks[p.ID]
			if !ok {
				return store.Conflictf("block %s does not exist", p.ID)
			}
			b.Enabled = !b.Enabled
			s.Blocks[p.ID] = b
			return nil
		}}, nil

	case "duplicate":
		var p blockDuplicatePayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.SourceID == "" || p.NewID == "" {
			return nil, invalidf("duplicate requires sourceId and newId")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			src, ok := s.Blocks[p.SourceID]
			if !ok {
				return store.Conflictf("block %s does not exist", p.SourceID)
			}
			if _, exists := s.Blocks[p.NewID]; exists {
				return store.Conflictf("block %s already exists", p.NewID)
			}
			dup := src
			dup.ID = p.NewID
			if p.Name != "" {
				dup.Name = p.Name
			}
			if p.Position != nil {
				dup.Position = *p.Position
			}
			if len(src.SubBlocks) > 0 {
				dup.SubBlocks = make(map[string]json.RawMessage, len(src.SubBlocks))
				for k, v := range src.SubBlocks {
					dup.SubBlocks[k] = v
				}
			}
			s.Blocks[p.NewID] = dup
			return nil
		}}, nil

	default:
		return nil, invalidf("unknown block operation %q", operation)
	}
}

// --- Edges ---

type edgeAddPayload struct {
	ID            string `json:"id"`
	SourceBlockID string `json:"sourceBlockId"`
	TargetBlockID string `json:"targetBlockId"`
	SourceHandle  string `json:"sourceHandle,omitempty"`
	TargetHandle  string `json:"targetHandle,omitempty"`
}

type edgeIDPayload struct {
	ID string `json:"id"`
}

func compileEdgeOperation(operation string, payload json.RawMessage) (*compiledOperation, error) {
	switch operation {
	case "add":
		var p edgeAddPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.SourceBlockID == "" || p.TargetBlockID == "" {
			return nil, invalidf("edge add requires id, sourceBlockId and targetBlockId")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			if _, ok := s.Blocks[p.SourceBlockID]; !ok {
				return store.Conflictf("source block %s does not exist", p.SourceBlockID)
			}
			if _, ok := s.Blocks[p.TargetBlockID]; !ok {
				return store.Conflictf("target block %s does not exist", p.TargetBlockID)
			}
			for _, e := range s.Edges {
				if e.ID == p.ID {
					return store.Conflictf("edge %s already exists", p.ID)
				}
			}
			s.Edges = append(s.Edges, types.Edge{
				ID:            p.ID,
				SourceBlockID: p.SourceBlockID,
				TargetBlockID: p.TargetBlockID,
				SourceHandle:  p.SourceHandle,
				TargetHandle:  p.TargetHandle,
			})
			return nil
		}}, nil

	case "remove":
		var p edgeIDPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, invalidf("edge remove requires id")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			for i, e := range s.Edges {
				if e.ID == p.ID {
					s.Edges = append(s.Edges[:i], s.Edges[i+1:]...)
					return nil
				}
			}
			return store.Conflictf("edge %s does not exist", p.ID)
		}}, nil

	default:
		return nil, invalidf("unknown edge operation %q", operation)
	}
}

// --- Subflows ---

type subflowUpdatePayload struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Config json.RawMessage `json:"config"`
}

func compileSubflowOperation(operation string, payload json.RawMessage) (*compiledOperation, error) {
	if operation != "update" {
		return nil, invalidf("unknown subflow operation %q", operation)
	}
	var p subflowUpdatePayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, invalidf("subflow update requires id")
	}
	if p.Kind != SubflowKindLoop && p.Kind != SubflowKindParallel {
		return nil, invalidf("subflow kind must be %q or %q", SubflowKindLoop, SubflowKindParallel)
	}
	return &compiledOperation{mutate: func(s *types.WorkflowState) error {
		sf := types.Subflow{ID: p.ID, Kind: p.Kind, Config: p.Config}
		switch p.Kind {
		case SubflowKindLoop:
			if s.Loops == nil {
				s.Loops = make(map[string]types.Subflow)
			}
			s.Loops[p.ID] = sf
		case SubflowKindParallel:
			if s.Parallels == nil {
				s.Parallels = make(map[string]types.Subflow)
			}
			s.Parallels[p.ID] = sf
		}
		return nil
	}}, nil
}

// --- Subblocks ---

type subblockPayload struct {
	BlockID    string          `json:"blockId"`
	SubblockID string          `json:"subblockId"`
	Value      json.RawMessage `json:"value"`
}

func compileSubblockOperation(operation string, payload json.RawMessage) (*compiledOperation, error) {
	if operation != "update" {
		return nil, invalidf("unknown subblock operation %q", operation)
	}
	var p subblockPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	return compileSubblockMutation(p.BlockID, p.SubblockID, p.Value)
}

// compileSubblockMutation is shared with the subblock-update fast path.
func compileSubblockMutation(blockID, subblockID string, value json.RawMessage) (*compiledOperation, error) {
	if blockID == "" || subblockID == "" {
		return nil, invalidf("subblock update requires blockId and subblockId")
	}
	return &compiledOperation{mutate: func(s *types.WorkflowState) error {
		b, ok := s.Blocks[blockID]
		if !ok {
			return store.Conflictf("block %s does not exist", blockID)
		}
		if b.SubBlocks == nil {
			b.SubBlocks = make(map[string]json.RawMessage)
		}
		b.SubBlocks[subblockID] = value
		s.Blocks[blockID] = b
		return nil
	}}, nil
}

// --- Variables ---

type variableAddPayload struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type variableUpdatePayload struct {
	ID    string          `json:"id"`
	Name  string          `json:"name,omitempty"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type variableIDPayload struct {
	ID string `json:"id"`
}

func compileVariableOperation(operation string, payload json.RawMessage) (*compiledOperation, error) {
	switch operation {
	case "add":
		var p variableAddPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.Name == "" {
			return nil, invalidf("variable add requires id and name")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			if s.Variables == nil {
				s.Variables = make(map[string]types.Variable)
			}
			if _, exists := s.Variables[p.ID]; exists {
				return store.Conflictf("variable %s already exists", p.ID)
			}
			s.Variables[p.ID] = types.Variable{ID: p.ID, Name: p.Name, Type: p.Type, Value: p.Value}
			return nil
		}}, nil

	case "update":
		var p variableUpdatePayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, invalidf("variable update requires id")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			v, ok := s.Variables[p.ID]
			if !ok {
				return store.Conflictf("variable %s does not exist", p.ID)
			}
			if p.Name != "" {
				v.Name = p.Name
			}
			if p.Type != "" {
				v.Type = p.Type
			}
			if p.Value != nil {
				v.Value = p.Value
			}
			s.Variables[p.ID] = v
			return nil
		}}, nil

	case "delete":
		var p variableIDPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, invalidf("variable delete requires id")
		}
		return &compiledOperation{mutate: func(s *types.WorkflowState) error {
			if _, ok := s.Variables[p.ID]; !ok {
				return store.Conflictf("variable %s does not exist", p.ID)
			}
			delete(s.Variables, p.ID)
			return nil
		}}, nil

	default:
		return nil, invalidf("unknown variable operation %q", operation)
	}
}
