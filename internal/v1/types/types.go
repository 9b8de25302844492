package types

import (
	"context"

	"github.com/git-yup-ai/sim/internal/v1/auth"
)

// --- Core Domain Types ---

// RoleType is a workspace permission level. Roles are totally ordered:
// read < edit < admin.
type RoleType string

// SocketIDType is the opaque identifier assigned to a single connection.
// Never reused, even across reconnects of the same user.
type SocketIDType string

// UserIDType identifies an authenticated user.
type UserIDType string

// WorkflowIDType identifies a workflow, the primary editable artifact.
type WorkflowIDType string

// WorkspaceIDType identifies a workspace, the top-level tenant namespace.
type WorkspaceIDType string

const (
	RoleTypeRead  RoleType = "read"
	RoleTypeEdit  RoleType = "edit"
	RoleTypeAdmin RoleType = "admin"
	RoleTypeNone  RoleType = "" // no access resolved
)

func (r RoleType) rank() int {
	switch r {
	case RoleTypeRead:
		return 1
	case RoleTypeEdit:
		return 2
	case RoleTypeAdmin:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r grants at least the permissions of min.
func (r RoleType) AtLeast(min RoleType) bool {
	return r.rank() >= min.rank()
}

// CanEdit reports whether r permits mutating operations.
func (r RoleType) CanEdit() bool {
	return r.AtLeast(RoleTypeEdit)
}

// Valid reports whether r is one of the known role values.
func (r RoleType) Valid() bool {
	return r.rank() > 0
}

// UserSession is the identity resolved once at handshake and kept for the
// lifetime of the connection.
type UserSession struct {
	UserID UserIDType `json:"userId"`
	Name   string     `json:"name"`
	Avatar string     `json:"avatar,omitempty"`
}

// --- Presence ---

// SelectionKind classifies what a participant has selected in the editor.
type SelectionKind string

const (
	SelectionKindBlock SelectionKind = "block"
	SelectionKindEdge  SelectionKind = "edge"
	SelectionKindNone  SelectionKind = "none"
)

// CursorPosition is an editor-space coordinate.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Selection describes the element a participant currently has selected.
type Selection struct {
	Kind SelectionKind `json:"kind"`
	ID   string        `json:"id,omitempty"`
}

// Presence is the live metadata about one participant of a workflow room.
type Presence struct {
	UserID       UserIDType      `json:"userId"`
	UserName     string          `json:"userName"`
	Avatar       string          `json:"avatar,omitempty"`
	SocketID     SocketIDType    `json:"socketId"`
	JoinedAt     int64           `json:"joinedAt"`
	LastActivity int64           `json:"lastActivity"`
	Role         RoleType        `json:"role"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
	Selection    *Selection      `json:"selection,omitempty"`
}

// --- Shared Interfaces ---

// TokenValidator verifies a handshake token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// ClientInterface is the behavior the broker needs from a connection.
// It decouples the collab package from the websocket transport.
type ClientInterface interface {
	GetSocketID() SocketIDType
	GetUser() UserSession
	// Send marshals payload into an event envelope and queues it.
	// Sends to a closed or saturated connection are dropped, never block.
	Send(event string, payload any)
	// SendRaw queues pre-serialized envelope bytes.
	SendRaw(data []byte)
	Disconnect()
}

// SocketRouter dispatches inbound socket frames and connection teardown.
// Implemented by collab.Broker; consumed by the transport layer.
type SocketRouter interface {
	Route(ctx context.Context, client ClientInterface, data []byte)
	HandleDisconnect(ctx context.Context, client ClientInterface)
}
