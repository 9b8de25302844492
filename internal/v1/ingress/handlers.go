// Package ingress translates trusted application-tier HTTP calls into broker
// operations. These endpoints carry no per-request auth; they are reachable
// only over the private network.
package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/git-yup-ai/sim/internal/v1/collab"
	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the application-tier notification endpoints.
type Handler struct {
	broker *collab.Broker
}

// NewHandler creates the ingress handler bound to a broker.
func NewHandler(broker *collab.Broker) *Handler {
	return &Handler{broker: broker}
}

// RegisterRoutes mounts the notification endpoints on the router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/workflow-deleted", h.WorkflowDeleted)
	api.POST("/workflow-updated", h.WorkflowUpdated)
	api.POST("/workflow-reverted", h.WorkflowReverted)
	api.POST("/copilot-workflow-edit", h.CopilotWorkflowEdit)
	api.POST("/permission-changed", h.PermissionChanged)
	api.POST("/workspace-resource-changed", h.WorkspaceResourceChanged)
}

type workflowNotification struct {
	WorkflowID types.WorkflowIDType `json:"workflowId"`
}

type copilotEditNotification struct {
	WorkflowID  types.WorkflowIDType `json:"workflowId"`
	Description string               `json:"description,omitempty"`
}

type permissionChangedNotification struct {
	UserID      types.UserIDType      `json:"userId"`
	WorkspaceID types.WorkspaceIDType `json:"workspaceId"`
	NewRole     *types.RoleType       `json:"newRole"` // null when revoked
	IsRemoved   bool                  `json:"isRemoved"`
}

type resourceChangedNotification struct {
	WorkspaceID  types.WorkspaceIDType `json:"workspaceId"`
	ResourceType string                `json:"resourceType"`
	Operation    string                `json:"operation"`
	Data         json.RawMessage       `json:"data"`
}

// WorkflowDeleted evicts and tombstones the named workflow's room.
// POST /api/workflow-deleted
func (h *Handler) WorkflowDeleted(c *gin.Context) {
	var body workflowNotification
	if !h.bind(c, &body) {
		return
	}
	if body.WorkflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	h.broker.HandleWorkflowDeleted(c.Request.Context(), body.WorkflowID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WorkflowUpdated tells the room its durable record changed out-of-band.
// POST /api/workflow-updated
func (h *Handler) WorkflowUpdated(c *gin.Context) {
	var body workflowNotification
	if !h.bind(c, &body) {
		return
	}
	if body.WorkflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	h.broker.HandleWorkflowUpdated(c.Request.Context(), body.WorkflowID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WorkflowReverted tells the room to drop local state and resync.
// POST /api/workflow-reverted
func (h *Handler) WorkflowReverted(c *gin.Context) {
	var body workflowNotification
	if !h.bind(c, &body) {
		return
	}
	if body.WorkflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	h.broker.HandleWorkflowReverted(c.Request.Context(), body.WorkflowID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CopilotWorkflowEdit signals an automated out-of-band rewrite; clients pull
// fresh state themselves.
// POST /api/copilot-workflow-edit
func (h *Handler) CopilotWorkflowEdit(c *gin.Context) {
	var body copilotEditNotification
	if !h.bind(c, &body) {
		return
	}
	if body.WorkflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	h.broker.HandleCopilotEdit(c.Request.Context(), body.WorkflowID, body.Description)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PermissionChanged downgrades or revokes a user's workspace role across all
// of their live connections.
// POST /api/permission-changed
func (h *Handler) PermissionChanged(c *gin.Context) {
	var body permissionChangedNotification
	if !h.bind(c, &body) {
		return
	}
	if body.UserID == "" || body.WorkspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and workspaceId are required"})
		return
	}

	newRole := types.RoleTypeNone
	if body.NewRole != nil {
		newRole = *body.NewRole
	}
	isRemoved := body.IsRemoved || body.NewRole == nil

	if !isRemoved && !newRole.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	h.broker.HandlePermissionChanged(c.Request.Context(), body.UserID, body.WorkspaceID, newRole, isRemoved)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WorkspaceResourceChanged fans a resource mutation out to the workspace room.
// POST /api/workspace-resource-changed
func (h *Handler) WorkspaceResourceChanged(c *gin.Context) {
	var body resourceChangedNotification
	if !h.bind(c, &body) {
		return
	}
	if body.WorkspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspaceId is required"})
		return
	}

	err := h.broker.HandleWorkspaceResourceChanged(c.Request.Context(), body.WorkspaceID, body.ResourceType, body.Operation, body.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// bind decodes the JSON body, replying 500 with the parse error on failure.
// The application tier treats a 5xx here as its own bug, not a retry signal.
func (h *Handler) bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		logging.Warn(c.Request.Context(), "Malformed ingress body", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "malformed request body: " + err.Error()})
		return false
	}
	return true
}
