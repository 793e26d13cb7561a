package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/entrytree/internal/config"
	"github.com/CageChen/entrytree/internal/logging"
	"github.com/CageChen/entrytree/internal/workspace"
)

// WorkspaceHandler adds and removes workspaces at runtime and persists the
// change to the config file.
type WorkspaceHandler struct {
	cfg *config.Config
	svc *workspace.Service
	mu  sync.Mutex // guards cfg
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(cfg *config.Config, svc *workspace.Service) *WorkspaceHandler {
	return &WorkspaceHandler{cfg: cfg, svc: svc}
}

// AddWorkspace opens a new workspace and saves it to the configuration.
// Workspaces added this way are not watched, so their trees are never cached.
func (h *WorkspaceHandler) AddWorkspace(c *gin.Context) {
	var req config.Workspace
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid workspace definition: " + err.Error(),
		})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ws, err := h.cfg.AddWorkspace(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.svc.Open(c.Request.Context(), []config.Workspace{ws}); err != nil {
		h.cfg.RemoveWorkspace(ws.Name)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to save config: " + err.Error(),
		})
		return
	}

	info, err := h.svc.Info(ws.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	logging.L().Info("workspace added", zap.String("workspace", ws.Name), zap.String("backend", info.Backend))
	c.JSON(http.StatusCreated, info)
}

// RemoveWorkspace closes a workspace and drops it from the configuration.
func (h *WorkspaceHandler) RemoveWorkspace(c *gin.Context) {
	name := c.Param("name")

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.svc.Remove(name); err != nil {
		writeError(c, err)
		return
	}
	if h.cfg.RemoveWorkspace(name) {
		if err := h.cfg.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to save config: " + err.Error(),
			})
			return
		}
	}

	logging.L().Info("workspace removed", zap.String("workspace", name))
	c.JSON(http.StatusOK, gin.H{
		"removed": name,
	})
}
