package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/entrytree/internal/walker"
	"github.com/CageChen/entrytree/internal/workspace"
)

// TreeHandler handles workspace and entry tree API requests
type TreeHandler struct {
	svc *workspace.Service
}

// NewTreeHandler creates a new tree handler
func NewTreeHandler(svc *workspace.Service) *TreeHandler {
	return &TreeHandler{svc: svc}
}

// GetWorkspaces returns the opened workspaces and the default walk limits
func (h *TreeHandler) GetWorkspaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"workspaces": h.svc.Workspaces(),
		"limits":     h.svc.DefaultLimits(),
	})
}

// GetTree aggregates the size and the files under a workspace folder.
// Query: path (default "/"), depth and files (default to the configured limits).
func (h *TreeHandler) GetTree(c *gin.Context) {
	lim, err := h.limits(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	tree, err := h.svc.EntryTree(c.Request.Context(), c.Param("name"), queryPath(c), lim)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (h *TreeHandler) limits(c *gin.Context) (walker.Limits, error) {
	lim := h.svc.DefaultLimits()
	if v := c.Query("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return lim, &paramError{name: "depth", value: v}
		}
		lim.MaxDepth = n
	}
	if v := c.Query("files"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return lim, &paramError{name: "files", value: v}
		}
		lim.MaxFiles = n
	}
	return lim, nil
}

type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter: " + strconv.Quote(e.value)
}

func queryPath(c *gin.Context) string {
	if p := c.Query("path"); p != "" {
		return p
	}
	return "/"
}
