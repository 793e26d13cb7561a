package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/entrytree/internal/engine"
	"github.com/CageChen/entrytree/internal/entry"
	"github.com/CageChen/entrytree/internal/workspace"
)

// EntryResponse is the JSON form of a file or folder descriptor
type EntryResponse struct {
	Type string `json:"type"` // file or folder
	*entry.Common
	Size *uint64 `json:"size,omitempty"`
}

func toResponse(d entry.Descriptor) EntryResponse {
	switch v := d.(type) {
	case *entry.File:
		size := v.Size
		return EntryResponse{Type: "file", Common: &v.Common, Size: &size}
	default:
		return EntryResponse{Type: "folder", Common: d.Info()}
	}
}

// EntryHandler handles single-folder listings and entry stats
type EntryHandler struct {
	svc *workspace.Service
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(svc *workspace.Service) *EntryHandler {
	return &EntryHandler{svc: svc}
}

// GetChildren returns the immediate children of a workspace folder
func (h *EntryHandler) GetChildren(c *gin.Context) {
	path := queryPath(c)
	children, err := h.svc.ListChildren(c.Request.Context(), c.Param("name"), path)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]EntryResponse, len(children))
	for i, d := range children {
		resp[i] = toResponse(d)
	}
	c.JSON(http.StatusOK, gin.H{
		"path":     entry.JoinPath(path, ""),
		"children": resp,
	})
}

// GetStat returns the descriptor of a single workspace entry
func (h *EntryHandler) GetStat(c *gin.Context) {
	d, err := h.svc.StatEntry(c.Request.Context(), c.Param("name"), queryPath(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(d))
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workspace.ErrUnknownWorkspace):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrInvalidLimits):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}

	switch engine.TagOf(err) {
	case engine.ErrorTagNotFound:
		return http.StatusNotFound
	case engine.ErrorTagNotAFolder:
		return http.StatusBadRequest
	case engine.ErrorTagAccessDenied:
		return http.StatusForbidden
	case engine.ErrorTagOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var ee *engine.Error
	if errors.As(err, &ee) {
		body["tag"] = ee.Tag
	}
	c.JSON(statusFor(err), body)
}
