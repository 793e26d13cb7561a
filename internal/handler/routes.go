// Package handler serves the HTTP and WebSocket API.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/CageChen/entrytree/internal/config"
	"github.com/CageChen/entrytree/internal/workspace"
)

// Register mounts the API routes on the given group (usually /api).
func Register(api *gin.RouterGroup, cfg *config.Config, svc *workspace.Service, ws *WSHandler) {
	treeHandler := NewTreeHandler(svc)
	entryHandler := NewEntryHandler(svc)
	workspaceHandler := NewWorkspaceHandler(cfg, svc)

	api.GET("/workspaces", treeHandler.GetWorkspaces)
	api.POST("/workspaces", workspaceHandler.AddWorkspace)
	api.DELETE("/workspaces/:name", workspaceHandler.RemoveWorkspace)
	api.GET("/workspaces/:name/tree", treeHandler.GetTree)
	api.GET("/workspaces/:name/children", entryHandler.GetChildren)
	api.GET("/workspaces/:name/stat", entryHandler.GetStat)
	api.GET("/ws", ws.HandleWS)
}
