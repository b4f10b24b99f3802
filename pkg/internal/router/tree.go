package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/handle"
)

// RegisterForkRoutes 注册 fork 任务路由.
func RegisterForkRoutes(g *gin.RouterGroup, h *handle.Handler) {
	forks := g.Group("/forks")
	{
		forks.POST("", h.StartFork)
		forks.GET("/:id", h.GetFork)
		forks.POST("/:id/resume", h.ResumeFork)
	}
}

// RegisterProjectRoutes 注册项目维度的路由.
func RegisterProjectRoutes(g *gin.RouterGroup, h *handle.Handler) {
	projects := g.Group("/projects/:id")
	{
		projects.GET("/children", h.ListChildren)
		projects.POST("/nodes", h.CreateNode)

		// ===== 回收站 =====
		projects.GET("/trash", h.ListTrash)
		projects.DELETE("/trash", h.PurgeTrash)
	}
}

// RegisterNodeRoutes 注册单节点操作路由.
func RegisterNodeRoutes(g *gin.RouterGroup, h *handle.Handler) {
	nodes := g.Group("/nodes/:id")
	{
		nodes.GET("", h.GetNode)
		nodes.DELETE("", h.DeleteNode)
		nodes.POST("/move", h.MoveNode)
		nodes.POST("/copy", h.CopyNode)
		nodes.POST("/rename", h.RenameNode)
		nodes.POST("/reorder", h.ReorderNode)
	}
}
