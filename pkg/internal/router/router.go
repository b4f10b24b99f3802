// Package router 管理路由配置，只负责把路径与 handle 包提供的处理器绑定到 gin 引擎.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/handle"
)

// Register 在 /api/v1 分组下注册全部管理接口.
//
//	GET    /health/{db,s3,mq,lock}
//	POST   /forks               GET /forks/:id        POST /forks/:id/resume
//	POST   /reconcile
//	GET    /projects/:id/children    POST /projects/:id/nodes
//	GET    /projects/:id/trash       DELETE /projects/:id/trash
//	GET    /nodes/:id  DELETE /nodes/:id  POST /nodes/:id/{move,copy,rename,reorder}
//	GET    /scheduler/jobs
func Register(api *gin.RouterGroup, h *handle.Handler) {
	RegisterHealthCheckRoute(api)
	RegisterSchedulerRoutes(api)
	RegisterForkRoutes(api, h)
	RegisterProjectRoutes(api, h)
	RegisterNodeRoutes(api, h)

	api.POST("/reconcile", h.Reconcile)
}
