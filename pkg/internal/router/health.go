package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/handle"
)

// RegisterHealthCheckRoute 注册健康检查路由.
func RegisterHealthCheckRoute(g *gin.RouterGroup) {
	healthRoutes := g.Group("/health")
	{
		healthRoutes.GET("/db", handle.HealthDB)
		healthRoutes.GET("/s3", handle.HealthS3)
		healthRoutes.GET("/mq", handle.HealthMQ)
		healthRoutes.GET("/lock", handle.HealthLock)
	}
}

// RegisterSchedulerRoutes 注册调度器相关路由.
func RegisterSchedulerRoutes(g *gin.RouterGroup) {
	jobs := g.Group("/scheduler/jobs")
	{
		jobs.GET("", handle.SchedulerJobs)
		jobs.POST("/:name/run", handle.RunSchedulerJob)
	}
}
