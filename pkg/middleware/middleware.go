// Package middleware 提供中间件
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/storage"
	"github.com/yeisme/treevault/pkg/scheduler"
)

// Default 返回管理接口的标准中间件链：恢复、追踪、指标、请求日志，并注入存储与调度器.
func Default(manager *storage.Manager, sched *scheduler.Scheduler) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		gin.Recovery(),
		TracingMiddleware(),
		PrometheusMiddleware(),
		GinLoggerMiddleware(),
	}

	if manager != nil {
		chain = append(chain, StorageMiddleware(manager))
	}

	if sched != nil {
		chain = append(chain, SchedulerMiddleware(sched))
	}

	return chain
}
