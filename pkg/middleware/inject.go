package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/storage"
	"github.com/yeisme/treevault/pkg/scheduler"
)

type schedulerKey struct{}

// inject 用 fn 包装请求 ctx.
func inject(fn func(ctx context.Context) context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(fn(c.Request.Context()))
		c.Next()
	}
}

// StorageMiddleware 把存储客户端放进请求 ctx，健康检查从这里取.
func StorageMiddleware(manager *storage.Manager) gin.HandlerFunc {
	return inject(func(ctx context.Context) context.Context {
		return ctxPkg.WithStorageManager(ctx, manager)
	})
}

// SchedulerMiddleware 把调度器放进请求 ctx.
func SchedulerMiddleware(sched *scheduler.Scheduler) gin.HandlerFunc {
	return inject(func(ctx context.Context) context.Context {
		return context.WithValue(ctx, schedulerKey{}, sched)
	})
}

// GetScheduler 取出调度器，未注入时返回 nil.
func GetScheduler(c *gin.Context) *scheduler.Scheduler {
	sched, _ := c.Request.Context().Value(schedulerKey{}).(*scheduler.Scheduler)
	return sched
}
