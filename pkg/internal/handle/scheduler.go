package handle

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/types"
	"github.com/yeisme/treevault/pkg/middleware"
	"github.com/yeisme/treevault/pkg/scheduler"
)

// SchedulerJobs 返回所有定时任务信息，按名称排序.
func SchedulerJobs(c *gin.Context) {
	sched := middleware.GetScheduler(c)
	if sched == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []any{}, "waiting": 0})
		return
	}

	jobs := sched.GetJobInfos()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "waiting": sched.JobsWaitingInQueue()})
}

// RunSchedulerJob 立即触发一次指定任务.
func RunSchedulerJob(c *gin.Context) {
	sched := middleware.GetScheduler(c)
	if sched == nil {
		c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{Error: "scheduler not running", Code: "unavailable"})
		return
	}

	name := c.Param("name")
	if err := sched.RunNow(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Error: err.Error(), Code: "not_found"})
			return
		}

		writeError(c, "scheduler.run", err)

		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": name})
}
