package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/types"
)

// StartFork 创建 fork 任务并在后台执行，立即返回 202.
func (h *Handler) StartFork(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var req types.StartForkRequest
	if !bindJSON(c, &req) {
		return
	}

	job, err := h.fork.Start(c.Request.Context(), service.StartForkRequest{
		SourceProjectID: req.SourceProjectID,
		TargetProjectID: req.TargetProjectID,
		UserID:          user,
	})
	if err != nil {
		writeError(c, "start_fork", err)
		return
	}

	c.JSON(http.StatusAccepted, types.ForkJobResponse{Job: job})
}

// GetFork 查询 fork 任务进度.
func (h *Handler) GetFork(c *gin.Context) {
	job, err := h.fork.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "get_fork", err)
		return
	}

	c.JSON(http.StatusOK, types.ForkJobResponse{Job: job})
}

// ResumeFork 从游标处继续执行任务.
func (h *Handler) ResumeFork(c *gin.Context) {
	job, err := h.fork.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "resume_fork", err)
		return
	}

	c.JSON(http.StatusAccepted, types.ForkJobResponse{Job: job})
}
