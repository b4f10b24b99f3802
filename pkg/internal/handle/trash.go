package handle

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/types"
)

// ListTrash 分页列出项目回收站.
func (h *Handler) ListTrash(c *gin.Context) {
	var q types.PageQuery
	if !bindQuery(c, &q) {
		return
	}

	q.Normalize()

	list, err := h.trash.List(c.Request.Context(), c.Param("id"), q.Page, q.Size)
	if err != nil {
		writeError(c, "list_trash", err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// PurgeTrash 物理删除早于截止时间的墓碑，未指定时使用配置的保留期.
func (h *Handler) PurgeTrash(c *gin.Context) {
	var req types.PurgeTrashRequest
	if !bindQuery(c, &req) {
		return
	}

	before, ok := req.ParseBefore(time.Now())
	if !ok {
		before = h.trash.Cutoff()
	}

	res, err := h.trash.Purge(c.Request.Context(), c.Param("id"), before)
	if err != nil {
		writeError(c, "purge_trash", err)
		return
	}

	c.JSON(http.StatusOK, types.PurgeTrashResponse{Before: before, Result: res})
}
