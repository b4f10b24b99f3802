// Package handle 提供 HTTP 请求处理器的实现.
package handle

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/types"
	"github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/rule"
)

// Handler 管理接口处理器，持有进程内共享的服务实例.
type Handler struct {
	tree  *service.TreeService
	fork  *service.ForkService
	dedup *service.DedupService
	trash *service.TrashService
}

// New 创建 Handler.
func New(engine *service.Engine) *Handler {
	return &Handler{
		tree:  engine.Tree,
		fork:  engine.Fork,
		dedup: engine.Dedup,
		trash: engine.Trash,
	}
}

func DefaultHandler(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"message": "Not Implemented"})
}

// currentUser 提取操作用户：Header 优先，其次 query 参数，可以为空.
func currentUser(c *gin.Context) (string, error) {
	user := c.GetHeader("X-User")
	if user == "" {
		user = c.Query("user")
	}

	user = strings.TrimSpace(user)

	if err := rule.ValidateVar(user, "omitempty,max=64,printascii"); err != nil {
		return "", err
	}

	return user, nil
}

// bindJSON 解析并校验请求体，失败时已写入 400.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return false
	}

	if err := rule.ValidateStruct(req); err != nil {
		badRequest(c, err)
		return false
	}

	return true
}

// bindQuery 解析并校验查询参数.
func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		badRequest(c, err)
		return false
	}

	if err := rule.ValidateStruct(req); err != nil {
		badRequest(c, err)
		return false
	}

	return true
}

func badRequest(c *gin.Context, err error) {
	resp := types.ErrorResponse{Error: err.Error(), Code: "invalid_argument"}
	if fields := rule.Errors(err); len(fields) > 0 {
		resp.Error = fields.Error()
		resp.Fields = fields
	}

	c.JSON(http.StatusBadRequest, resp)
}

// statusOf 把引擎错误映射为 HTTP 状态码.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrBusy):
		return http.StatusLocked, "busy"
	case errors.Is(err, service.ErrIllegalPath):
		return http.StatusBadRequest, "illegal_path"
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrBackingStore):
		return http.StatusBadGateway, "backing_store"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError 记录日志并写入错误响应.
func writeError(c *gin.Context, op string, err error) {
	status, code := statusOf(err)

	ev := log.Logger().Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Logger().Error()
	}

	ev.Err(err).Str("op", op).Int("status", status).Msg("request failed")

	c.JSON(status, types.ErrorResponse{Error: err.Error(), Code: code})
}
