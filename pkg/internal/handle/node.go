package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/types"
)

// ListChildren 列出父节点下的有效子节点.
func (h *Handler) ListChildren(c *gin.Context) {
	var q types.ChildrenQuery
	if !bindQuery(c, &q) {
		return
	}

	projectID := c.Param("id")

	nodes, err := h.tree.ListChildren(c.Request.Context(), projectID, q.ParentID)
	if err != nil {
		writeError(c, "list_children", err)
		return
	}

	c.JSON(http.StatusOK, types.ChildrenResponse{ProjectID: projectID, ParentID: q.ParentID, Nodes: nodes})
}

// CreateNode 创建文件或目录.
func (h *Handler) CreateNode(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var req types.CreateNodeRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.tree.Create(c.Request.Context(), service.CreateNodeRequest{
		ProjectID:     c.Param("id"),
		FileKey:       req.FileKey,
		ParentID:      req.ParentID,
		FileName:      req.FileName,
		IsDirectory:   req.IsDirectory,
		Metadata:      req.Metadata,
		PredecessorID: req.PredecessorID,
		UserID:        user,
		Body:          []byte(req.Content),
	})
	if err != nil {
		writeError(c, "create_node", err)
		return
	}

	c.JSON(http.StatusCreated, types.NodeResponse{Node: n})
}

// GetNode 查询有效节点.
func (h *Handler) GetNode(c *gin.Context) {
	n, err := h.tree.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "get_node", err)
		return
	}

	c.JSON(http.StatusOK, types.NodeResponse{Node: n})
}

// MoveNode 移动节点，可跨项目.
func (h *Handler) MoveNode(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var req types.MoveNodeRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.tree.Move(c.Request.Context(), service.MoveNodeRequest{
		FileID:          c.Param("id"),
		TargetProjectID: req.TargetProjectID,
		TargetParentID:  req.TargetParentID,
		PredecessorID:   req.PredecessorID,
		Conflict:        service.ConflictStrategy(req.Conflict),
		KeepBothIDs:     req.KeepBothIDs,
		UserID:          user,
	})
	if err != nil {
		writeError(c, "move_node", err)
		return
	}

	c.JSON(http.StatusOK, types.NodeResponse{Node: n})
}

// CopyNode 复制节点，可跨项目.
func (h *Handler) CopyNode(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var req types.MoveNodeRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.tree.Copy(c.Request.Context(), service.CopyNodeRequest{
		FileID:          c.Param("id"),
		TargetProjectID: req.TargetProjectID,
		TargetParentID:  req.TargetParentID,
		PredecessorID:   req.PredecessorID,
		Conflict:        service.ConflictStrategy(req.Conflict),
		KeepBothIDs:     req.KeepBothIDs,
		UserID:          user,
	})
	if err != nil {
		writeError(c, "copy_node", err)
		return
	}

	c.JSON(http.StatusCreated, types.NodeResponse{Node: n})
}

// RenameNode 重命名节点.
func (h *Handler) RenameNode(c *gin.Context) {
	var req types.RenameNodeRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.tree.Rename(c.Request.Context(), service.RenameNodeRequest{FileID: c.Param("id"), NewName: req.NewName})
	if err != nil {
		writeError(c, "rename_node", err)
		return
	}

	c.JSON(http.StatusOK, types.NodeResponse{Node: n})
}

// ReorderNode 调整节点在兄弟中的位置.
func (h *Handler) ReorderNode(c *gin.Context) {
	var req types.ReorderNodeRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.tree.Reorder(c.Request.Context(), service.ReorderRequest{FileID: c.Param("id"), PredecessorID: req.PredecessorID})
	if err != nil {
		writeError(c, "reorder_node", err)
		return
	}

	c.JSON(http.StatusOK, types.NodeResponse{Node: n})
}

// DeleteNode 把节点移入回收站.
func (h *Handler) DeleteNode(c *gin.Context) {
	n, err := h.tree.Delete(c.Request.Context(), service.DeleteNodeRequest{FileID: c.Param("id")})
	if err != nil {
		writeError(c, "delete_node", err)
		return
	}

	c.JSON(http.StatusOK, types.NodeResponse{Node: n})
}
