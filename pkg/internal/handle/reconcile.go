package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/treevault/pkg/internal/types"
)

// Reconcile 同步执行一次对账.
func (h *Handler) Reconcile(c *gin.Context) {
	var req types.ReconcileRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	res, err := h.dedup.Run(c.Request.Context(), req.Options())
	if err != nil {
		writeError(c, "reconcile", err)
		return
	}

	c.JSON(http.StatusOK, types.ReconcileResponse{Result: res, Totals: res.Totals()})
}
