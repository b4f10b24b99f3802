package types

import (
	"time"

	"github.com/yeisme/treevault/pkg/internal/service"
)

// PurgeTrashRequest 清理回收站.
// 可指定 before（RFC3339）或 days（整数，表示清理 N 天前删除的），都为空时使用配置的保留期.
type PurgeTrashRequest struct {
	Before string `form:"before" json:"before,omitempty" rule:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Days   int    `form:"days"   json:"days,omitempty"   rule:"omitempty,min=0"`
}

// ParseBefore 返回解析后的时间与是否提供.
func (r *PurgeTrashRequest) ParseBefore(now time.Time) (time.Time, bool) {
	if r.Before != "" {
		if t, err := time.Parse(time.RFC3339, r.Before); err == nil {
			return t, true
		}
	}

	if r.Days > 0 {
		return now.UTC().Add(-time.Duration(r.Days) * 24 * time.Hour), true
	}

	return time.Time{}, false
}

// PurgeTrashResponse 清理结果.
type PurgeTrashResponse struct {
	Before time.Time            `json:"before"`
	Result *service.PurgeResult `json:"result"`
}
