package types

import "github.com/yeisme/treevault/pkg/internal/service"

// ReconcileRequest 触发一次对账.
type ReconcileRequest struct {
	ProjectIDs []string `json:"project_ids" rule:"omitempty,dive,required,max=64"`
	DryRun     bool     `json:"dry_run"`
	BatchSize  int      `json:"batch_size"  rule:"omitempty,min=1,max=10000"`
}

// Options 转换为对账参数.
func (r ReconcileRequest) Options() service.ReconcileOptions {
	return service.ReconcileOptions{ProjectIDs: r.ProjectIDs, DryRun: r.DryRun, BatchSize: r.BatchSize}
}

// ReconcileResponse 对账结果.
type ReconcileResponse struct {
	Result *service.ReconcileResult `json:"result"`
	Totals service.StageCounts      `json:"totals"`
}
