package types

import "github.com/yeisme/treevault/pkg/internal/model"

// StartForkRequest 启动 fork.
type StartForkRequest struct {
	SourceProjectID string `json:"source_project_id" rule:"required,max=64"`
	TargetProjectID string `json:"target_project_id" rule:"required,max=64,nefield=SourceProjectID"`
}

// ForkJobResponse fork 任务状态.
type ForkJobResponse struct {
	Job *model.ForkJob `json:"job"`
}
