package types

import "github.com/yeisme/treevault/pkg/internal/model"

// ChildrenQuery 列出子节点，ParentID 为空时列出根目录.
type ChildrenQuery struct {
	ParentID string `form:"parent_id" rule:"omitempty,max=64"`
}

// ChildrenResponse 子节点列表.
type ChildrenResponse struct {
	ProjectID string           `json:"project_id"`
	ParentID  string           `json:"parent_id,omitempty"`
	Nodes     []model.FileNode `json:"nodes"`
}

// CreateNodeRequest 创建文件或目录.FileKey 与 (ParentID, FileName) 二选一.
type CreateNodeRequest struct {
	FileKey       string `json:"file_key"       rule:"required_without=FileName,max=1024"`
	ParentID      string `json:"parent_id"      rule:"omitempty,max=64"`
	FileName      string `json:"file_name"      rule:"required_without=FileKey,max=512"`
	IsDirectory   bool   `json:"is_directory"`
	Metadata      string `json:"metadata"`
	PredecessorID string `json:"predecessor_id" rule:"omitempty,max=64"`
	Content       string `json:"content"`
}

// MoveNodeRequest 移动或复制节点.TargetProjectID 为空表示项目内操作.
type MoveNodeRequest struct {
	TargetProjectID string   `json:"target_project_id" rule:"omitempty,max=64"`
	TargetParentID  string   `json:"target_parent_id"  rule:"required,max=64"`
	PredecessorID   string   `json:"predecessor_id"    rule:"omitempty,max=64"`
	Conflict        string   `json:"conflict"          rule:"omitempty,oneof=overwrite keep_both fail"`
	KeepBothIDs     []string `json:"keep_both_ids"     rule:"omitempty,dive,required"`
}

// RenameNodeRequest 重命名.
type RenameNodeRequest struct {
	NewName string `json:"new_name" rule:"required,max=512,nodename"`
}

// ReorderNodeRequest 调整兄弟顺序，PredecessorID 为 0 表示移到最前.
type ReorderNodeRequest struct {
	PredecessorID string `json:"predecessor_id" rule:"omitempty,max=64"`
}

// NodeResponse 单节点响应.
type NodeResponse struct {
	Node *model.FileNode `json:"node"`
}
