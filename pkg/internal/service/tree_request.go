package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/pathkey"
)

// ConflictStrategy 目标路径已被占用时的处理方式.
type ConflictStrategy string

const (
	ConflictOverwrite ConflictStrategy = "overwrite"
	ConflictKeepBoth  ConflictStrategy = "keep_both"
	ConflictFail      ConflictStrategy = "fail"
)

// keepBothProbes 保留两者时依次尝试 name(1) 到 name(10)，之后退回时间戳后缀.
const keepBothProbes = 10

// CreateNodeRequest 创建节点.FileKey 与 (ParentID, FileName) 二选一.
type CreateNodeRequest struct {
	ProjectID     string
	FileKey       string
	ParentID      string
	FileName      string
	IsDirectory   bool
	Source        model.Source
	StorageType   model.StorageType
	Metadata      string
	PredecessorID string
	UserID        string
	// Body 文件初始内容，为空时写入空对象
	Body []byte
}

// MoveNodeRequest 移动节点.TargetProjectID 为空表示项目内移动.
type MoveNodeRequest struct {
	FileID          string
	TargetProjectID string
	TargetParentID  string
	PredecessorID   string
	Conflict        ConflictStrategy
	// KeepBothIDs 冲突时需要保留两者的节点，未列出的按 Conflict 处理
	KeepBothIDs []string
	UserID      string
}

// CopyNodeRequest 复制节点，字段语义同 MoveNodeRequest.
type CopyNodeRequest struct {
	FileID          string
	TargetProjectID string
	TargetParentID  string
	PredecessorID   string
	Conflict        ConflictStrategy
	KeepBothIDs     []string
	UserID          string
}

// RenameNodeRequest 重命名节点.
type RenameNodeRequest struct {
	FileID  string
	NewName string
}

// DeleteNodeRequest 删除节点，目录连同后代一起进入回收站.
type DeleteNodeRequest struct {
	FileID string
}

// ReorderRequest 在当前父目录内调整节点位置.
type ReorderRequest struct {
	FileID        string
	PredecessorID string
}

// strategyFor 返回节点生效的冲突策略，默认覆盖.
func strategyFor(fileID string, strategy ConflictStrategy, keepBoth []string) ConflictStrategy {
	if slices.Contains(keepBoth, fileID) {
		return ConflictKeepBoth
	}

	if strategy == "" {
		return ConflictOverwrite
	}

	return strategy
}

func (s ConflictStrategy) valid() bool {
	switch s {
	case "", ConflictOverwrite, ConflictKeepBoth, ConflictFail:
		return true
	default:
		return false
	}
}

// validName 名称必须是单个路径段.
func validName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.Contains(name, pathkey.Separator) {
		return fmt.Errorf("%w: invalid name %q", ErrIllegalPath, name)
	}

	return nil
}
