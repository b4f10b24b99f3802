// Package model 定义持久化实体.
package model

import (
	"time"
)

// NodeStatus 节点状态，删除使用显式墓碑而不是 gorm 软删除.
type NodeStatus string

const (
	NodeLive      NodeStatus = "live"
	NodeTombstone NodeStatus = "tombstone"
)

// Source 节点来源.
type Source string

const (
	SourceUser  Source = "user"
	SourceAgent Source = "agent"
	SourceCopy  Source = "copy"
	SourceFork  Source = "fork"
)

// StorageType 节点所属存储区.
type StorageType string

const (
	StorageWorkspace StorageType = "workspace"
	StorageSnapshot  StorageType = "snapshot"
	StorageTopic     StorageType = "topic"
)

// FileNode 文件树节点，一行对应一个文件或目录.
//
// (project_id, file_key) 只建普通索引：历史数据里的重复 key 需要能被对账任务修复.
type FileNode struct {
	FileID           string      `gorm:"primaryKey;size:26"                    json:"file_id"`
	ProjectID        string      `gorm:"size:64;index;index:idx_project_key"   json:"project_id"`
	OrganizationCode string      `gorm:"size:64;index"                         json:"organization_code"`
	UserID           string      `gorm:"size:64"                               json:"user_id"`
	FileKey          string      `gorm:"size:1024;index:idx_project_key"       json:"file_key"`
	FileName         string      `gorm:"size:512"                              json:"file_name"`
	ParentID         *string     `gorm:"size:26;index"                         json:"parent_id"`
	IsDirectory      bool        `gorm:"index"                                 json:"is_directory"`
	Sort             int64       `gorm:"index"                                 json:"sort"`
	StorageType      StorageType `gorm:"size:16;default:workspace"             json:"storage_type"`
	Source           Source      `gorm:"size:16;default:user"                  json:"source"`
	Status           NodeStatus  `gorm:"size:16;index;default:live"            json:"status"`
	DeletedAt        *time.Time  `gorm:"index"                                 json:"deleted_at,omitempty"`
	Metadata         string      `gorm:"type:text"                             json:"metadata,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TableName 指定表名.
func (FileNode) TableName() string {
	return "file_nodes"
}

// IsLive 节点未被删除.
func (n *FileNode) IsLive() bool {
	return n.Status == NodeLive
}

// IsRoot 项目根节点没有父节点.
func (n *FileNode) IsRoot() bool {
	return n.ParentID == nil
}

// ParentIDValue 返回父节点 ID，根节点返回空字符串.
func (n *FileNode) ParentIDValue() string {
	if n.ParentID == nil {
		return ""
	}

	return *n.ParentID
}

// Tombstone 标记删除.
func (n *FileNode) Tombstone(at time.Time) {
	n.Status = NodeTombstone
	n.DeletedAt = &at
}

// Models 返回需要自动迁移的全部实体.
func Models() []any {
	return []any{&FileNode{}, &Project{}, &ForkJob{}}
}
