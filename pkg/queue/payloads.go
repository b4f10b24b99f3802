package queue

import "time"

// EventHeader 定义所有事件的通用头部元数据.
// 建议在发布消息时填充 TraceID、OccurredAt、Producer 等，便于追踪链路与审计.
type EventHeader struct {
	// Topic 冗余记录消息主题，便于离线处理或转储后定位来源主题.
	Topic string `json:"topic"`
	// TraceID 分布式追踪/关联 ID，可来自中间件或业务生成.
	TraceID string `json:"trace_id,omitempty"`
	// Producer 生产者服务名或节点标识.
	Producer string `json:"producer,omitempty"`
	// OccurredAt 事件发生时间（UTC，RFC3339）.
	OccurredAt time.Time `json:"occurred_at"`
	// Version 事件负载版本，便于向后兼容演进.
	Version string `json:"version,omitempty"`
	// DedupKey 不序列化，用于生成确定性的消息 ID.
	DedupKey string `json:"-"`
}

// Message 是统一的消息封装，Header + Payload.
// T 即不同主题对应的负载结构体.
type Message[T any] struct {
	Header  EventHeader `json:"header"`
	Payload T           `json:"payload"`
}

// -------------------------- 节点领域 --------------------------

// NodeRef 标识一个文件树节点.
type NodeRef struct {
	FileID           string `json:"file_id"`
	ProjectID        string `json:"project_id"`
	OrganizationCode string `json:"organization_code"`
	FileKey          string `json:"file_key"`
	ParentID         string `json:"parent_id,omitempty"`
	IsDirectory      bool   `json:"is_directory"`
}

// NodeCreatedPayload 节点已创建.
type NodeCreatedPayload struct {
	Node   NodeRef `json:"node"`
	Source string  `json:"source,omitempty"`
	// AutoCreated 为 true 表示该目录由系统自动补齐
	AutoCreated bool `json:"auto_created,omitempty"`
}

// NodeMovedPayload 节点已移动.
type NodeMovedPayload struct {
	Node        NodeRef `json:"node"`
	FromKey     string  `json:"from_key"`
	FromProject string  `json:"from_project"`
	// Descendants 随目录一起移动的后代数量
	Descendants int `json:"descendants,omitempty"`
}

// NodeCopiedPayload 节点已复制.
type NodeCopiedPayload struct {
	Node        NodeRef `json:"node"`
	SourceID    string  `json:"source_id"`
	Descendants int     `json:"descendants,omitempty"`
}

// NodeRenamedPayload 节点已重命名.
type NodeRenamedPayload struct {
	Node        NodeRef `json:"node"`
	FromKey     string  `json:"from_key"`
	Descendants int     `json:"descendants,omitempty"`
}

// NodeDeletedPayload 节点已进入回收站.
type NodeDeletedPayload struct {
	Node        NodeRef `json:"node"`
	Descendants int     `json:"descendants,omitempty"`
}

// -------------------------- 批量任务领域 --------------------------

// ForkFinishedPayload fork 任务终态.
type ForkFinishedPayload struct {
	JobID           string `json:"job_id"`
	SourceProjectID string `json:"source_project_id"`
	TargetProjectID string `json:"target_project_id"`
	Status          string `json:"status"`
	TotalFiles      int64  `json:"total_files"`
	ProcessedFiles  int64  `json:"processed_files"`
	FailedFiles     int64  `json:"failed_files,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ReconciledPayload 一次对账运行的汇总.
type ReconciledPayload struct {
	RunID    string `json:"run_id"`
	Projects int    `json:"projects"`
	Deleted  int    `json:"deleted"`
	Errors   int    `json:"errors"`
	DryRun   bool   `json:"dry_run"`
}
