package queue

// 主题命名规范：tv.<域>.<动作>，尽量稳定且向后兼容.
// 域：node(单节点变更)、fork(项目迁移)、dedup(重复记录对账)

const (
	// 节点领域.
	TopicNodeCreated = "tv.node.created" // 新建节点（含自动补齐的中间目录）
	TopicNodeMoved   = "tv.node.moved"   // 节点移动，含跨项目与跨组织
	TopicNodeCopied  = "tv.node.copied"  // 节点复制
	TopicNodeRenamed = "tv.node.renamed" // 节点重命名，目录重命名只发一条
	TopicNodeDeleted = "tv.node.deleted" // 节点进入回收站

	// 批量任务领域.
	TopicForkFinished = "tv.fork.finished" // fork 任务进入终态（FINISHED 或 FAILED）
	TopicReconciled   = "tv.dedup.reconciled"
)

// NodeTopics 返回全部节点主题，供 `mq ls` 与订阅方使用.
func NodeTopics() []string {
	return []string{TopicNodeCreated, TopicNodeMoved, TopicNodeCopied, TopicNodeRenamed, TopicNodeDeleted}
}
