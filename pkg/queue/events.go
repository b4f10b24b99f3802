package queue

import "github.com/ThreeDotsLabs/watermill/message"

// -------------------------- 基于业务封装 events --------------------------

// PublishNodeCreated 发布 tv.node.created 事件.
func PublishNodeCreated(pub message.Publisher, payload NodeCreatedPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicNodeCreated, payload.Node.FileID, payload, opts...)
}

// PublishNodeMoved 发布 tv.node.moved 事件.
func PublishNodeMoved(pub message.Publisher, payload NodeMovedPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicNodeMoved, payload.Node.FileID+"|"+payload.Node.FileKey, payload, opts...)
}

// PublishNodeCopied 发布 tv.node.copied 事件.
func PublishNodeCopied(pub message.Publisher, payload NodeCopiedPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicNodeCopied, payload.Node.FileID, payload, opts...)
}

// PublishNodeRenamed 发布 tv.node.renamed 事件.
func PublishNodeRenamed(pub message.Publisher, payload NodeRenamedPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicNodeRenamed, payload.Node.FileID+"|"+payload.Node.FileKey, payload, opts...)
}

// PublishNodeDeleted 发布 tv.node.deleted 事件.
func PublishNodeDeleted(pub message.Publisher, payload NodeDeletedPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicNodeDeleted, payload.Node.FileID, payload, opts...)
}

// PublishForkFinished 发布 tv.fork.finished 事件.
func PublishForkFinished(pub message.Publisher, payload ForkFinishedPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicForkFinished, payload.JobID, payload, opts...)
}

// PublishReconciled 发布 tv.dedup.reconciled 事件.
func PublishReconciled(pub message.Publisher, payload ReconciledPayload, opts ...func(*EventHeader)) error {
	return publish(pub, TopicReconciled, payload.RunID, payload, opts...)
}

// ParseNodeMoved 将 Watermill 消息解析为强类型 Envelope（NodeMovedPayload）.
func ParseNodeMoved(msg *message.Message) (Message[NodeMovedPayload], error) {
	return ParseWatermillMessage[NodeMovedPayload](msg)
}

func publish[T any](pub message.Publisher, topic, key string, payload T, opts ...func(*EventHeader)) error {
	opts = append(opts, WithDedupKey(key))

	msg, err := NewWatermillMessage(topic, payload, opts...)
	if err != nil {
		return err
	}

	return pub.Publish(topic, msg)
}
