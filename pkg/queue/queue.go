// Package queue 定义文件树事件的主题、负载与消息封装.
//
// 概览
//   - 节点变更提交后发布 tv.node.* 事件，fork 任务终态发布 tv.fork.finished
//   - 统一的消息封装：Message[Payload] = Header + Payload
//   - 主题常量见 topics.go，负载结构体见 payloads.go
//   - JSON 编解码使用 bytedance/sonic
//   - 消息 ID 为 xxhash(topic|dedup key)，下游可据此做幂等
//
// 消息信封（Envelope）JSON 结构
//
//	{
//	  "header": {
//	    "topic": "tv.node.moved",
//	    "trace_id": "optional-trace-id",
//	    "producer": "treevault",
//	    "occurred_at": "2025-01-02T03:04:05.123456Z",
//	    "version": "v1"
//	  },
//	  "payload": { ... 取决于具体主题 ... }
//	}
//
// 发布示例
//
//	err := queue.PublishNodeMoved(client.Publisher(), queue.NodeMovedPayload{
//	  Node:    queue.NodeRef{FileID: "01J...", ProjectID: "p1", FileKey: "ws/b/x.txt"},
//	  FromKey: "ws/a/x.txt",
//	}, queue.WithProducer("treevault"))
//
// 参考：internal/storage/mq（MQ 客户端封装）.
package queue

import (
	"strconv"
	"time"

	watermill "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
)

const (
	PayloadVersionV1 string = "v1"
)

// NewEventHeader 便捷创建事件头.
func NewEventHeader(topic string, opts ...func(*EventHeader)) EventHeader {
	hdr := EventHeader{
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Version:    PayloadVersionV1,
	}
	for _, opt := range opts {
		opt(&hdr)
	}

	return hdr
}

// WithTraceID 设置 TraceID.
func WithTraceID(id string) func(*EventHeader) { return func(h *EventHeader) { h.TraceID = id } }

// WithProducer 设置 Producer.
func WithProducer(p string) func(*EventHeader) { return func(h *EventHeader) { h.Producer = p } }

// WithDedupKey 设置确定性消息 ID 的来源键，为空时使用随机 UUID.
func WithDedupKey(k string) func(*EventHeader) { return func(h *EventHeader) { h.DedupKey = k } }

// Encode 将消息封装为 JSON 字节切片.
func Encode[T any](msg Message[T]) ([]byte, error) { return sonic.Marshal(msg) }

// Decode 从 JSON 字节解码为消息.
func Decode[T any](b []byte) (Message[T], error) {
	var m Message[T]

	err := sonic.Unmarshal(b, &m)

	return m, err
}

// MessageID 返回 topic 与 key 的确定性消息 ID.
func MessageID(topic, key string) string {
	return strconv.FormatUint(xxhash.Sum64String(topic+"|"+key), 16)
}

// NewWatermillMessage 构造一个 watermill 消息，设置 ID 与元数据.
func NewWatermillMessage[T any](topic string, payload T, opts ...func(*EventHeader)) (*message.Message, error) {
	header := NewEventHeader(topic, opts...)
	env := Message[T]{Header: header, Payload: payload}

	data, err := Encode(env)
	if err != nil {
		return nil, err
	}

	id := watermill.NewUUID()
	if header.DedupKey != "" {
		id = MessageID(topic, header.DedupKey)
	}

	msg := message.NewMessage(id, data)
	msg.Metadata.Set("topic", topic)

	if header.TraceID != "" {
		msg.Metadata.Set("trace_id", header.TraceID)
	}

	if header.Producer != "" {
		msg.Metadata.Set("producer", header.Producer)
	}

	msg.Metadata.Set("occurred_at", header.OccurredAt.Format(time.RFC3339Nano))

	if header.Version != "" {
		msg.Metadata.Set("version", header.Version)
	}

	return msg, nil
}

// ParseWatermillMessage 解出泛型负载.
func ParseWatermillMessage[T any](msg *message.Message) (Message[T], error) {
	return Decode[T](msg.Payload)
}
