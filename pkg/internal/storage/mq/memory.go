package mq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/yeisme/treevault/pkg/configs"
)

// init 注册进程内 gochannel 工厂.
func init() {
	RegisterFactory(configs.MQTypeMemory, memoryFactory)
}

// NewMemoryPubSub 创建进程内 pub/sub，Publisher 与 Subscriber 是同一个实例.
func NewMemoryPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: DefaultChannelBufferSize,
		Persistent:          false,
	}, logger)
}

func memoryFactory(
	_ context.Context,
	_ *configs.MQConfig,
	logger watermill.LoggerAdapter) (
	message.Publisher, message.Subscriber, error) {
	ps := NewMemoryPubSub(logger)

	return ps, ps, nil
}
