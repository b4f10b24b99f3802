// Package mq 基于 Watermill 的事件总线，发布树变更与任务完成事件.
//
// 实现按 configs.MQType 注册: nats (可选 JetStream)、redis Pub/Sub、memory (进程内 gochannel).
// 发布方只依赖 message.Publisher，这里不注册消费 handler.
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	watermill "github.com/ThreeDotsLabs/watermill"
	wmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/yeisme/treevault/pkg/configs"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/metrics"
)

// Factory 定义创建 Publisher + Subscriber 的工厂函数.
type Factory func(ctx context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error)

var (
	factories = map[configs.MQType]Factory{}
)

// RegisterFactory 注册指定 MQType 的工厂.
func RegisterFactory(t configs.MQType, f Factory) {
	factories[t] = f
}

// GetRegisteredMQTypes 返回已注册的 MQ 类型.
func GetRegisteredMQTypes() []configs.MQType {
	types := make([]configs.MQType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}

	return types
}

// Client 封装 watermill Publisher 与 Subscriber.
type Client struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	mqType     configs.MQType
}

// NewClient 用现成的 Publisher/Subscriber 构造 Client.
func NewClient(t configs.MQType, pub message.Publisher, sub message.Subscriber) *Client {
	return &Client{publisher: pub, subscriber: sub, mqType: t}
}

// Publisher 返回底层 Publisher.
func (c *Client) Publisher() message.Publisher {
	if c == nil {
		return nil
	}

	return c.publisher
}

// Type 返回 MQ 类型.
func (c *Client) Type() configs.MQType {
	return c.mqType
}

// Publish 便捷发布.
func (c *Client) Publish(ctx context.Context, topic string, msgs ...*message.Message) error {
	if c == nil || c.publisher == nil {
		return fmt.Errorf("mq publisher not initialized")
	}

	for _, m := range msgs {
		m.SetContext(ctx)
	}

	return c.publisher.Publish(topic, msgs...)
}

// Subscribe 订阅主题，ctx 取消后通道关闭. 用于 CLI 观察事件与测试.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if c == nil || c.subscriber == nil {
		return nil, fmt.Errorf("mq subscriber not initialized")
	}

	return c.subscriber.Subscribe(ctx, topic)
}

// Close 依次关闭 router、订阅端与发布端.
func (c *Client) Close() error {
	var errs []error

	if c.router != nil {
		errs = append(errs, c.router.Close())
	}

	if c.subscriber != nil {
		errs = append(errs, c.subscriber.Close())
	}

	// memory 实现中发布端与订阅端是同一个实例
	if c.publisher != nil && any(c.publisher) != any(c.subscriber) {
		errs = append(errs, c.publisher.Close())
	}

	return errors.Join(errs...)
}

var (
	mqOnce sync.Once
	mqInst *Client
	mqErr  error
)

// New 初始化消息队列（单例）.
func New(ctx context.Context) (*Client, error) {
	mqOnce.Do(func() {
		cfg := configs.GetConfig().MQ

		factory, ok := factories[cfg.Type]
		if !ok {
			mqErr = fmt.Errorf("unsupported mq type: %s", cfg.Type)
			return
		}

		logger := newZerologAdapter(nlog.Logger())

		pub, sub, err := factory(ctx, &cfg, logger)
		if err != nil {
			mqErr = fmt.Errorf("init mq (%s): %w", cfg.Type, err)
			return
		}

		var router *message.Router

		if configs.GetConfig().Metrics.Enabled {
			// router 只用于挂载 watermill 指标
			router, err = message.NewRouter(message.RouterConfig{}, logger)
			if err != nil {
				mqErr = fmt.Errorf("create router: %w", err)

				return
			}

			go func() {
				if runErr := router.Run(ctx); runErr != nil {
					nlog.Logger().Error().Err(runErr).Msg("router run error")
				}
			}()

			// 指标注册到应用的 Prometheus 注册表，由 /metrics 统一暴露
			metricsBuilder := wmetrics.NewPrometheusMetricsBuilder(metrics.GetRegistry(), "treevault", "mq")
			metricsBuilder.AddPrometheusRouterMetrics(router)

			pub, err = metricsBuilder.DecoratePublisher(pub)
			if err != nil {
				mqErr = fmt.Errorf("decorate publisher with metrics: %w", err)

				return
			}

			sub, err = metricsBuilder.DecorateSubscriber(sub)
			if err != nil {
				mqErr = fmt.Errorf("decorate subscriber with metrics: %w", err)

				return
			}

			nlog.Logger().Info().Msg("MQ metrics enabled")
		}

		mqInst = &Client{publisher: pub, subscriber: sub, router: router, mqType: cfg.Type}

		nlog.Logger().Info().Str("type", string(cfg.Type)).Msg("event bus ready")
	})

	return mqInst, mqErr
}
