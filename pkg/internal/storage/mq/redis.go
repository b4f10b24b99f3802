package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/yeisme/treevault/pkg/configs"
)

// DefaultChannelBufferSize 订阅输出通道缓冲.
const DefaultChannelBufferSize = 100

var errSubscriberClosed = errors.New("redis subscriber closed")

// redisFrame Redis Pub/Sub 只传字符串，UUID 与 metadata 一起编码.
type redisFrame struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

func init() {
	RegisterFactory(configs.MQTypeRedis, redisFactory)
}

// redisFactory 发布端与订阅端共用一个连接，连接由发布端关闭.
// Redis Pub/Sub 不持久化，订阅前发布的事件会丢失.
func redisFactory(ctx context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	return &RedisPublisher{client: rdb}, &RedisSubscriber{client: rdb, logger: logger, done: make(chan struct{})}, nil
}

// RedisPublisher 实现 message.Publisher.
type RedisPublisher struct {
	client *redis.Client
}

func (p *RedisPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		b, err := sonic.Marshal(redisFrame{UUID: msg.UUID, Metadata: msg.Metadata, Payload: msg.Payload})
		if err != nil {
			return fmt.Errorf("encode %s: %w", msg.UUID, err)
		}

		if err := p.client.Publish(msg.Context(), topic, b).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", topic, err)
		}
	}

	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisSubscriber 实现 message.Subscriber. 消息 Ack 不回传给 Redis.
type RedisSubscriber struct {
	client *redis.Client
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	done   chan struct{}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errSubscriberClosed
	}

	ps := s.client.Subscribe(ctx, topic)
	s.subs = append(s.subs, ps)

	out := make(chan *message.Message, DefaultChannelBufferSize)

	go func() {
		defer close(out)

		in := ps.Channel()

		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}

				msg := decodeFrame(raw.Payload)
				if msg == nil {
					s.logger.Error("drop undecodable redis message", nil, watermill.LogFields{"topic": topic})
					continue
				}

				select {
				case out <- msg:
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func decodeFrame(raw string) *message.Message {
	var f redisFrame
	if err := sonic.UnmarshalString(raw, &f); err != nil || f.UUID == "" {
		return nil
	}

	msg := message.NewMessage(f.UUID, f.Payload)
	for k, v := range f.Metadata {
		msg.Metadata.Set(k, v)
	}

	return msg
}

func (s *RedisSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	var errs []error
	for _, ps := range s.subs {
		errs = append(errs, ps.Close())
	}

	return errors.Join(errs...)
}
