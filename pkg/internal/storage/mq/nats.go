package mq

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/yeisme/treevault/pkg/configs"
)

const (
	natsDrainTimeout   = 30 * time.Second
	natsFlushTimeout   = 10 * time.Second
	natsCloseTimeout   = 30 * time.Second
	natsJitter         = 100 * time.Millisecond
	natsJitterTLS      = time.Second
	natsQueueGroupName = "treevault"
)

func init() {
	RegisterFactory(configs.MQTypeNATS, natsFactory)
}

// natsFactory 创建 NATS 发布/订阅端. 树变更事件只发布，订阅端供下游消费者使用.
func natsFactory(_ context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	url := cfg.URL
	if len(cfg.ClusterURLs) > 0 {
		url = strings.Join(cfg.ClusterURLs, ",")
	}

	opts := natsOptions(cfg)
	js := jetStreamConfig(cfg)
	marshaler := &wmnats.JSONMarshaler{}

	logger.Debug("nats transport", watermill.LogFields{
		"url":       url,
		"jetstream": !js.Disabled,
		"stream":    cfg.StreamName,
	})

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: opts,
		Marshaler:   marshaler,
		JetStream:   js,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	subCfg := wmnats.SubscriberConfig{
		URL:          url,
		NatsOptions:  opts,
		Unmarshaler:  marshaler,
		JetStream:    js,
		CloseTimeout: natsCloseTimeout,
	}

	// 多实例共享一个队列组，事件只投递给其中一个
	if cfg.LoadBalance {
		subCfg.QueueGroupPrefix = natsQueueGroupName
	}

	if cfg.ConsumerAckWait > 0 {
		subCfg.AckWaitTimeout = time.Duration(cfg.ConsumerAckWait) * time.Second
	}

	sub, err := wmnats.NewSubscriber(subCfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, err
	}

	return pub, sub, nil
}

func natsOptions(cfg *configs.MQConfig) []nc.Option {
	opts := []nc.Option{
		nc.Name(cfg.ClientID),
		nc.MaxReconnects(cfg.MaxReconnects),
		nc.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		nc.PingInterval(time.Duration(cfg.PingInterval) * time.Second),
		nc.MaxPingsOutstanding(cfg.MaxPingsOut),
		nc.ReconnectBufSize(cfg.BufferSize),
		nc.DrainTimeout(natsDrainTimeout),
		nc.FlusherTimeout(natsFlushTimeout),
		nc.RetryOnFailedConnect(!cfg.StrictConnect),
	}

	if cfg.ReconnectJitter || cfg.ReconnectJitterTLS {
		jitter, jitterTLS := time.Duration(0), time.Duration(0)
		if cfg.ReconnectJitter {
			jitter = natsJitter
		}

		if cfg.ReconnectJitterTLS {
			jitterTLS = natsJitterTLS
		}

		opts = append(opts, nc.ReconnectJitter(jitter, jitterTLS))
	}

	switch {
	case cfg.JWT != "":
		opts = append(opts, nc.UserJWTAndSeed(cfg.JWT, cfg.NKey))
	case cfg.NKey != "":
		opts = append(opts, nc.Nkey(cfg.NKey, nil))
	case cfg.User != "":
		opts = append(opts, nc.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

func jetStreamConfig(cfg *configs.MQConfig) wmnats.JetStreamConfig {
	if !cfg.JetStreamEnabled {
		return wmnats.JetStreamConfig{Disabled: true}
	}

	return wmnats.JetStreamConfig{
		AutoProvision: cfg.JetStreamAutoProvision,
		TrackMsgId:    cfg.JetStreamTrackMsgID,
		AckAsync:      cfg.JetStreamAckAsync,
		DurablePrefix: cfg.JetStreamDurablePrefix,
	}
}
