package mq

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/configs"
)

func TestRegisteredTypes(t *testing.T) {
	assert.ElementsMatch(t,
		[]configs.MQType{configs.MQTypeMemory, configs.MQTypeNATS, configs.MQTypeRedis},
		GetRegisteredMQTypes())
}

// TestMemoryClient 测试进程内实现的发布订阅闭环.
func TestMemoryClient(t *testing.T) {
	pub, sub, err := memoryFactory(context.Background(), &configs.MQConfig{}, watermill.NopLogger{})
	require.NoError(t, err)

	c := NewClient(configs.MQTypeMemory, pub, sub)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx, "treevault.node.moved")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "treevault.node.moved", message.NewMessage("m1", []byte(`{"file_id":"f1"}`))))

	select {
	case msg := <-ch:
		assert.Equal(t, "m1", msg.UUID)
		assert.JSONEq(t, `{"file_id":"f1"}`, string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNilClient(t *testing.T) {
	var c *Client

	assert.Nil(t, c.Publisher())
	require.Error(t, c.Publish(context.Background(), "x"))

	_, err := c.Subscribe(context.Background(), "x")
	require.Error(t, err)
}

func TestNatsConfig(t *testing.T) {
	cfg := &configs.MQConfig{}
	cfg.JetStreamEnabled = false
	assert.True(t, jetStreamConfig(cfg).Disabled)

	cfg.JetStreamEnabled = true
	cfg.JetStreamDurablePrefix = "tv"
	js := jetStreamConfig(cfg)
	assert.False(t, js.Disabled)
	assert.Equal(t, "tv", js.DurablePrefix)

	base := len(natsOptions(cfg))
	cfg.User, cfg.Password = "u", "p"
	cfg.ReconnectJitter = true
	assert.Len(t, natsOptions(cfg), base+2)
}

func TestRedisFrame(t *testing.T) {
	assert.Nil(t, decodeFrame("not json"))
	assert.Nil(t, decodeFrame(`{"payload":"e30="}`), "missing uuid")

	msg := decodeFrame(`{"uuid":"m2","metadata":{"dedup_key":"f1"},"payload":"e30="}`)
	require.NotNil(t, msg)
	assert.Equal(t, "m2", msg.UUID)
	assert.Equal(t, "f1", msg.Metadata.Get("dedup_key"))
	assert.Equal(t, "{}", string(msg.Payload))
}
