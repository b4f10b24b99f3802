package testutil

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/storage/kv"
	"github.com/yeisme/treevault/pkg/internal/storage/lock"
)

// LockConfig 测试用锁配置：短自旋间隔与短超时.
func LockConfig() configs.LockConfig {
	return configs.LockConfig{SpinIntervalMS: 5, TTLSeconds: 60, TimeoutSeconds: 1, KeyPrefix: "test.lock."}
}

// NewLocker 基于内存 KV 的项目锁.
func NewLocker(t testing.TB) *lock.Locker {
	t.Helper()

	store, err := kv.NewKVStore(context.Background(), kv.KVTypeMemory, nil)
	if err != nil {
		t.Fatalf("create memory kv: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })

	return lock.New(store, LockConfig())
}

// NewPubSub 持久化的 gochannel，订阅前发布的消息不会丢失.
func NewPubSub(t testing.TB) *gochannel.GoChannel {
	t.Helper()

	ps := gochannel.NewGoChannel(gochannel.Config{Persistent: true, OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	return ps
}
