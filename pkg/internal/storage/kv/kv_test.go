package kv_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/storage/kv"
)

// stores 返回可用的后端. redis / nats 需要设置 TREEVAULT_TEST_REDIS / TREEVAULT_TEST_NATS.
func stores(tb testing.TB) map[string]kv.KVStore {
	tb.Helper()

	ctx := context.Background()
	out := map[string]kv.KVStore{}

	mem, err := kv.NewKVStore(ctx, kv.KVTypeMemory, nil)
	require.NoError(tb, err)

	out["memory"] = mem

	if addr := os.Getenv("TREEVAULT_TEST_REDIS"); addr != "" {
		s, err := kv.NewKVStore(ctx, kv.KVTypeRedis, &configs.KVConfig{Redis: configs.RedisKVConfig{Addr: addr}})
		require.NoError(tb, err)

		out["redis"] = s
	}

	if url := os.Getenv("TREEVAULT_TEST_NATS"); url != "" {
		s, err := kv.NewKVStore(ctx, kv.KVTypeNATS, &configs.KVConfig{NATS: configs.NATSKVConfig{URL: url, Bucket: "treevault-test"}})
		require.NoError(tb, err)

		out["nats"] = s
	}

	tb.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})

	return out
}

// TestSetNX 同一个键只有第一个写入者成功.
func TestSetNX(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := fmt.Sprintf("setnx-%d", time.Now().UnixNano())

			ok, err := store.SetNX(ctx, key, []byte("owner-1"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.SetNX(ctx, key, []byte("owner-2"), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "owner-1", string(got))

			require.NoError(t, store.Delete(ctx, key))
		})
	}
}

// TestCompareAndDelete 只有持有者能删除.
func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := fmt.Sprintf("cad-%d", time.Now().UnixNano())
			require.NoError(t, store.Set(ctx, key, []byte("owner-1"), 0))

			ok, err := store.CompareAndDelete(ctx, key, []byte("owner-2"))
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = store.CompareAndDelete(ctx, key, []byte("owner-1"))
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = store.Get(ctx, key)
			require.ErrorIs(t, err, kv.ErrNotFound)

			ok, err = store.CompareAndDelete(ctx, key, []byte("owner-1"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// TestCompareAndExpire 只有持有者能续期.
func TestCompareAndExpire(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := fmt.Sprintf("cae-%d", time.Now().UnixNano())

			ok, err := store.CompareAndExpire(ctx, key, []byte("owner-1"), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = store.SetNX(ctx, key, []byte("owner-1"), 300*time.Millisecond)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = store.CompareAndExpire(ctx, key, []byte("owner-2"), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = store.CompareAndExpire(ctx, key, []byte("owner-1"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			time.Sleep(400 * time.Millisecond)

			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "owner-1", string(got))

			require.NoError(t, store.Delete(ctx, key))
		})
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	store := stores(t)["memory"]

	ok, err := store.SetNX(ctx, "lock-c", []byte("owner-1"), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		ok, err := store.SetNX(ctx, "lock-c", []byte("owner-2"), time.Minute)
		return err == nil && ok
	}, time.Second, 10*time.Millisecond)

	_ = store.Set(ctx, "other", []byte("x"), 0)

	keys, err := store.Keys(ctx, "lock-")
	require.NoError(t, err)
	assert.Equal(t, []string{"lock-c"}, keys)

	exists, err := store.Exists(ctx, "other")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUnknownType(t *testing.T) {
	_, err := kv.NewKVStore(context.Background(), kv.KVType("etcd"), nil)
	require.Error(t, err)
	assert.NotContains(t, kv.GetRegisteredKVTypes(), kv.KVType("etcd"))
}

// BenchmarkLockCycle 获取并释放锁，与 project 锁的调用模式一致.
func BenchmarkLockCycle(b *testing.B) {
	ctx := context.Background()

	for name, store := range stores(b) {
		b.Run(name, func(b *testing.B) {
			var ctr atomic.Uint64

			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				owner := []byte(fmt.Sprintf("owner-%d", ctr.Add(1)))

				for pb.Next() {
					// NATS KV 键只允许 [-/_=.a-zA-Z0-9]
					key := fmt.Sprintf("bench.lock.%d", ctr.Add(1)%64)

					ok, err := store.SetNX(ctx, key, owner, time.Minute)
					if err != nil {
						b.Fatalf("setnx: %v", err)
					}

					if ok {
						if _, err := store.CompareAndDelete(ctx, key, owner); err != nil {
							b.Fatalf("release: %v", err)
						}
					}
				}
			})
		})
	}
}
