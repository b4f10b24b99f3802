// Package lock 在 KV 存储之上实现带超时的自旋锁.
//
// 锁值为持有者标识，释放与续期时比较持有者；TTL 限制进程崩溃后的残留时间，
// 持有期间由 KeepAlive 每 TTL/3 续期一次.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/storage/kv"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/metrics"
)

// ErrTimeout 等待超时仍未获得锁.
var ErrTimeout = errors.New("lock: acquire timeout")

// Locker 自旋锁.
type Locker struct {
	store    kv.KVStore
	prefix   string
	interval time.Duration
	ttl      time.Duration
}

// New 基于 KV 存储创建 Locker.
func New(store kv.KVStore, cfg configs.LockConfig) *Locker {
	interval := cfg.GetSpinInterval()
	if interval <= 0 {
		interval = configs.DefaultLockSpinIntervalMS * time.Millisecond
	}

	ttl := cfg.GetTTL()
	if ttl <= 0 {
		ttl = configs.DefaultLockTTLSeconds * time.Second
	}

	return &Locker{store: store, prefix: cfg.KeyPrefix, interval: interval, ttl: ttl}
}

// ProjectKey 返回项目锁键.
func (l *Locker) ProjectKey(projectID string) string {
	return l.prefix + projectID
}

// SpinLock 在 timeout 内反复尝试获取锁，超时返回 false 与 ErrTimeout.
func (l *Locker) SpinLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.store.SetNX(ctx, key, []byte(owner), l.ttl)
		if err != nil {
			return false, fmt.Errorf("acquire %s: %w", key, err)
		}

		if ok {
			return true, nil
		}

		if !time.Now().Before(deadline) {
			metrics.LockBusy.Inc()
			nlog.Logger().Warn().Str("key", key).Str("owner", owner).Dur("timeout", timeout).Msg("获取锁超时")

			return false, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release 仅持有者可以释放.
func (l *Locker) Release(ctx context.Context, key, owner string) (bool, error) {
	ok, err := l.store.CompareAndDelete(ctx, key, []byte(owner))
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}

	return ok, nil
}

// Refresh 持有者把锁的过期时间重置为 TTL，锁已丢失时返回 false.
func (l *Locker) Refresh(ctx context.Context, key, owner string) (bool, error) {
	ok, err := l.store.CompareAndExpire(ctx, key, []byte(owner), l.ttl)
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", key, err)
	}

	return ok, nil
}

// KeepAlive 在后台续期 keys，直到调用返回的 stop. stop 会等待续期协程退出，需在 Release 之前调用.
func (l *Locker) KeepAlive(ctx context.Context, owner string, keys []string) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	keys = slices.Clone(keys)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(max(l.ttl/3, l.interval))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			for _, key := range keys {
				ok, err := l.Refresh(ctx, key, owner)
				if ctx.Err() != nil {
					return
				}

				if err != nil || !ok {
					metrics.LockLost.Inc()
					nlog.Logger().Warn().Err(err).Str("key", key).Str("owner", owner).Msg("锁续期失败，持有权可能已丢失")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Held 列出当前持有的锁键.
func (l *Locker) Held(ctx context.Context) ([]string, error) {
	return l.store.Keys(ctx, l.prefix)
}
