package kv

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yeisme/treevault/pkg/configs"
)

// MemoryKV 基于 sync.Map 的内存 KV 实现，仅适用于单进程.
type MemoryKV struct {
	data sync.Map // string -> *memEntry
	now  func() time.Time
}

type memEntry struct {
	value    []byte
	expireAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// NewMemoryKV 创建内存 KV 实例.
func NewMemoryKV(_ context.Context, _ *configs.KVConfig) (KVStore, error) {
	return &MemoryKV{now: time.Now}, nil
}

func (m *MemoryKV) newEntry(value []byte, ttl time.Duration) *memEntry {
	e := &memEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expireAt = m.now().Add(ttl)
	}

	return e
}

// load 读取未过期的条目，过期条目惰性删除.
func (m *MemoryKV) load(key string) (*memEntry, bool) {
	v, ok := m.data.Load(key)
	if !ok {
		return nil, false
	}

	e, _ := v.(*memEntry)
	if e == nil || e.expired(m.now()) {
		m.data.CompareAndDelete(key, v)

		return nil, false
	}

	return e, true
}

// Get 获取键的值.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.load(key)
	if !ok {
		return nil, ErrNotFound
	}

	return bytes.Clone(e.value), nil
}

// Set 设置键的值.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data.Store(key, m.newEntry(value, ttl))

	return nil
}

// SetNX 仅当键不存在时写入.
func (m *MemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	e := m.newEntry(value, ttl)

	for {
		old, loaded := m.data.LoadOrStore(key, e)
		if !loaded {
			return true, nil
		}

		oe, _ := old.(*memEntry)
		if oe != nil && !oe.expired(m.now()) {
			return false, nil
		}

		// 旧条目已过期，原子替换；失败说明被并发修改，重新判断
		if m.data.CompareAndSwap(key, old, e) {
			return true, nil
		}
	}
}

// CompareAndDelete 仅当值相等时删除.
func (m *MemoryKV) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	v, ok := m.data.Load(key)
	if !ok {
		return false, nil
	}

	e, _ := v.(*memEntry)
	if e == nil || e.expired(m.now()) || !bytes.Equal(e.value, value) {
		return false, nil
	}

	return m.data.CompareAndDelete(key, v), nil
}

// CompareAndExpire 值相等且未过期时替换为新的过期时间.
func (m *MemoryKV) CompareAndExpire(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	v, ok := m.data.Load(key)
	if !ok {
		return false, nil
	}

	e, _ := v.(*memEntry)
	if e == nil || e.expired(m.now()) || !bytes.Equal(e.value, value) {
		return false, nil
	}

	return m.data.CompareAndSwap(key, v, m.newEntry(e.value, ttl)), nil
}

// Delete 删除键.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.data.Delete(key)

	return nil
}

// Exists 检查键是否存在.
func (m *MemoryKV) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.load(key)

	return ok, nil
}

// Keys 获取匹配前缀的键.
func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)

	m.data.Range(func(key, _ any) bool {
		k, ok := key.(string)
		if !ok {
			return true // 继续遍历
		}

		if !strings.HasPrefix(k, prefix) {
			return true
		}

		if _, live := m.load(k); live {
			keys = append(keys, k)
		}

		return true
	})

	return keys, nil
}

// Close 关闭存储（内存实现无需操作）.
func (m *MemoryKV) Close() error {
	return nil
}

func init() {
	RegisterKVFactory(KVTypeMemory, NewMemoryKV)
}
