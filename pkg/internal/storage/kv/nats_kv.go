package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yeisme/treevault/pkg/configs"
)

// NATSKV 基于 NATS JetStream KV 的实现，单键 TTL 通过值包装实现.
type NATSKV struct {
	kv     nats.KeyValue
	bucket string
	conn   *nats.Conn
}

// NewNATSKV 创建 NATS KV 实例.
func NewNATSKV(_ context.Context, cfg *configs.KVConfig) (KVStore, error) {
	natsConfig := cfg.NATS

	// 连接到 NATS
	opts := []nats.Option{nats.Name("treevault-kv")}
	if natsConfig.User != "" {
		opts = append(opts, nats.UserInfo(natsConfig.User, natsConfig.Password))
	}

	nc, err := nats.Connect(natsConfig.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// 创建 JetStream 上下文
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(natsConfig.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: natsConfig.Bucket})
	}

	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create/get KV bucket: %w", err)
	}

	return &NATSKV{
		kv:     kv,
		bucket: natsConfig.Bucket,
		conn:   nc,
	}, nil
}

// entry 读取未过期条目，过期条目按修订号惰性删除.
func (n *NATSKV) entry(key string) (nats.KeyValueEntry, []byte, error) {
	entry, err := n.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil, ErrNotFound
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to get key: %w", err)
	}

	val, expired, err := openTTL(entry.Value(), time.Now())
	if err != nil {
		return nil, nil, err
	}

	if expired {
		_ = n.kv.Delete(key, nats.LastRevision(entry.Revision()))

		return entry, nil, ErrNotFound
	}

	return entry, val, nil
}

// Get 获取键的值.
func (n *NATSKV) Get(_ context.Context, key string) ([]byte, error) {
	_, val, err := n.entry(key)

	return val, err
}

// Set 设置键的值.
func (n *NATSKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	encoded, err := sealTTL(value, ttl, time.Now())
	if err != nil {
		return err
	}

	if _, err := n.kv.Put(key, encoded); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	return nil
}

// SetNX 使用 Create，键已过期时按修订号 Update.
func (n *NATSKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	encoded, err := sealTTL(value, ttl, time.Now())
	if err != nil {
		return false, err
	}

	_, err = n.kv.Create(key, encoded)
	if err == nil {
		return true, nil
	}

	if !errors.Is(err, nats.ErrKeyExists) {
		return false, fmt.Errorf("failed to create key: %w", err)
	}

	entry, err := n.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to get key: %w", err)
	}

	_, expired, err := openTTL(entry.Value(), time.Now())
	if err != nil || !expired {
		return false, err
	}

	if _, err := n.kv.Update(key, encoded, entry.Revision()); err != nil {
		// 被其他持有者抢先更新
		return false, nil
	}

	return true, nil
}

// CompareAndDelete 值相等时按修订号删除.
func (n *NATSKV) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	entry, val, err := n.entry(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !bytes.Equal(val, value) {
		return false, nil
	}

	if err := n.kv.Delete(key, nats.LastRevision(entry.Revision())); err != nil {
		return false, nil
	}

	return true, nil
}

// CompareAndExpire 值相等时按修订号写回新的过期时间.
func (n *NATSKV) CompareAndExpire(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	entry, val, err := n.entry(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !bytes.Equal(val, value) {
		return false, nil
	}

	encoded, err := sealTTL(value, ttl, time.Now())
	if err != nil {
		return false, err
	}

	if _, err := n.kv.Update(key, encoded, entry.Revision()); err != nil {
		return false, nil
	}

	return true, nil
}

// Delete 删除键.
func (n *NATSKV) Delete(_ context.Context, key string) error {
	if err := n.kv.Delete(key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

// Exists 检查键是否存在.
func (n *NATSKV) Exists(_ context.Context, key string) (bool, error) {
	_, _, err := n.entry(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

// Keys 获取匹配前缀的键.
func (n *NATSKV) Keys(_ context.Context, prefix string) ([]string, error) {
	keys, err := n.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get keys: %w", err)
	}

	result := make([]string, 0, len(keys))

	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if _, _, err := n.entry(key); err == nil {
			result = append(result, key)
		}
	}

	return result, nil
}

// Close 关闭 NATS 连接.
func (n *NATSKV) Close() error {
	n.conn.Close()

	return nil
}

func init() {
	RegisterKVFactory(KVTypeNATS, NewNATSKV)
}
