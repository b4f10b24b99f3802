package kv

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// NATS KV 只有桶级 TTL，单键过期时间写在值里.
// 带过期时间的值以 ttlPrefix 开头，不带的原样存储.
var ttlPrefix = []byte("TVTTL2:")

type envelope struct {
	Value    []byte `json:"v"`
	ExpireMS int64  `json:"x"` // unix 毫秒
}

// sealTTL ttl<=0 时原样返回.
func sealTTL(value []byte, ttl time.Duration, now time.Time) ([]byte, error) {
	if ttl <= 0 {
		return value, nil
	}

	b, err := sonic.Marshal(envelope{Value: value, ExpireMS: now.Add(ttl).UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("seal ttl value: %w", err)
	}

	return append(bytes.Clone(ttlPrefix), b...), nil
}

// openTTL 解出原始值；已过期时 expired 为 true 且 value 为 nil.
func openTTL(b []byte, now time.Time) (value []byte, expired bool, err error) {
	payload, ok := bytes.CutPrefix(b, ttlPrefix)
	if !ok {
		return b, false, nil
	}

	var env envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return nil, false, fmt.Errorf("open ttl value: %w", err)
	}

	if env.ExpireMS > 0 && now.UnixMilli() >= env.ExpireMS {
		return nil, true, nil
	}

	return env.Value, false, nil
}
