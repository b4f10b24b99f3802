// Package idgen 生成全局唯一、按时间有序的节点 ID（ULID）.
// 同一毫秒内使用单调熵源，保证同一进程内生成的 ID 严格递增，
// 因此 file_id 的字典序可以直接作为 fork 迁移的游标.
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Generator 生成节点 ID.
type Generator interface {
	NewID() string
}

// ULIDGenerator 基于 oklog/ulid 的实现，可并发使用.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New 创建 ULID 生成器.
func New() *ULIDGenerator {
	return NewWithClock(time.Now)
}

// NewWithClock 使用指定时钟，测试中固定时间戳.
func NewWithClock(now func() time.Time) *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     now,
	}
}

// NewID 返回 26 字符的 ULID 字符串.
func (g *ULIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var defaultGenerator = New()

// NewID 使用默认生成器生成 ID.
func NewID() string {
	return defaultGenerator.NewID()
}

// Time 解析 ULID 中的时间戳，非法 ID 返回零值.
func Time(id string) time.Time {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}
	}

	return ulid.Time(u.Time())
}
