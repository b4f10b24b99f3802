package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/yeisme/treevault/pkg/configs"
	nlog "github.com/yeisme/treevault/pkg/log"
)

// AuditEntry 对账审计记录，一行一条 JSON.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	RunID     string    `json:"run_id"`
	ProjectID string    `json:"project_id"`
	Stage     string    `json:"stage"`
	Action    string    `json:"action"`
	FileKey   string    `json:"file_key,omitempty"`
	Before    []string  `json:"before,omitempty"`
	After     []string  `json:"after,omitempty"`
	DryRun    bool      `json:"dry_run"`
}

// AuditSink 追加写审计记录.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

// FileAuditSink 写入按大小轮转的 JSON lines 文件.
type FileAuditSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileAuditSink 创建文件审计输出，轮转策略沿用日志配置.
func NewFileAuditSink(path string, cfg configs.LogConfig) *FileAuditSink {
	if path == "" {
		path = configs.DefaultDedupAuditFile
	}

	return &FileAuditSink{w: nlog.NewRotatingWriter(path, cfg)}
}

// Record 写入一条记录.
func (s *FileAuditSink) Record(_ context.Context, e AuditEntry) error {
	line, err := sonic.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.w.Write(append(line, '\n'))

	return err
}

// Close 关闭文件.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.w.Close()
}

// NopAuditSink 丢弃全部记录.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEntry) error { return nil }
