package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSortStep          = 1024 // 相邻兄弟节点的默认排序间隔
	DefaultSortMinGap        = 10   // 插入所需的最小间隔，不足时触发重排
	DefaultRenamePageSize    = 500  // 目录重命名时每页扫描的后代数量
	DefaultMirrorConcurrency = 8    // 对象存储镜像操作的并发数
	DefaultForkPageSize      = 200  // fork 迁移每页文件数
	DefaultForkCopyRPS       = 0    // fork 对象复制限速，0 表示不限速
	DefaultDedupBatchSize    = 100  // 对账每批处理的 key 数
	DefaultDedupMaxIter      = 1000 // 每个项目每类最多批次数
	DefaultDedupCron         = "30 3 * * *"
	DefaultTrashRetention    = 30 // 回收站保留天数
	DefaultTrashCron         = "0 4 * * *"
	DefaultDedupAuditFile    = "logs/dedup-audit.jsonl"
)

// TreeConfig 文件树引擎配置.
type TreeConfig struct {
	Sort       SortConfig   `mapstructure:"sort"`
	Rename     RenameConfig `mapstructure:"rename"`
	Fork       ForkConfig   `mapstructure:"fork"`
	Dedup      DedupConfig  `mapstructure:"dedup"`
	Trash      TrashConfig  `mapstructure:"trash"`
	IndexFiles []string     `mapstructure:"index_files"` // 元数据来源的索引文件名，如 project.js
}

// SortConfig 兄弟节点排序.
type SortConfig struct {
	Step   int64 `mapstructure:"step"    rule:"min=16"`
	MinGap int64 `mapstructure:"min_gap" rule:"min=1"`
}

// RenameConfig 目录重命名.
type RenameConfig struct {
	PageSize          int `mapstructure:"page_size"          rule:"min=1,max=10000"`
	MirrorConcurrency int `mapstructure:"mirror_concurrency" rule:"min=1,max=128"`
}

// ForkConfig 项目 fork 迁移.
type ForkConfig struct {
	PageSize int     `mapstructure:"page_size" rule:"min=1,max=10000"`
	CopyRPS  float64 `mapstructure:"copy_rps"  rule:"min=0"`
}

// DedupConfig 重复记录对账.
type DedupConfig struct {
	BatchSize     int    `mapstructure:"batch_size"     rule:"min=1,max=10000"`
	MaxIterations int    `mapstructure:"max_iterations" rule:"min=1"`
	Cron          string `mapstructure:"cron"` // 为空时不注册定时任务
	AuditFile     string `mapstructure:"audit_file"`
}

// TrashConfig 回收站清理.
type TrashConfig struct {
	RetentionDays int    `mapstructure:"retention_days" rule:"min=1"`
	Cron          string `mapstructure:"cron"`
}

// GetRetention 返回回收站保留时长.
func (c *TrashConfig) GetRetention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *TreeConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("tree.sort.step", DefaultSortStep)
	v.SetDefault("tree.sort.min_gap", DefaultSortMinGap)
	v.SetDefault("tree.rename.page_size", DefaultRenamePageSize)
	v.SetDefault("tree.rename.mirror_concurrency", DefaultMirrorConcurrency)
	v.SetDefault("tree.fork.page_size", DefaultForkPageSize)
	v.SetDefault("tree.fork.copy_rps", DefaultForkCopyRPS)
	v.SetDefault("tree.dedup.batch_size", DefaultDedupBatchSize)
	v.SetDefault("tree.dedup.max_iterations", DefaultDedupMaxIter)
	v.SetDefault("tree.dedup.cron", DefaultDedupCron)
	v.SetDefault("tree.dedup.audit_file", DefaultDedupAuditFile)
	v.SetDefault("tree.trash.retention_days", DefaultTrashRetention)
	v.SetDefault("tree.trash.cron", DefaultTrashCron)
	v.SetDefault("tree.index_files", []string{"project.js", "index.html"})
}
