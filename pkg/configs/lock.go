package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultLockTimeoutSeconds = 10                        // 获取项目锁的最长等待时间（秒）
	DefaultLockSpinIntervalMS = 50                        // 自旋间隔（毫秒）
	DefaultLockTTLSeconds     = 60                        // 锁自动过期时间，防止进程崩溃后锁残留
	DefaultLockKeyPrefix      = "treevault.lock.project." // 锁键前缀，后接 project_id
)

// LockConfig 项目级自旋锁配置.
type LockConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"  rule:"min=1,max=300"`
	SpinIntervalMS int    `mapstructure:"spin_interval_ms" rule:"min=1,max=5000"`
	TTLSeconds     int    `mapstructure:"ttl_seconds"      rule:"min=1"`
	KeyPrefix      string `mapstructure:"key_prefix"       rule:"required"`
}

// GetTimeout 返回锁等待超时.
func (c *LockConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetSpinInterval 返回自旋间隔.
func (c *LockConfig) GetSpinInterval() time.Duration {
	return time.Duration(c.SpinIntervalMS) * time.Millisecond
}

// GetTTL 返回锁过期时间.
func (c *LockConfig) GetTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *LockConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("lock.timeout_seconds", DefaultLockTimeoutSeconds)
	v.SetDefault("lock.spin_interval_ms", DefaultLockSpinIntervalMS)
	v.SetDefault("lock.ttl_seconds", DefaultLockTTLSeconds)
	v.SetDefault("lock.key_prefix", DefaultLockKeyPrefix)
}
