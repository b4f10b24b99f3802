package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSandboxTimeoutSeconds = 30 // 网关单次请求超时（秒）
)

// SandboxConfig 跨组织复制网关配置.
// 当源与目标组织不同且对象存储不允许直接复制时，通过该网关完成复制.
type SandboxConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"        rule:"omitempty,url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" rule:"min=1,max=600"`
}

// GetTimeout 返回请求超时.
func (c *SandboxConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *SandboxConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.endpoint", "")
	v.SetDefault("sandbox.token", "")
	v.SetDefault("sandbox.timeout_seconds", DefaultSandboxTimeoutSeconds)
}
