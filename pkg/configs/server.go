package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort            = 8080
	DefaultHost            = "0.0.0.0"
	DefaultReloadConfig    = true
	DefaultTimeout         = 30 // 读请求头超时，秒
	DefaultShutdownTimeout = 15 // 退出时等待 HTTP 连接与在途 fork 任务，秒
	DefaultBasePath        = "/api/v1"
)

// ServerConfig 管理接口 HTTP 服务.
type ServerConfig struct {
	Port            int    `mapstructure:"port"             rule:"min=1,max=65535"`
	Host            string `mapstructure:"host"             rule:"ip"`
	BasePath        string `mapstructure:"base_path"        rule:"startswith=/"`
	ReloadConfig    bool   `mapstructure:"reload_config"`
	Debug           bool   `mapstructure:"debug"`
	Timeout         int    `mapstructure:"timeout"          rule:"min=1,max=300"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" rule:"min=1,max=600"`
}

// GetTimeoutDuration 读请求头超时.
func (s *ServerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetShutdownTimeout 优雅退出上限，未配置时取默认值.
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout * time.Second
	}

	return time.Duration(s.ShutdownTimeout) * time.Second
}

func (s *ServerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.reload_config", DefaultReloadConfig)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.timeout", DefaultTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
}
