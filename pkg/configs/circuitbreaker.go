package configs

import (
	"time"

	"github.com/spf13/viper"
)

// 沙箱网关熔断默认值，默认关闭.
const (
	DefaultCBEnabled           = false
	DefaultCBFailureRate       = 0.5
	DefaultCBMinRequests       = 20
	DefaultCBIntervalSeconds   = 60
	DefaultCBTimeoutSeconds    = 30
	DefaultCBMaxRequestsInHalf = 5
)

// CircuitBreakerConfig 跨组织复制走沙箱网关时的熔断策略.
// 统计窗口内请求数达到 MinRequests 且失败比例不低于 FailureRate 时打开.
type CircuitBreakerConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	FailureRate       float64 `mapstructure:"failure_rate"         rule:"min=0,max=1"`
	MinRequests       uint32  `mapstructure:"min_requests"         rule:"min=1"`
	IntervalSeconds   int     `mapstructure:"interval_seconds"     rule:"min=0"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"      rule:"min=1"`
	MaxRequestsInHalf uint32  `mapstructure:"max_requests_in_half" rule:"min=1"`
}

// GetInterval 计数清零周期，0 表示关闭状态下不清零.
func (c *CircuitBreakerConfig) GetInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// GetOpenTimeout 打开状态持续多久后进入半开.
func (c *CircuitBreakerConfig) GetOpenTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ShouldTrip 按失败比例判断是否打开，未启用时永不打开.
func (c *CircuitBreakerConfig) ShouldTrip(requests, failures uint32) bool {
	if !c.Enabled || requests == 0 || requests < c.MinRequests {
		return false
	}

	return float64(failures)/float64(requests) >= c.FailureRate
}

func (c *CircuitBreakerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("circuit_breaker.enabled", DefaultCBEnabled)
	v.SetDefault("circuit_breaker.failure_rate", DefaultCBFailureRate)
	v.SetDefault("circuit_breaker.min_requests", DefaultCBMinRequests)
	v.SetDefault("circuit_breaker.interval_seconds", DefaultCBIntervalSeconds)
	v.SetDefault("circuit_breaker.timeout_seconds", DefaultCBTimeoutSeconds)
	v.SetDefault("circuit_breaker.max_requests_in_half", DefaultCBMaxRequestsInHalf)
}
