package configs

import "github.com/spf13/viper"

// MetricsConfig Prometheus 指标. 指标挂在管理接口同一个 gin 引擎上.
type MetricsConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	Path           string            `mapstructure:"path"            rule:"startswith=/"`
	RuntimeMetrics bool              `mapstructure:"runtime_metrics"` // go 运行时与进程指标
	Pprof          bool              `mapstructure:"pprof"`           // 暴露 /debug/pprof
	Labels         map[string]string `mapstructure:"labels"`          // 附加到全部指标的常量标签
}

func (c *MetricsConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.runtime_metrics", true)
	v.SetDefault("metrics.pprof", false)
	v.SetDefault("metrics.labels", map[string]string{
		"service": "treevault",
		"version": AppVersion,
	})
}
