// Package metrics 提供监控指标功能.
// 支持Prometheus标准，收集应用和系统指标.
//
// Example:
//
//	import "github.com/yeisme/treevault/pkg/metrics"
//
//	err := metrics.InitMetrics(config.Metrics)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// 记录指标
//	metrics.RequestCounter.WithLabelValues("GET", "/api/v1/forks/:id", "200").Inc()
//	metrics.SortRebalance.WithLabelValues("no_gap").Inc()
package metrics

import (
	"net/http"
	"sync"
	_ "net/http/pprof" // 自动注册pprof端点

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeisme/treevault/pkg/configs"
)

// 全局指标变量.
var (
	// RequestCounter HTTP请求计数器.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration HTTP请求持续时间.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// ActiveConnections 活跃连接数.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// SortRebalance 兄弟节点重排次数.
	SortRebalance = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treevault_sort_rebalance_total",
			Help: "Total number of sibling sort rebalances",
		},
		[]string{"reason"},
	)

	// LockBusy 项目锁等待超时次数.
	LockBusy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "treevault_lock_busy_total",
			Help: "Total number of project lock acquisitions that timed out",
		},
	)

	// LockLost 持有期间续期失败的次数.
	LockLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "treevault_lock_lost_total",
			Help: "Total number of project lock renewals that found the lock gone or owned by someone else",
		},
	)

	// ForkFiles fork 任务处理的文件数.
	ForkFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treevault_fork_files_total",
			Help: "Files handled by fork jobs",
		},
		[]string{"result"},
	)

	// DedupRecords 对账任务处理的记录数.
	DedupRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treevault_dedup_records_total",
			Help: "Records touched by the dedup reconciler",
		},
		[]string{"stage", "action"},
	)

	// registry Prometheus注册表.
	registry = prometheus.NewRegistry()

	registerOnce sync.Once
)

// InitMetrics 初始化Metrics.
func InitMetrics(config configs.MetricsConfig) error {
	if !config.Enabled {
		return nil
	}

	registerOnce.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels(config.Labels), registry)

		if config.RuntimeMetrics {
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}

		reg.MustRegister(RequestCounter, RequestDuration, ActiveConnections,
			SortRebalance, LockBusy, LockLost, ForkFiles, DedupRecords)
	})

	return nil
}

// StartMetricsServer 启动Metrics HTTP服务器.
func StartMetricsServer(config configs.MetricsConfig, debugEngine *gin.Engine) error {
	if !config.Enabled {
		return nil
	}

	path := config.Path
	if path == "" {
		path = "/metrics"
	}

	debugEngine.GET(path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// 如果启用pprof，注册pprof端点
	if config.Pprof {
		debugEngine.GET("/debug/pprof/*any", gin.WrapH(http.DefaultServeMux))
	}

	return nil
}

// GetRegistry 获取Prometheus注册表.
func GetRegistry() *prometheus.Registry {
	return registry
}
