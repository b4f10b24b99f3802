package configs

import "github.com/spf13/viper"

// EventsConfig 控制文件树事件发布的开关（全局与分主题）。
type EventsConfig struct {
	Enabled  bool             `mapstructure:"enabled"`  // 总开关
	Producer string           `mapstructure:"producer"` // 写入事件头的生产者标识
	Node     NodeEventsConfig `mapstructure:"node"`
	Job      JobEventsConfig  `mapstructure:"job"`
}

// NodeEventsConfig 针对单节点变更的事件开关。
type NodeEventsConfig struct {
	Created bool `mapstructure:"created"`
	Moved   bool `mapstructure:"moved"`
	Copied  bool `mapstructure:"copied"`
	Renamed bool `mapstructure:"renamed"`
	Deleted bool `mapstructure:"deleted"`
}

// JobEventsConfig 针对批量任务（fork、对账）的事件开关。
type JobEventsConfig struct {
	ForkFinished bool `mapstructure:"fork_finished"`
	Reconciled   bool `mapstructure:"reconciled"`
}

func (c *EventsConfig) setDefaults(v *viper.Viper) {
	// 总开关：默认关闭，接入 MQ 后按需开启
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.producer", "treevault")

	v.SetDefault("events.node.created", true)
	v.SetDefault("events.node.moved", true)
	v.SetDefault("events.node.copied", true)
	v.SetDefault("events.node.renamed", true)
	v.SetDefault("events.node.deleted", true)

	v.SetDefault("events.job.fork_finished", true)
	v.SetDefault("events.job.reconciled", false)
}
