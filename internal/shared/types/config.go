package types

// CommonConf 包含进程级的通用配置。
type CommonConf struct {
	Mode string `ini:"mode"` // "daemon" 或 "oneshot"
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// MonitorConf 包含监控服务 (websocket/JSON) 的配置。
type MonitorConf struct {
	Enabled  bool   `ini:"enabled"`
	ListenIP string `ini:"listen_ip"`
	WebPort  int    `ini:"web_port"`
}

// StorageConf 包含持久化相关路径。
type StorageConf struct {
	SnapshotPath         string `ini:"snapshot_path"`          // bbolt 熔断器快照文件
	SnapshotFlushSeconds int    `ini:"snapshot_flush_seconds"` // 周期落盘间隔
}

// Config 是 rotord 的统一启动配置结构体 (行为配置, 来自 .ini)。
// 运行时可变的轮换/熔断配置在 settings 包中单独管理。
type Config struct {
	CommonConf  `ini:"common"`
	LogConf     `ini:"log"`
	MonitorConf `ini:"monitor"`
	StorageConf `ini:"storage"`
}
