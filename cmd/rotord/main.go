package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proxyrotor/internal/breaker"
	"proxyrotor/internal/rotation"
	"proxyrotor/internal/service/monitor"
	"proxyrotor/internal/shared/config"
	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/settings"
	"proxyrotor/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "rotord.ini")
	settingsPath := filepath.Join(*configDir, "settings.json")

	// 1. 加载 .ini 行为配置
	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 运行时配置 (settings.json, 可热重载)
	settingsManager, err := settings.NewSettingsManager(settingsPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to load settings file '%s'", settingsPath)
	}

	// 3. 核心: 熔断器注册表 + 轮换调度器
	registry := breaker.NewRegistry()
	dispatcher := rotation.NewDispatcher(settingsManager.Get().Rotation)
	settingsManager.Register("rotation", dispatcher)
	settingsManager.Register("breaker", registry)
	if err := registry.OnSettingsUpdate("breaker", settingsManager.Get().Breaker); err != nil {
		logger.Warn().Err(err).Msg("Failed to apply initial breaker settings.")
	}

	// 4. 熔断器快照: 温启动 + 周期落盘
	var store *breaker.SnapshotStore
	if cfg.StorageConf.SnapshotPath != "" {
		store, err = breaker.OpenSnapshotStore(cfg.StorageConf.SnapshotPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open breaker snapshot store.")
		}
		if err := store.LoadInto(registry); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore breaker snapshots. Starting cold.")
		}
	}

	// 5. 监控服务
	monitorServer := monitor.NewServer(cfg.MonitorConf, registry, dispatcher)
	monitorServer.Start()

	// 6. 调度循环: 周期快照落盘 + 停止信号
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	flushInterval := time.Duration(cfg.StorageConf.SnapshotFlushSeconds) * time.Second
	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()

	logger.Info().Dur("flush_interval", flushInterval).Msg("rotord started.")

	for {
		select {
		case <-flushTicker.C:
			if store != nil {
				if err := store.SaveAll(registry); err != nil {
					logger.Error().Err(err).Msg("Failed to save breaker snapshots.")
				}
			}
		case sig := <-stopChan:
			logger.Info().Str("signal", sig.String()).Msg("Stop signal received. Shutting down.")
			monitorServer.Stop()
			if store != nil {
				if err := store.SaveAll(registry); err != nil {
					logger.Error().Err(err).Msg("Failed to save breaker snapshots on shutdown.")
				}
				_ = store.Close()
			}
			registry.Destroy()
			logger.Info().Msg("rotord gracefully stopped.")
			return
		}
	}
}
