package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"proxyrotor/internal/shared/types"
)

// LoadIni 加载 rotord.ini 行为配置文件。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvInt(&cfg.MonitorConf.WebPort, "ROTOR_WEB_PORT")
	overrideFromEnvString(&cfg.StorageConf.SnapshotPath, "ROTOR_SNAPSHOT_PATH")
	applyDefaults(cfg)
	return nil
}

func applyDefaults(cfg *types.Config) {
	if cfg.LogConf.Level == "" {
		cfg.LogConf.Level = "info"
	}
	if cfg.MonitorConf.ListenIP == "" {
		cfg.MonitorConf.ListenIP = "127.0.0.1"
	}
	if cfg.StorageConf.SnapshotFlushSeconds <= 0 {
		cfg.StorageConf.SnapshotFlushSeconds = 60
	}
}

// LoadRotationConfig 加载 rotation.json 数据文件。
func LoadRotationConfig(fileName string) (*types.RotationConfig, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		// 如果文件不存在，返回默认配置而不是错误
		if os.IsNotExist(err) {
			return types.DefaultRotationConfig(), nil
		}
		return nil, fmt.Errorf("failed to read rotation config file: %w", err)
	}

	cfg := &types.RotationConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rotation config: %w", err)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = types.StrategyRoundRobin
	}
	return cfg, nil
}

// SaveRotationConfig 将当前轮换配置保存到 rotation.json。
func SaveRotationConfig(fileName string, cfg *types.RotationConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rotation config: %w", err)
	}
	return os.WriteFile(fileName, data, 0644)
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
