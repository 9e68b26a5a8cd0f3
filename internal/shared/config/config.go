package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"gopkg.in/ini.v1"

	"proxyharvest/internal/shared/types"
)

const (
	appName         = "proxyharvest"
	defaultFileName = "proxyharvest.ini"
	defaultDBName   = "proxies.db"
)

var ErrConfigNotFound = errors.New("config file not found")

// DefaultPath 返回 $XDG_CONFIG_HOME/proxyharvest/proxyharvest.ini。
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, defaultFileName)
}

// Load 加载配置。fileName 为空时尝试默认路径，文件不存在则使用默认值；
// 显式指定的文件不存在时返回 ErrConfigNotFound。
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	explicit := fileName != ""
	if !explicit {
		fileName = DefaultPath()
	}

	if _, err := os.Stat(fileName); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if explicit {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, fileName)
		}
	} else if err := LoadIni(cfg, fileName); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	if err := resolveStorePath(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIni 将 ini 文件映射到 cfg，文件中缺失的键保持原值。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map config %s: %w", fileName, err)
	}
	return nil
}

// LoadIniBytes 用于从内存中的 ini 文本加载配置。
func LoadIniBytes(cfg *types.Config, data []byte) error {
	iniFile, err := ini.Load(data)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return iniFile.MapTo(cfg)
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvInt(&cfg.VerifyConf.Concurrency, "PROXYHARVEST_CONCURRENCY")
	overrideFromEnvInt(&cfg.WebConf.Port, "PROXYHARVEST_WEB_PORT")
	overrideFromEnvString(&cfg.StoreConf.Path, "PROXYHARVEST_DB")
}

func resolveStorePath(cfg *types.Config) error {
	if cfg.StoreConf.Path != "" {
		return nil
	}
	p, err := xdg.DataFile(filepath.Join(appName, defaultDBName))
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	cfg.StoreConf.Path = p
	return nil
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
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}
