package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"proxyharvest/internal/app"
	"proxyharvest/internal/shared/config"
	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
)

// NewRootCmd creates the root command for proxyharvest.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxyharvest",
		Short: "Harvest, verify and store public proxies",
		Long: `proxyharvest scrapes public HTTP and SOCKS5 proxy lists, checks every
candidate through a battery of target sites and keeps the functional ones
in a local SQLite store.

Configuration is read from an ini file (default:
$XDG_CONFIG_HOME/proxyharvest/proxyharvest.ini). A missing default file
means built-in defaults.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().String("config", "", "Config file path (default: "+config.DefaultPath()+")")
	cmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(NewHarvestCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewRevalidateCmd())
	cmd.AddCommand(NewStoreCmd())
	cmd.AddCommand(NewSourcesCmd())
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewLocateCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 加载配置文件并初始化日志系统。
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogConf.Level = level
	}
	if err := logger.InitWithWriter(cfg.LogConf, cmd.ErrOrStderr()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// newApp 加载配置并组装流水线。调用方负责 Close。
func newApp(cmd *cobra.Command) (*app.AppServer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

// signalContext 在收到 Ctrl-C 或 SIGTERM 时取消。
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
