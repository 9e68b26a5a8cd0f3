package app

import (
	"fmt"
	"time"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
	"proxyharvest/proxypool/harvester"
	"proxyharvest/proxypool/scraper"
	"proxyharvest/proxypool/validator"
)

// validatorConfig 将 [verify] 配置转换为验证器配置。
func validatorConfig(cfg *types.Config) validator.Config {
	return validator.Config{
		Targets:          cfg.VerifyConf.Targets,
		ProbeTimeout:     time.Duration(cfg.VerifyConf.ProbeTimeoutSeconds) * time.Second,
		SuccessThreshold: cfg.VerifyConf.SuccessThreshold,
		IPEchoURL:        cfg.VerifyConf.IPEchoURL,
		GeoAPIURL:        cfg.VerifyConf.GeoAPIURL,
	}
}

func harvesterOptions(cfg *types.Config) harvester.Options {
	return harvester.Options{
		Parallel:    cfg.HarvestConf.Parallel,
		MaxParallel: cfg.HarvestConf.MaxParallel,
	}
}

// buildRegistry 登记内置代理源，以及 sources_file 中的用户自定义源。
func buildRegistry(cfg *types.Config) (*scraper.Registry, error) {
	client := scraper.NewDirectClient(scraper.ClientOptions{
		Timeout:        time.Duration(cfg.HarvestConf.RequestTimeoutSeconds) * time.Second,
		TLSFingerprint: cfg.HarvestConf.TLSFingerprint,
	})
	reg := scraper.NewDefaultRegistry(client)

	if cfg.HarvestConf.SourcesFile == "" {
		return reg, nil
	}
	custom, err := scraper.LoadCustomSources(cfg.HarvestConf.SourcesFile)
	if err != nil {
		return nil, err
	}
	if err := scraper.RegisterCustom(reg, custom, client); err != nil {
		return nil, fmt.Errorf("failed to register custom sources: %w", err)
	}
	l := logger.WithComponent("App")
	l.Info().
		Int("count", len(custom)).
		Str("path", cfg.HarvestConf.SourcesFile).
		Msg("Registered custom proxy sources.")
	return reg, nil
}
