package ipintel

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"primetrack/pkg/config"
)

var Module = fx.Module("ipintel.service",
	fx.Provide(provideClient),
)

func provideClient(cfg *config.Config, logger *zap.Logger) Client {
	return NewClient(cfg.IPIntel.Addr, cfg.IPIntel.APIKey, cfg.IPIntel.Timeout, logger)
}
