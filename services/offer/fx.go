package offer

import (
	"go.uber.org/fx"

	"primetrack/pkg/clock"
	"primetrack/pkg/config"
)

var Module = fx.Module("offer.service",
	fx.Provide(
		NewRepository,
		provideCache,
	),
)

func provideCache(clk clock.Clock, cfg *config.Config) *Cache {
	return NewCache(clk, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL)
}
