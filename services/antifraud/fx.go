package antifraud

import (
	"go.uber.org/fx"

	"primetrack/pkg/clock"
	"primetrack/pkg/config"
)

var Module = fx.Module("antifraud.service",
	fx.Provide(
		NewRepository,
		provideRuleCache,
		NewService,
	),
)

func provideRuleCache(clk clock.Clock, cfg *config.Config) *RuleCache {
	return NewRuleCache(clk, cfg.Antifraud.RuleCacheTTL)
}
