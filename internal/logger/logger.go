package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"primetrack/pkg/config"
)

var Module = fx.Module("logger", fx.Provide(Provide))

// Provide returns the application zap logger and installs it as the global so
// packages logging through zap.L() share the same core.
func Provide(cfg *config.Config) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if cfg.AppEnv == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)
	return log, nil
}
