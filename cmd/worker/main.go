package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"primetrack/internal/logger"
	"primetrack/pkg/clock"
	"primetrack/pkg/config"
	"primetrack/pkg/db"
	"primetrack/pkg/redis"
	"primetrack/pkg/task"
	"primetrack/services/antifraud"
	"primetrack/services/click"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Server,

		fx.Provide(
			provideClock,
			provideNode,
		),

		antifraud.Module,
		click.WorkerModule,

		fx.Invoke(registerHandlers),
	)

	app.Run()
}

func provideClock() clock.Clock {
	return clock.System()
}

func provideNode(log *zap.Logger) *snowflake.Node {
	// Worker ids live in a different snowflake space than the tracker's.
	node, err := snowflake.NewNode(2)
	if err != nil {
		log.Fatal("failed to create snowflake node", zap.Error(err))
	}
	return node
}

func registerHandlers(mux *asynq.ServeMux, h *click.TaskHandler) {
	h.Register(mux)
}
