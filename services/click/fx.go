package click

import (
	"go.uber.org/fx"
)

var Module = fx.Module("click.service",
	fx.Provide(
		NewRepository,
		NewEffects,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// WorkerModule wires the background task handlers without the HTTP surface.
var WorkerModule = fx.Module("click.worker",
	fx.Provide(
		NewRepository,
		NewTaskHandler,
	),
)
