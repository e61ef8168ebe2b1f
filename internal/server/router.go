package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"primetrack/pkg/config"
	"primetrack/pkg/health"
	"primetrack/pkg/middleware"
)

type RouterParams struct {
	fx.In

	Config *config.Config
	Health health.HealthService
}

// ProvideRouter assembles the gin engine shared by all HTTP handlers. Domain
// routes are registered by the owning service module via fx.Invoke.
func ProvideRouter(p RouterParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Error())

	engine.GET("/healthz", p.Health.Liveness)
	engine.GET("/readyz", p.Health.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

// AsHandler exposes the gin engine as the http.Handler the server expects.
func AsHandler(engine *gin.Engine) http.Handler {
	return engine
}
