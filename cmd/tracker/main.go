package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"primetrack/internal/logger"
	"primetrack/internal/server"
	"primetrack/pkg/clock"
	"primetrack/pkg/config"
	"primetrack/pkg/db"
	"primetrack/pkg/health"
	"primetrack/pkg/redis"
	"primetrack/pkg/task"
	"primetrack/services/antifraud"
	"primetrack/services/click"
	"primetrack/services/ipintel"
	"primetrack/services/offer"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		health.Module,

		fx.Provide(
			provideClock,
			provideNode,
			server.ProvideRouter,
			server.AsHandler,
			server.ProvideHTTPServer,
		),

		offer.Module,
		antifraud.Module,
		ipintel.Module,
		click.Module,

		fx.Invoke(migrate),
		fx.Invoke(server.Run),
	)

	app.Run()
}

func provideClock() clock.Clock {
	return clock.System()
}

func provideNode(log *zap.Logger) *snowflake.Node {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = v
		}
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		log.Fatal("failed to create snowflake node", zap.Int64("node_id", nodeID), zap.Error(err))
	}
	return node
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&offer.Offer{},
		&offer.Landing{},
		&offer.PublisherOffer{},
		&click.Click{},
		&antifraud.Rule{},
		&antifraud.VelocityCounter{},
		&antifraud.ConversionFingerprint{},
		&antifraud.PublisherStats{},
		&antifraud.AntifraudLog{},
		&antifraud.Notification{},
		&antifraud.Metric{},
	)
}
