package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv  string `mapstructure:"APP_ENV"`
	AppName string `mapstructure:"APP_NAME"`
	Server  struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBNAME   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Timezone string `mapstructure:"TIMEZONE"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	IPIntel struct {
		Addr    string        `mapstructure:"ADDR"`
		APIKey  string        `mapstructure:"API_KEY"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"IPINTEL"`
	Antifraud struct {
		RuleCacheTTL time.Duration `mapstructure:"RULE_CACHE_TTL"`
		BlockScore   int           `mapstructure:"BLOCK_SCORE"`
	} `mapstructure:"ANTIFRAUD"`
	Cache struct {
		PositiveTTL time.Duration `mapstructure:"POSITIVE_TTL"`
		NegativeTTL time.Duration `mapstructure:"NEGATIVE_TTL"`
	} `mapstructure:"CACHE"`
	Pages struct {
		UnavailableURL string `mapstructure:"UNAVAILABLE_URL"`
	} `mapstructure:"PAGES"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

// LoadConfig reads config.yaml from the working directory when present and
// overlays environment variables. A missing file is not an error, env-only
// deployments are supported.
func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "primetrack")
	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("IPINTEL.TIMEOUT", 200*time.Millisecond)
	v.SetDefault("ANTIFRAUD.RULE_CACHE_TTL", 60*time.Second)
	v.SetDefault("ANTIFRAUD.BLOCK_SCORE", 80)
	v.SetDefault("CACHE.POSITIVE_TTL", 60*time.Second)
	v.SetDefault("CACHE.NEGATIVE_TTL", 10*time.Second)
	v.SetDefault("PAGES.UNAVAILABLE_URL", "https://primetrack.io/unavailable")
}
