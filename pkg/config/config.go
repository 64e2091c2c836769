package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Engine Engine `mapstructure:"ENGINE"`
}

// Engine holds the marketplace policy knobs. Everything monetary is an
// integer coin amount; durations are whole seconds.
type Engine struct {
	MinWatchSeconds   int64   `mapstructure:"MIN_WATCH_SECONDS"`
	MaxWatchSeconds   int64   `mapstructure:"MAX_WATCH_SECONDS"`
	BoostUnitCost     int64   `mapstructure:"BOOST_UNIT_COST"`
	ReportThreshold   int     `mapstructure:"REPORT_THRESHOLD"`
	WelcomeGrant      int64   `mapstructure:"WELCOME_GRANT"`
	ReferralBonus     int64   `mapstructure:"REFERRAL_BONUS"`
	MinVisibleRatio   float64 `mapstructure:"MIN_VISIBLE_RATIO"`
	ListDefaultLimit  int     `mapstructure:"LIST_DEFAULT_LIMIT"`
	EventsChannelName string  `mapstructure:"EVENTS_CHANNEL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setEngineDefaults(v *viper.Viper) {
	v.SetDefault("ENGINE.MIN_WATCH_SECONDS", 10)
	v.SetDefault("ENGINE.MAX_WATCH_SECONDS", 600)
	v.SetDefault("ENGINE.BOOST_UNIT_COST", 50)
	v.SetDefault("ENGINE.REPORT_THRESHOLD", 3)
	v.SetDefault("ENGINE.WELCOME_GRANT", 100)
	v.SetDefault("ENGINE.REFERRAL_BONUS", 25)
	v.SetDefault("ENGINE.MIN_VISIBLE_RATIO", 0.5)
	v.SetDefault("ENGINE.LIST_DEFAULT_LIMIT", 25)
	v.SetDefault("ENGINE.EVENTS_CHANNEL", "engine.events")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("DATABASE.TYPE", "postgres")
}
