package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var validate = validator.New()

type Config struct {
	Mode         string        `mapstructure:"mode" validate:"oneof=release debug test"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit" validate:"min=512"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"min=1"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"min=1"`
	RateInterval time.Duration `mapstructure:"rate_interval" validate:"gt=0"`
	Secret       string        `mapstructure:"secret" validate:"required"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	Backpressure string        `mapstructure:"backpressure" validate:"oneof=drop kick"`
	LogLevel     string        `mapstructure:"log_level"`

	Client Client `mapstructure:"client"`
	STT    STT    `mapstructure:"stt"`
}

type Client struct {
	ServerURL         string        `mapstructure:"server_url" validate:"required,url"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout" validate:"gt=0"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" validate:"min=0"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnect_delay_max" validate:"gtefield=ReconnectDelay"`
}

type STT struct {
	Duration      time.Duration `mapstructure:"duration" validate:"gt=0"`
	WatchInterval time.Duration `mapstructure:"watch_interval" validate:"gt=0"`
}

// PongWait is how long a connection may stay silent before it is dropped.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 5200)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("secret", "parley-dev-secret")
	v.SetDefault("token_ttl", "2h")
	v.SetDefault("backpressure", "drop")
	v.SetDefault("log_level", "info")

	v.SetDefault("client.server_url", "ws://localhost:5200/api/ws/signal")
	v.SetDefault("client.join_timeout", "10s")
	v.SetDefault("client.reconnect_attempts", 5)
	v.SetDefault("client.reconnect_delay", "1s")
	v.SetDefault("client.reconnect_delay_max", "5s")

	v.SetDefault("stt.duration", "10m")
	v.SetDefault("stt.watch_interval", "5s")
}
