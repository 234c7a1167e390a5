package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config 启动参数，全部可由 SPLASH_* 环境变量覆盖
type Config struct {
	Addr           string        `env:"SPLASH_ADDR" envDefault:":8080" json:"addr"`
	RoomCapacity   int           `env:"SPLASH_ROOM_CAPACITY" envDefault:"6" json:"roomCapacity"`
	AllowedOrigins []string      `env:"SPLASH_ALLOWED_ORIGINS" envDefault:"*" envSeparator:"," json:"allowedOrigins"`
	MaxMessageSize int64         `env:"SPLASH_MAX_MESSAGE_SIZE" envDefault:"4096" json:"maxMessageSize"`
	SendBuffer     int           `env:"SPLASH_SEND_BUFFER" envDefault:"64" json:"sendBuffer"`
	RateBurst      int           `env:"SPLASH_RATE_BURST" envDefault:"40" json:"rateBurst"`
	RatePerSecond  float64       `env:"SPLASH_RATE_PER_SECOND" envDefault:"60" json:"ratePerSecond"`
	RoundDuration  time.Duration `env:"SPLASH_ROUND_DURATION" envDefault:"120s" json:"roundDuration"`
	LogFile        string        `env:"SPLASH_LOG_FILE" envDefault:"app.log" json:"logFile"`
	LogLevel       string        `env:"SPLASH_LOG_LEVEL" envDefault:"debug" json:"logLevel"`
	StaticDir      string        `env:"SPLASH_STATIC_DIR" envDefault:"web" json:"staticDir"`
}

// DefaultConfig 与 envDefault 保持一致
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RoomCapacity:   6,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		SendBuffer:     64,
		RateBurst:      40,
		RatePerSecond:  60,
		RoundDuration:  120 * time.Second,
		LogFile:        "app.log",
		LogLevel:       "debug",
		StaticDir:      "web",
	}
}

// LoadConfig 从环境变量读取配置并校验
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.RoomCapacity < 1 {
		errs = append(errs, fmt.Errorf("room capacity must be positive, got %d", c.RoomCapacity))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer))
	}
	if c.RateBurst < 1 || c.RatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got burst=%d rate=%v", c.RateBurst, c.RatePerSecond))
	}
	if c.RoundDuration < 0 {
		errs = append(errs, fmt.Errorf("round duration must not be negative, got %v", c.RoundDuration))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
