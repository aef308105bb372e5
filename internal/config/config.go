package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	Secret      string        `mapstructure:"secret"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SignalRate  float64       `mapstructure:"signal_rate"`
	SignalBurst int           `mapstructure:"signal_burst"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig tunes the coordinator side (CLI and SDK consumers).
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout"`
	LeaveTimeout      time.Duration `mapstructure:"leave_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
}

func Load() (*Config, error) {
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "dev-secret-change-me")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("signal_rate", 30.0)
	v.SetDefault("signal_burst", 60)

	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/voice")
	v.SetDefault("client.join_timeout", "10s")
	v.SetDefault("client.leave_timeout", "10s")
	v.SetDefault("client.reconnect_attempts", 1)
	v.SetDefault("client.reconnect_delay", "500ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
