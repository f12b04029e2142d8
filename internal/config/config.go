package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env        string
	DB         DBConfig
	Dispatcher DispatcherConfig
	Bus        BusConfig
}

type DBConfig struct {
	Driver string
	DSN    string
}

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type BusConfig struct {
	Topic        string
	OutputBuffer int
}

// Load reads configuration from the environment (optionally seeded from .env).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("KILLBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "file:killbill.db")
	v.SetDefault("dispatcher.poll_interval", "3s")
	v.SetDefault("dispatcher.batch_size", 100)
	v.SetDefault("bus.topic", "subscription.events")
	v.SetDefault("bus.output_buffer", 256)

	return &Config{
		Env: v.GetString("env"),
		DB: DBConfig{
			Driver: v.GetString("db.driver"),
			DSN:    v.GetString("db.dsn"),
		},
		Dispatcher: DispatcherConfig{
			PollInterval: v.GetDuration("dispatcher.poll_interval"),
			BatchSize:    v.GetInt("dispatcher.batch_size"),
		},
		Bus: BusConfig{
			Topic:        v.GetString("bus.topic"),
			OutputBuffer: v.GetInt("bus.output_buffer"),
		},
	}, nil
}
