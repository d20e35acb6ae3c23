// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Database DatabaseConfig `mapstructure:"database"`
	Content  ContentConfig  `mapstructure:"content"`
	Rewards  RewardsConfig  `mapstructure:"rewards"`
	Crates   CratesConfig   `mapstructure:"crates"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// BotConfig holds Discord bot configuration.
type BotConfig struct {
	Token    string  `mapstructure:"token"`
	Prefix   string  `mapstructure:"prefix"`
	AdminIDs []int64 `mapstructure:"admin_ids"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// ContentConfig holds episode media and generated asset locations.
type ContentConfig struct {
	Directory     string `mapstructure:"directory"`
	Extension     string `mapstructure:"extension"`
	FramesDir     string `mapstructure:"frames_dir"`
	VoicelinesDir string `mapstructure:"voicelines_dir"`
	FFmpegPath    string `mapstructure:"ffmpeg_path"`
	FFprobePath   string `mapstructure:"ffprobe_path"`
	GreetingClip  string `mapstructure:"greeting_clip"`
}

// RewardsConfig holds listening reward accrual configuration.
type RewardsConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Points       int64         `mapstructure:"points"`
	EpisodeBonus int64         `mapstructure:"episode_bonus"`
}

// CratesConfig holds crate purchase and sale configuration.
type CratesConfig struct {
	Price           int64   `mapstructure:"price"`
	SellPrice       int64   `mapstructure:"sell_price"`
	VoicelineChance float64 `mapstructure:"voiceline_chance"`
	QueueSize       int     `mapstructure:"queue_size"`
}

// MetricsConfig holds the Prometheus exposition endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. BOT_TOKEN, DATABASE_HOST, CRATES_PRICE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.prefix", "$")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "episodebot")
	v.SetDefault("database.name", "episodebot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("content.directory", "content")
	v.SetDefault("content.extension", "avi")
	v.SetDefault("content.frames_dir", "frames")
	v.SetDefault("content.voicelines_dir", "voicelines")
	v.SetDefault("content.ffmpeg_path", "ffmpeg")
	v.SetDefault("content.ffprobe_path", "ffprobe")

	v.SetDefault("rewards.interval", "60s")
	v.SetDefault("rewards.points", 1)
	v.SetDefault("rewards.episode_bonus", 0)

	v.SetDefault("crates.price", 30)
	v.SetDefault("crates.sell_price", 15)
	v.SetDefault("crates.voiceline_chance", 0.33)
	v.SetDefault("crates.queue_size", 128)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
}

// IsAdmin checks if a user id is in the configured admin list. Config
// admins get admin access regardless of their stored access level.
func (c *Config) IsAdmin(userID snowflake.ID) bool {
	for _, id := range c.Bot.AdminIDs {
		if snowflake.ID(id) == userID {
			return true
		}
	}
	return false
}
