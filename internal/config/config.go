// Package config loads runtime configuration from file and environment
// with sane local-development defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the risk engine
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Geo        GeoConfig        `mapstructure:"geo"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Regulation RegulationConfig `mapstructure:"regulation"`
	LogLevel   string           `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
	// SQLitePath is used when DSN is empty, mainly for local runs
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Enabled  bool          `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	AlertsTopic string   `mapstructure:"alerts_topic"`
	GroupID     string   `mapstructure:"group_id"`
	Workers     int      `mapstructure:"workers"`
	Enabled     bool     `mapstructure:"enabled"`
}

type GeoConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	AnomalyArtifactPath string        `mapstructure:"anomaly_artifact_path"`
	RetrainInterval     time.Duration `mapstructure:"retrain_interval"`
	ThresholdInterval   time.Duration `mapstructure:"threshold_interval"`
	RingSweepInterval   time.Duration `mapstructure:"ring_sweep_interval"`
	MinRingSize         int           `mapstructure:"min_ring_size"`
}

type AlertingConfig struct {
	SlackWebhookURL   string `mapstructure:"slack_webhook_url"`
	GenericWebhookURL string `mapstructure:"generic_webhook_url"`
}

type RegulationConfig struct {
	OverridesPath string `mapstructure:"overrides_path"`
}

// Load reads configuration from the optional file path, then the
// environment (OTTCEP_ prefix), falling back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OTTCEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "riskengine.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "compliance-events")
	v.SetDefault("kafka.alerts_topic", "risk-alerts")
	v.SetDefault("kafka.group_id", "risk-engine")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("geo.endpoint", "https://ipapi.co")
	v.SetDefault("geo.timeout", 3*time.Second)

	v.SetDefault("engine.retrain_interval", time.Hour)
	v.SetDefault("engine.threshold_interval", 24*time.Hour)
	v.SetDefault("engine.ring_sweep_interval", 6*time.Hour)
	v.SetDefault("engine.min_ring_size", 5)
}
