package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerEndpoint `mapstructure:"server"`
	Space   SpaceConfig    `mapstructure:"space"`
	Capture CaptureConfig  `mapstructure:"capture"`
	Viewer  ViewerConfig   `mapstructure:"viewer"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Notify  NotifyConfig   `mapstructure:"notify"`
}

// ServerEndpoint is how the agent reaches the relay.
type ServerEndpoint struct {
	BaseURL       string `mapstructure:"base_url"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelay    int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type SpaceConfig struct {
	SpaceID       string `mapstructure:"space_id"`
	ParticipantID string `mapstructure:"participant_id"`
	Name          string `mapstructure:"name"`
	StateFile     string `mapstructure:"state_file"`
}

type CaptureConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	MaxWidth     int           `mapstructure:"max_width"`
	MaxHeight    int           `mapstructure:"max_height"`
	MaxFrameRate float64       `mapstructure:"max_frame_rate"`
	Source       Source        `mapstructure:"source"`
	Dir          string        `mapstructure:"dir"`
	Loop         bool          `mapstructure:"loop"`
	Confirm      bool          `mapstructure:"confirm"`
}

type ViewerConfig struct {
	OutputDir    string        `mapstructure:"output_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Protocol     string        `mapstructure:"protocol"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Priority string `mapstructure:"priority"`
	Tags     string `mapstructure:"tags"`
	Token    string `mapstructure:"token"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.timeout_sec", 30)
	v.SetDefault("server.retry_count", 3)
	v.SetDefault("server.retry_delay_sec", 1)
	v.SetDefault("server.rate_per_second", 5)
	v.SetDefault("space.state_file", ".telepresence/state.json")
	v.SetDefault("capture.interval", "5s")
	v.SetDefault("capture.max_width", 320)
	v.SetDefault("capture.max_height", 240)
	v.SetDefault("capture.max_frame_rate", 2.0)
	v.SetDefault("capture.source", string(SourcePattern))
	v.SetDefault("capture.loop", true)
	v.SetDefault("capture.confirm", false)
	v.SetDefault("viewer.output_dir", "screens")
	v.SetDefault("viewer.poll_interval", "10s")
	v.SetDefault("viewer.protocol", "binary")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "desktop_computer")

	// Environment variable support
	v.SetEnvPrefix("TELEPRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("space.space_id", "TELEPRESENCE_SPACE_ID")
	_ = v.BindEnv("space.participant_id", "TELEPRESENCE_PARTICIPANT_ID")
	_ = v.BindEnv("notify.token", "TELEPRESENCE_NTFY_TOKEN", "NTFY_TOKEN")
	_ = v.BindEnv("notify.topic", "TELEPRESENCE_NTFY_TOPIC", "NTFY_TOPIC")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Timeout returns the HTTP timeout for relay requests.
func (s ServerEndpoint) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// RetryDelayDuration returns the base delay between retries.
func (s ServerEndpoint) RetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelay) * time.Second
}
