package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is the full configuration for both device roles.
type Config struct {
	NodeID  string        `mapstructure:"node_id"`
	Logging LoggingConfig `mapstructure:"logging"`
	Phone   PhoneConfig   `mapstructure:"phone"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// PhoneConfig configures the producer side.
type PhoneConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	MarkerDB        string        `mapstructure:"marker_db"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	IconsDir        string        `mapstructure:"icons_dir"`
	Units           string        `mapstructure:"units"`
	InboundRate     float64       `mapstructure:"inbound_rate"`
	InboundBurst    int           `mapstructure:"inbound_burst"`
	Weather         WeatherConfig `mapstructure:"weather"`
}

// WeatherConfig selects and configures the forecast provider.
type WeatherConfig struct {
	Provider      string         `mapstructure:"provider"` // "static" or "owm"
	BaseURL       string         `mapstructure:"base_url"`
	APIKey        string         `mapstructure:"api_key"`
	Location      string         `mapstructure:"location"`
	RatePerSecond int            `mapstructure:"rate_per_second"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	RetryCount    int            `mapstructure:"retry_count"`
	RetryDelay    time.Duration  `mapstructure:"retry_delay"`
	Static        StaticForecast `mapstructure:"static"`
}

// StaticForecast is served by the static provider, in Celsius.
type StaticForecast struct {
	High      float64 `mapstructure:"high"`
	Low       float64 `mapstructure:"low"`
	WeatherID int     `mapstructure:"weather_id"`
}

// WatchConfig configures the consumer side.
type WatchConfig struct {
	ProducerURL    string        `mapstructure:"producer_url"`
	AssetURL       string        `mapstructure:"asset_url"`
	H2C            bool          `mapstructure:"h2c"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	SyncRequestGap time.Duration `mapstructure:"sync_request_gap"`
	IconRequired   bool          `mapstructure:"icon_required"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
}

const (
	ProviderStatic = "static"
	ProviderOWM    = "owm"
)

// Load reads configuration from configPath, or from ./configs/default.yaml
// when empty, applying defaults and SUNSHINE_* environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("phone.listen_addr", ":8765")
	v.SetDefault("phone.marker_db", "data/marker.db")
	v.SetDefault("phone.refresh_interval", 3*time.Hour)
	v.SetDefault("phone.units", "metric")
	v.SetDefault("phone.inbound_rate", 20)
	v.SetDefault("phone.inbound_burst", 40)
	v.SetDefault("phone.weather.provider", ProviderStatic)
	v.SetDefault("phone.weather.base_url", "https://api.openweathermap.org")
	v.SetDefault("phone.weather.location", "94043")
	v.SetDefault("phone.weather.rate_per_second", 1)
	v.SetDefault("phone.weather.timeout", 30*time.Second)
	v.SetDefault("phone.weather.retry_count", 3)
	v.SetDefault("phone.weather.retry_delay", 2*time.Second)
	v.SetDefault("phone.weather.static.high", 21)
	v.SetDefault("phone.weather.static.low", 12)
	v.SetDefault("phone.weather.static.weather_id", 800)
	v.SetDefault("watch.producer_url", "ws://localhost:8765/ws")
	v.SetDefault("watch.h2c", true)
	v.SetDefault("watch.tick_interval", time.Second)
	v.SetDefault("watch.sync_request_gap", 60*time.Second)
	v.SetDefault("watch.icon_required", true)
	v.SetDefault("watch.reconnect_delay", 5*time.Second)
	v.SetDefault("watch.workers", 4)
	v.SetDefault("watch.queue_size", 32)

	// Environment variable support
	v.SetEnvPrefix("SUNSHINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("node_id", "SUNSHINE_NODE_ID")
	_ = v.BindEnv("phone.weather.api_key", "SUNSHINE_OWM_API_KEY")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
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

	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// defaultNodeID uses the hostname, falling back to a random id.
func defaultNodeID() string {
	if hostname, _ := os.Hostname(); hostname != "" {
		return hostname
	}
	return "node-" + uuid.NewString()[:8]
}

// ResolvedAssetURL returns AssetURL, or derives it from ProducerURL by
// swapping the ws scheme for http and the /ws path for /assets.
func (w WatchConfig) ResolvedAssetURL() (string, error) {
	if w.AssetURL != "" {
		return strings.TrimSuffix(w.AssetURL, "/"), nil
	}

	u, err := url.Parse(w.ProducerURL)
	if err != nil {
		return "", fmt.Errorf("parsing producer_url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("producer_url scheme %q: must be ws or wss", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws") + "/assets"
	u.RawQuery = ""
	return u.String(), nil
}
