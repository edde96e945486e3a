package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quakenotify/pkg/failure"
)

const (
	envConfigPath             = "QUAKENOTIFY_CONFIG"
	envLineNotifyToken        = "LINE_NOTIFY_TOKEN"
	envLineAPIPrimaryToken    = "LINE_API_PRIMARY_TOKEN"
	envLineAPISecondaryToken  = "LINE_API_SECONDARY_TOKEN"
	envPushoverToken          = "PUSHOVER_TOKEN"
	envPushoverUser           = "PUSHOVER_USER"
	envTelegramBotToken       = "TELEGRAM_BOT_TOKEN"
	envSourceKafkaBrokers     = "QUAKENOTIFY_KAFKA_BROKERS"
	defaultSourceAddress      = "127.0.0.1:8888"
	defaultGatewayHost        = "127.0.0.1"
	defaultGatewayPort        = 18890
	defaultQueueBuffer        = 100
	defaultMaxAttempts        = 2
	defaultBackoffSeconds     = 5
	defaultRequestTimeoutSecs = 10
)

// Source types.
const (
	SourceUDP   = "udp"
	SourceKafka = "kafka"
)

// Config is the root runtime configuration loaded from config.json or config.yaml.
type Config struct {
	Station  StationConfig  `json:"station" yaml:"station"`
	Observer ObserverConfig `json:"observer" yaml:"observer"`
	Severity SeverityConfig `json:"severity" yaml:"severity"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Source   SourceConfig   `json:"source" yaml:"source"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format, verbosity and the
// optional rotating log file.
type LoggingConfig struct {
	Format     string `json:"format,omitempty" yaml:"format,omitempty"`
	Level      string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource  bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// StationConfig identifies the seismograph that raises alarms.
type StationConfig struct {
	Network string `json:"network" yaml:"network"`
	Code    string `json:"code" yaml:"code"`
	Region  string `json:"region" yaml:"region"`
}

// ObserverConfig is the fixed site intensity is estimated for.
type ObserverConfig struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// SeverityConfig configures the early-warning feed lookup.
type SeverityConfig struct {
	Endpoint               string `json:"endpoint" yaml:"endpoint"`
	LookbackOffsetsSeconds []int  `json:"lookback_offsets_seconds" yaml:"lookback_offsets_seconds"`
	RequestTimeoutSeconds  int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// DispatchConfig configures the per-channel workers.
type DispatchConfig struct {
	MaxAttempts    int     `json:"max_attempts" yaml:"max_attempts"`
	BackoffSeconds float64 `json:"backoff_seconds" yaml:"backoff_seconds"`
	QueueBuffer    int     `json:"queue_buffer" yaml:"queue_buffer"`
}

// SourceConfig selects where envelopes come from.
type SourceConfig struct {
	Type    string            `json:"type" yaml:"type"`
	Address string            `json:"address" yaml:"address"`
	Kafka   KafkaSourceConfig `json:"kafka" yaml:"kafka"`
}

// KafkaSourceConfig configures the Kafka envelope reader.
type KafkaSourceConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// ChannelsConfig stores delivery channel settings.
type ChannelsConfig struct {
	LineNotify LineNotifyConfig `json:"line_notify" yaml:"line_notify"`
	LineAPI    LineAPIConfig    `json:"line_api" yaml:"line_api"`
	Pushover   PushoverConfig   `json:"pushover" yaml:"pushover"`
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram"`
}

// DeliveryConfig holds the settings every channel shares.
type DeliveryConfig struct {
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	SendImages            bool     `json:"send_images" yaml:"send_images"`
	MinIntensity          *float64 `json:"min_intensity,omitempty" yaml:"min_intensity,omitempty"`
	MinShindo             string   `json:"min_shindo,omitempty" yaml:"min_shindo,omitempty"`
	SeveritySource        string   `json:"severity_source,omitempty" yaml:"severity_source,omitempty"`
	MessageStyle          string   `json:"message_style,omitempty" yaml:"message_style,omitempty"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`
	RatePerSecond         float64  `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
}

// LineNotifyConfig configures the single-token push channel.
type LineNotifyConfig struct {
	DeliveryConfig `yaml:",inline"`
	Token          string `json:"token" yaml:"token"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ImageEndpoint  string `json:"image_endpoint,omitempty" yaml:"image_endpoint,omitempty"`
}

// LineAPIConfig configures the multi-recipient push API channel.
type LineAPIConfig struct {
	DeliveryConfig `yaml:",inline"`
	Endpoint       string              `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ImageDir       string              `json:"image_dir" yaml:"image_dir"`
	ImageURLPrefix string              `json:"image_url_prefix" yaml:"image_url_prefix"`
	Primary        LineRecipientConfig `json:"primary" yaml:"primary"`
	Secondary      LineRecipientConfig `json:"secondary" yaml:"secondary"`
}

// LineRecipientConfig is one (token, recipient) pair with its own gate.
type LineRecipientConfig struct {
	Token        string   `json:"token" yaml:"token"`
	To           string   `json:"to" yaml:"to"`
	MinIntensity *float64 `json:"min_intensity,omitempty" yaml:"min_intensity,omitempty"`
	MinShindo    string   `json:"min_shindo,omitempty" yaml:"min_shindo,omitempty"`
}

// PushoverConfig configures the priority-aware push channel.
type PushoverConfig struct {
	DeliveryConfig     `yaml:",inline"`
	Token              string   `json:"token" yaml:"token"`
	User               string   `json:"user" yaml:"user"`
	Endpoint           string   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Title              string   `json:"title,omitempty" yaml:"title,omitempty"`
	HighIntensity      *float64 `json:"high_intensity,omitempty" yaml:"high_intensity,omitempty"`
	EmergencyIntensity *float64 `json:"emergency_intensity,omitempty" yaml:"emergency_intensity,omitempty"`
	EmergencySound     string   `json:"emergency_sound,omitempty" yaml:"emergency_sound,omitempty"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	DeliveryConfig `yaml:",inline"`
	Token          string `json:"token" yaml:"token"`
	ChatID         int64  `json:"chat_id" yaml:"chat_id"`
	APIServer      string `json:"api_server,omitempty" yaml:"api_server,omitempty"`
}

// GatewayConfig configures HTTP health server bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// LoadConfig resolves the config file, unmarshals it on top of defaults,
// applies environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile loads one config file. A .env next to the file or in the working
// directory is loaded first; variables already set in the environment win.
func LoadFile(configPath string) (*Config, error) {
	if err := loadDotEnv(filepath.Dir(configPath)); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, cfg)
	default:
		err = json.Unmarshal(content, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Severity: SeverityConfig{
			RequestTimeoutSeconds: defaultRequestTimeoutSecs,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:    defaultMaxAttempts,
			BackoffSeconds: defaultBackoffSeconds,
			QueueBuffer:    defaultQueueBuffer,
		},
		Source: SourceConfig{
			Type:    SourceUDP,
			Address: defaultSourceAddress,
		},
		Gateway: GatewayConfig{
			Host: defaultGatewayHost,
			Port: defaultGatewayPort,
		},
	}
}

// Validate checks structural constraints. Every problem is a configuration
// failure.
func (c *Config) Validate() error {
	if c == nil {
		return failure.Configurationf("config is nil")
	}

	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		return failure.Configurationf("observer.latitude %v is out of range [-90, 90]", c.Observer.Latitude)
	}
	if c.Observer.Longitude < -180 || c.Observer.Longitude > 180 {
		return failure.Configurationf("observer.longitude %v is out of range [-180, 180]", c.Observer.Longitude)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return failure.Configurationf("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.BackoffSeconds < 0 {
		return failure.Configurationf("dispatch.backoff_seconds must not be negative")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return failure.Configurationf("gateway.port %d is out of range [0, 65535]", c.Gateway.Port)
	}

	switch c.Source.Type {
	case SourceUDP:
		if strings.TrimSpace(c.Source.Address) == "" {
			return failure.Configurationf("source.address is required for udp sources")
		}
	case SourceKafka:
		if len(c.Source.Kafka.Brokers) == 0 || strings.TrimSpace(c.Source.Kafka.Topic) == "" {
			return failure.Configurationf("source.kafka.brokers and source.kafka.topic are required for kafka sources")
		}
	default:
		return failure.Configurationf("source.type %q unknown: want udp|kafka", c.Source.Type)
	}

	if len(c.EnabledChannels()) == 0 {
		return failure.Configurationf("no delivery channel is enabled")
	}

	return nil
}

// EnabledChannels lists the enabled channel names in a stable order.
func (c *Config) EnabledChannels() []string {
	enabled := []string{}
	if c.Channels.LineNotify.Enabled {
		enabled = append(enabled, "line_notify")
	}
	if c.Channels.LineAPI.Enabled {
		enabled = append(enabled, "line_api")
	}
	if c.Channels.Pushover.Enabled {
		enabled = append(enabled, "pushover")
	}
	if c.Channels.Telegram.Enabled {
		enabled = append(enabled, "telegram")
	}

	return enabled
}

// applyEnvOverrides injects secrets from the environment on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	overrides := []struct {
		env    string
		target *string
	}{
		{env: envLineNotifyToken, target: &cfg.Channels.LineNotify.Token},
		{env: envLineAPIPrimaryToken, target: &cfg.Channels.LineAPI.Primary.Token},
		{env: envLineAPISecondaryToken, target: &cfg.Channels.LineAPI.Secondary.Token},
		{env: envPushoverToken, target: &cfg.Channels.Pushover.Token},
		{env: envPushoverUser, target: &cfg.Channels.Pushover.User},
		{env: envTelegramBotToken, target: &cfg.Channels.Telegram.Token},
	}
	for _, override := range overrides {
		if value := strings.TrimSpace(os.Getenv(override.env)); value != "" {
			*override.target = value
		}
	}

	if rawBrokers := strings.TrimSpace(os.Getenv(envSourceKafkaBrokers)); rawBrokers != "" {
		cfg.Source.Kafka.Brokers = parseCSV(rawBrokers)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return clean
}

// loadDotEnv loads .env files from dir and the working directory when they
// exist. godotenv never overrides variables that are already set.
func loadDotEnv(dir string) error {
	candidates := []string{filepath.Join(dir, ".env")}
	if cwd, err := os.Getwd(); err == nil && filepath.Clean(cwd) != filepath.Clean(dir) {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}

	for _, candidate := range candidates {
		if err := godotenv.Load(candidate); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}

	return nil
}

// findConfigPath resolves the active config file location.
//
// Precedence is QUAKENOTIFY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config file not found (checked %s)", strings.Join(candidates, ", "))
}
