package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"quakenotify/pkg/failure"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func clearSecretEnv(t *testing.T) {
	t.Helper()

	keys := []string{
		envLineNotifyToken, envLineAPIPrimaryToken, envLineAPISecondaryToken,
		envPushoverToken, envPushoverUser, envTelegramBotToken, envSourceKafkaBrokers,
	}
	for _, key := range keys {
		original, had := os.LookupEnv(key)
		_ = os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, original)
				return
			}
			_ = os.Unsetenv(key)
		})
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	clearSecretEnv(t)

	path := writeFile(t, t.TempDir(), "config.json", `{
	  "station": {"network": "AM", "code": "R1234", "region": "Kanto"},
	  "observer": {"name": "Tokyo", "latitude": 35.68, "longitude": 139.76},
	  "channels": {
	    "line_notify": {"enabled": true, "token": "file-token", "min_shindo": "4", "send_images": true}
	  },
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)
	t.Setenv(envConfigPath, path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Station.Network != "AM" || cfg.Station.Code != "R1234" {
		t.Fatalf("station = %+v", cfg.Station)
	}
	if cfg.Observer.Latitude != 35.68 {
		t.Fatalf("observer.latitude = %v, want 35.68", cfg.Observer.Latitude)
	}
	notify := cfg.Channels.LineNotify
	if !notify.Enabled || !notify.SendImages || notify.MinShindo != "4" || notify.Token != "file-token" {
		t.Fatalf("line_notify = %+v", notify)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Gateway.Port != 18790 {
		t.Fatalf("gateway.port = %d, want 18790", cfg.Gateway.Port)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearSecretEnv(t)

	path := writeFile(t, t.TempDir(), "config.json", `{"channels": {"pushover": {"enabled": true, "token": "t", "user": "u"}}}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Dispatch.MaxAttempts != 2 || cfg.Dispatch.BackoffSeconds != 5 || cfg.Dispatch.QueueBuffer != 100 {
		t.Fatalf("dispatch defaults = %+v", cfg.Dispatch)
	}
	if cfg.Source.Type != SourceUDP || cfg.Source.Address != "127.0.0.1:8888" {
		t.Fatalf("source defaults = %+v", cfg.Source)
	}
	if cfg.Severity.RequestTimeoutSeconds != 10 {
		t.Fatalf("severity timeout = %d, want 10", cfg.Severity.RequestTimeoutSeconds)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 18890 {
		t.Fatalf("gateway defaults = %+v", cfg.Gateway)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	clearSecretEnv(t)

	path := writeFile(t, t.TempDir(), "config.yaml", `
station:
  network: AM
  code: R1234
source:
  type: kafka
  kafka:
    brokers: ["127.0.0.1:9092"]
    topic: seismo.alerts
channels:
  line_api:
    enabled: true
    send_images: true
    severity_source: label
    image_dir: /srv/www/quake
    image_url_prefix: https://example.com/quake/
    primary:
      token: primary-token
      to: U1
      min_intensity: 4.5
    secondary:
      token: secondary-token
      to: U2
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: -1001
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Source.Type != SourceKafka || cfg.Source.Kafka.Topic != "seismo.alerts" {
		t.Fatalf("source = %+v", cfg.Source)
	}
	lineAPI := cfg.Channels.LineAPI
	if !lineAPI.Enabled || !lineAPI.SendImages || lineAPI.SeveritySource != "label" {
		t.Fatalf("line_api delivery = %+v", lineAPI.DeliveryConfig)
	}
	if lineAPI.Primary.MinIntensity == nil || *lineAPI.Primary.MinIntensity != 4.5 {
		t.Fatalf("primary min_intensity = %v, want 4.5", lineAPI.Primary.MinIntensity)
	}
	if lineAPI.Secondary.To != "U2" {
		t.Fatalf("secondary.to = %q, want U2", lineAPI.Secondary.To)
	}
	if cfg.Channels.Telegram.ChatID != -1001 {
		t.Fatalf("telegram.chat_id = %d, want -1001", cfg.Channels.Telegram.ChatID)
	}

	if got, want := cfg.EnabledChannels(), []string{"line_api", "telegram"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EnabledChannels = %v, want %v", got, want)
	}
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	clearSecretEnv(t)

	path := writeFile(t, t.TempDir(), "config.json", `{
	  "source": {"type": "kafka", "kafka": {"brokers": ["file:9092"], "topic": "alerts"}},
	  "channels": {"pushover": {"enabled": true, "token": "file-token", "user": "file-user"}}
	}`)
	t.Setenv(envPushoverToken, "env-token")
	t.Setenv(envSourceKafkaBrokers, " a:9092, ,b:9092 ")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Channels.Pushover.Token != "env-token" {
		t.Fatalf("pushover.token = %q, want env-token", cfg.Channels.Pushover.Token)
	}
	if cfg.Channels.Pushover.User != "file-user" {
		t.Fatalf("pushover.user = %q, want file-user", cfg.Channels.Pushover.User)
	}
	if got, want := cfg.Source.Kafka.Brokers, []string{"a:9092", "b:9092"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("brokers = %v, want %v", got, want)
	}
}

func TestDotEnvNextToConfig(t *testing.T) {
	clearSecretEnv(t)

	dir := t.TempDir()
	writeFile(t, dir, ".env", "LINE_NOTIFY_TOKEN=dotenv-token\n")
	path := writeFile(t, dir, "config.json", `{"channels": {"line_notify": {"enabled": true}}}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if cfg.Channels.LineNotify.Token != "dotenv-token" {
		t.Fatalf("line_notify.token = %q, want dotenv-token", cfg.Channels.LineNotify.Token)
	}
}

func TestValidateFailures(t *testing.T) {
	clearSecretEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no channels", mutate: func(c *Config) { c.Channels.Pushover.Enabled = false }},
		{name: "latitude", mutate: func(c *Config) { c.Observer.Latitude = 91 }},
		{name: "longitude", mutate: func(c *Config) { c.Observer.Longitude = -181 }},
		{name: "max attempts", mutate: func(c *Config) { c.Dispatch.MaxAttempts = 0 }},
		{name: "negative backoff", mutate: func(c *Config) { c.Dispatch.BackoffSeconds = -1 }},
		{name: "port", mutate: func(c *Config) { c.Gateway.Port = 70000 }},
		{name: "udp address", mutate: func(c *Config) { c.Source.Address = " " }},
		{name: "kafka topic", mutate: func(c *Config) {
			c.Source.Type = SourceKafka
			c.Source.Kafka.Brokers = []string{"a:9092"}
		}},
		{name: "source type", mutate: func(c *Config) { c.Source.Type = "serial" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Channels.Pushover.Enabled = true
			if err := cfg.Validate(); err != nil {
				t.Fatalf("baseline Validate error: %v", err)
			}

			tt.mutate(cfg)
			if err := cfg.Validate(); !failure.Is(err, failure.ErrorConfiguration) {
				t.Fatalf("Validate error = %v, want configuration failure", err)
			}
		})
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	clearSecretEnv(t)

	path := writeFile(t, t.TempDir(), "config.json", `{"channels": `)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}
