package notify

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines notification configuration.
type Config struct {
	// Channels lists the enabled per-recipient channels (email, sms, push).
	Channels    []string      `yaml:"channels"`
	WebhookURL  string        `yaml:"webhook_url"`
	Template    string        `yaml:"template"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	// Timezone is the location quiet hours are evaluated in.
	Timezone string `yaml:"timezone"`
}

// LoadConfig loads notification config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		WebhookURL:  os.Getenv("ALERT_WEBHOOK_URL"),
		Template:    os.Getenv("ALERT_NOTIFY_TEMPLATE"),
		QueueSize:   getenvIntDefault("ALERT_NOTIFY_QUEUE", 64),
		SendTimeout: getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		Timezone:    getenvDefault("ALERT_TIMEZONE", "UTC"),
	}

	if path := os.Getenv("ALERT_NOTIFY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Channels) == 0 {
		cfg.Channels = splitCSV(getenvDefault("ALERT_NOTIFY_CHANNELS", "email,sms,push"))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return cfg, nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
