package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               string `yaml:"port"`
	DatabaseURL        string `yaml:"database_url"`
	AMQPURL            string `yaml:"amqp_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_min"`
	RateLimitBurst     int    `yaml:"rate_limit_burst"`
	StaffRatePerMinute int    `yaml:"staff_rate_limit_per_min"`
	StaffRateBurst     int    `yaml:"staff_rate_limit_burst"`
}

// Load reads an optional YAML file named by CONFIG_FILE, then lets
// environment variables override it.
func Load() Config {
	cfg := Config{
		Port:               "8080",
		RateLimitPerMinute: 120,
		RateLimitBurst:     30,
		StaffRatePerMinute: 600,
		StaffRateBurst:     120,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(raw, &cfg)
		}
	}

	cfg.Port = readString("PORT", cfg.Port)
	cfg.DatabaseURL = readString("DB_DSN", cfg.DatabaseURL)
	cfg.AMQPURL = readString("AMQP_URL", cfg.AMQPURL)
	cfg.RateLimitPerMinute = readInt("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMinute)
	cfg.RateLimitBurst = readInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.StaffRatePerMinute = readInt("STAFF_RATE_LIMIT_PER_MIN", cfg.StaffRatePerMinute)
	cfg.StaffRateBurst = readInt("STAFF_RATE_LIMIT_BURST", cfg.StaffRateBurst)

	return cfg
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
