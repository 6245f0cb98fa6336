package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RelayConfig is the on-disk schema for congactl.
type RelayConfig struct {
	ID             string      `toml:"id"`
	Addr           string      `toml:"addr"`
	AdminAddr      string      `toml:"admin_addr"`
	CorsOrigins    []string    `toml:"cors_origins"`
	RingClosure    string      `toml:"ring_closure"`
	MaxHeaderBytes int         `toml:"max_header_bytes"`
	MaxBodyBytes   int         `toml:"max_body_bytes"`
	WriteQueue     int         `toml:"write_queue_depth"`
	ReadTimeout    string      `toml:"read_timeout"`
	WriteTimeout   string      `toml:"write_timeout"`
	Redis          RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addrs     []string `toml:"addrs"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	KeyPrefix string   `toml:"key_prefix"`
}

// LoadRelayConfig reads path over the runtime defaults and validates the
// result. Keys missing from the file keep their default.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateRelayConfig holds the rules every relay config must satisfy,
// whichever loader produced it.
func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("relay config missing id")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RingClosure)) {
	case "", "chain", "cycle":
	default:
		return fmt.Errorf("ring_closure must be chain or cycle, got %q", cfg.RingClosure)
	}
	for _, field := range []struct {
		key string
		n   int
	}{
		{"max_header_bytes", cfg.MaxHeaderBytes},
		{"max_body_bytes", cfg.MaxBodyBytes},
		{"write_queue_depth", cfg.WriteQueue},
	} {
		if field.n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", field.key, field.n)
		}
	}
	for _, field := range []struct {
		key string
		raw string
	}{
		{"read_timeout", cfg.ReadTimeout},
		{"write_timeout", cfg.WriteTimeout},
	} {
		if _, err := ParseDuration(field.key, field.raw); err != nil {
			return err
		}
	}
	for i, addr := range cfg.Redis.Addrs {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("redis.addrs[%d] is empty", i)
		}
	}
	return nil
}

// ParseDuration parses a config duration; empty means zero.
func ParseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s invalid: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, raw)
	}
	return d, nil
}
