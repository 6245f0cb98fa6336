package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultRelayConfig is the relay's runtime configuration when a key is
// left out of the file.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ID:             "conga.local",
		Addr:           ":8888",
		CorsOrigins:    []string{"http://localhost:3000"},
		RingClosure:    "chain",
		MaxHeaderBytes: 64 * 1024,
		MaxBodyBytes:   8 * 1024 * 1024,
		WriteQueue:     256,
		ReadTimeout:    "0s",
		WriteTimeout:   "15s",
		Redis: RedisConfig{
			Addrs:     []string{},
			KeyPrefix: "conga:",
		},
	}
}

// templateConfig is what configgen writes: the defaults plus a local
// admin listener.
func templateConfig() RelayConfig {
	cfg := DefaultRelayConfig()
	cfg.AdminAddr = "127.0.0.1:8889"
	return cfg
}

func Template() (string, error) {
	raw, err := toml.Marshal(templateConfig())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
