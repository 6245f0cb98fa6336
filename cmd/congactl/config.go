package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/conga/internal/config"
	"github.com/danmuck/conga/internal/relay"
	"github.com/danmuck/conga/internal/ring"
)

// congactl config.toml key mapping to relay runtime settings.
type fileConfig struct {
	ID             string          `toml:"id"`
	Addr           string          `toml:"addr"`
	AdminAddr      string          `toml:"admin_addr"`
	CorsOrigins    []string        `toml:"cors_origins"`
	RingClosure    string          `toml:"ring_closure"`
	MaxHeaderBytes int             `toml:"max_header_bytes"`
	MaxBodyBytes   int             `toml:"max_body_bytes"`
	WriteQueue     int             `toml:"write_queue_depth"`
	ReadTimeout    string          `toml:"read_timeout"`
	WriteTimeout   string          `toml:"write_timeout"`
	Redis          redisFileConfig `toml:"redis"`
}

type redisFileConfig struct {
	Addrs     []string `toml:"addrs"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	KeyPrefix string   `toml:"key_prefix"`
}

// congactl loader for TOML config with default overlay. Defined keys
// overlay the defaults, the result goes through the same validation as
// configgen, and is then mapped onto the relay service config.
func loadServiceConfig(path string) (relay.ServiceConfig, error) {
	file := config.DefaultRelayConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("id") {
		file.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("addr") {
		file.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		file.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		file.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("ring_closure") {
		file.RingClosure = strings.TrimSpace(raw.RingClosure)
	}
	if meta.IsDefined("max_header_bytes") {
		file.MaxHeaderBytes = raw.MaxHeaderBytes
	}
	if meta.IsDefined("max_body_bytes") {
		file.MaxBodyBytes = raw.MaxBodyBytes
	}
	if meta.IsDefined("write_queue_depth") {
		file.WriteQueue = raw.WriteQueue
	}
	if meta.IsDefined("read_timeout") {
		file.ReadTimeout = raw.ReadTimeout
	}
	if meta.IsDefined("write_timeout") {
		file.WriteTimeout = raw.WriteTimeout
	}
	if meta.IsDefined("redis", "addrs") {
		file.Redis.Addrs = raw.Redis.Addrs
	}
	if meta.IsDefined("redis", "password") {
		file.Redis.Password = raw.Redis.Password
	}
	if meta.IsDefined("redis", "db") {
		file.Redis.DB = raw.Redis.DB
	}
	if meta.IsDefined("redis", "key_prefix") {
		file.Redis.KeyPrefix = strings.TrimSpace(raw.Redis.KeyPrefix)
	}

	if err := config.ValidateRelayConfig(file); err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}
	return toServiceConfig(file)
}

func toServiceConfig(file config.RelayConfig) (relay.ServiceConfig, error) {
	cfg := relay.DefaultServiceConfig()
	cfg.ServerID = file.ID
	cfg.ListenAddr = file.Addr
	cfg.AdminAddr = file.AdminAddr
	cfg.CorsOrigins = file.CorsOrigins

	policy, err := ring.ParseClosurePolicy(file.RingClosure)
	if err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}
	cfg.Closure = policy

	cfg.Limits.MaxHeaderBytes = file.MaxHeaderBytes
	cfg.Limits.MaxBodyBytes = file.MaxBodyBytes
	cfg.Stream.MaxHeaderBytes = file.MaxHeaderBytes
	cfg.Stream.QueueDepth = file.WriteQueue
	// Both durations were checked by ValidateRelayConfig.
	cfg.Stream.ReadTimeout, _ = config.ParseDuration("read_timeout", file.ReadTimeout)
	cfg.Stream.WriteTimeout, _ = config.ParseDuration("write_timeout", file.WriteTimeout)
	cfg.Stream = cfg.Stream.WithDefaults()

	cfg.Redis = ring.RedisConfig{
		Addrs:     file.Redis.Addrs,
		Password:  file.Redis.Password,
		DB:        file.Redis.DB,
		KeyPrefix: file.Redis.KeyPrefix,
	}
	return cfg, nil
}
