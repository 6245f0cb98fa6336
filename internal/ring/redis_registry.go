package ring

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/rs/zerolog/log"
)

// RedisConfig selects the Redis deployment that mirrors registrations.
type RedisConfig struct {
	Addrs     []string
	Password  string
	DB        int
	KeyPrefix string
}

// Record is the cross-process view of one registration.
type Record struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	Server       string    `json:"server"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RecordLister exposes registrations known beyond this process.
type RecordLister interface {
	Records() (map[string]Record, error)
}

// RedisRegistry keeps participant references locally and mirrors each
// registration into a Redis hash so id uniqueness holds across servers
// sharing the same Redis.
type RedisRegistry struct {
	local  *MemoryRegistry
	client redis.UniversalClient
	key    string
	server string
}

var (
	_ Registry     = (*RedisRegistry)(nil)
	_ RecordLister = (*RedisRegistry)(nil)
)

// NewRedisRegistry connects to Redis and verifies it with PING.
func NewRedisRegistry(cfg RedisConfig, server string) (*RedisRegistry, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("ring: redis registry requires at least one addr")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ring: redis ping: %w", err)
	}
	r := newRedisRegistry(client, cfg.KeyPrefix, server)
	if err := r.purgeServer(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

func newRedisRegistry(client redis.UniversalClient, prefix, server string) *RedisRegistry {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "conga:"
	}
	return &RedisRegistry{
		local:  NewMemoryRegistry(),
		client: client,
		key:    prefix + "participants",
		server: server,
	}
}

// purgeServer drops records this server left behind when it last exited
// without deregistering, such as after a crash.
func (r *RedisRegistry) purgeServer() error {
	raw, err := r.client.HGetAll(r.key).Result()
	if err != nil {
		return fmt.Errorf("ring: redis purge: %w", err)
	}
	stale := fieldsOwnedBy(raw, r.server)
	if len(stale) == 0 {
		return nil
	}
	if err := r.client.HDel(r.key, stale...).Err(); err != nil {
		return fmt.Errorf("ring: redis purge: %w", err)
	}
	log.Info().Str("server", r.server).Int("records", len(stale)).Msg("purged stale registry records")
	return nil
}

// fieldsOwnedBy returns the ids whose record names server, in id order.
// Malformed records are left alone.
func fieldsOwnedBy(raw map[string]string, server string) []string {
	var out []string
	for id, v := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		if rec.Server == server {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *RedisRegistry) Register(id string, p *Participant) error {
	key := strings.TrimSpace(id)
	if key == "" || p == nil {
		return ErrInvalidID
	}
	raw, err := json.Marshal(Record{
		ID:           key,
		RemoteAddr:   p.RemoteAddr(),
		Server:       r.server,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	added, err := r.client.HSetNX(r.key, key, raw).Result()
	if err != nil {
		return fmt.Errorf("ring: redis register %s: %w", key, err)
	}
	if !added {
		return ErrAlreadyRegistered
	}
	if err := r.local.Register(key, p); err != nil {
		r.client.HDel(r.key, key)
		return err
	}
	return nil
}

func (r *RedisRegistry) Lookup(id string) (*Participant, bool) {
	return r.local.Lookup(id)
}

func (r *RedisRegistry) Deregister(id string) {
	key := strings.TrimSpace(id)
	r.local.Deregister(key)
	if err := r.client.HDel(r.key, key).Err(); err != nil {
		log.Warn().Str("participant", key).Err(err).Msg("redis deregister failed")
	}
}

func (r *RedisRegistry) Snapshot() []*Participant {
	return r.local.Snapshot()
}

// Records returns every mirrored registration, including other servers'.
func (r *RedisRegistry) Records() (map[string]Record, error) {
	raw, err := r.client.HGetAll(r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(raw))
	for id, v := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			log.Warn().Str("participant", id).Err(err).Msg("skipping malformed registry record")
			continue
		}
		out[id] = rec
	}
	return out, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
