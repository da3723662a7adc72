// Package config loads a YAML description of a cache deployment and opens
// the backend it names.
//
//	namespace: smw
//	version: 2
//	codec: msgpack
//	max_decode_bytes: 1048576
//	provider:
//	  kind: badger
//	  badger:
//	    dir: /var/cache/smw
//	  breaker:
//	    consecutive_failures: 5
//	    open_timeout: 30s
//	genstore:
//	  kind: local
//	  cleanup_interval: 1h
//	  retention: 720h
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Namespace string `yaml:"namespace" validate:"required"`
	Version   int    `yaml:"version" validate:"gte=0"`
	Disabled  bool   `yaml:"disabled"`
	// Codec encodes container records; empty means msgpack.
	Codec string `yaml:"codec" validate:"omitempty,oneof=msgpack json cbor"`
	// MaxDecodeBytes rejects stored entries larger than this before decoding
	// them; 0 disables the bound.
	MaxDecodeBytes int            `yaml:"max_decode_bytes" validate:"gte=0"`
	Provider       ProviderConfig `yaml:"provider"`
	GenStore       GenStoreConfig `yaml:"genstore"`
}

type ProviderConfig struct {
	Kind      string           `yaml:"kind" validate:"required,oneof=lru badger bigcache ristretto redis"`
	LRU       *LRUConfig       `yaml:"lru"`
	Badger    *BadgerConfig    `yaml:"badger" validate:"required_if=Kind badger"`
	BigCache  *BigCacheConfig  `yaml:"bigcache" validate:"required_if=Kind bigcache"`
	Ristretto *RistrettoConfig `yaml:"ristretto" validate:"required_if=Kind ristretto"`
	Redis     *RedisConfig     `yaml:"redis" validate:"required_if=Kind redis"`
	// Breaker, when set, wraps the provider in a circuit breaker.
	Breaker *BreakerConfig `yaml:"breaker"`
}

type LRUConfig struct {
	Size int `yaml:"size" validate:"gte=0"`
}

type BadgerConfig struct {
	Dir      string `yaml:"dir" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

type BigCacheConfig struct {
	LifeWindow         time.Duration `yaml:"life_window" validate:"gt=0"`
	CleanWindow        time.Duration `yaml:"clean_window" validate:"gte=0"`
	MaxEntriesInWindow int           `yaml:"max_entries_in_window" validate:"gte=0"`
	MaxEntrySize       int           `yaml:"max_entry_size" validate:"gte=0"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb" validate:"gte=0"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters" validate:"gt=0"`
	MaxCost     int64 `yaml:"max_cost" validate:"gt=0"`
	BufferItems int64 `yaml:"buffer_items" validate:"gt=0"`
	Metrics     bool  `yaml:"metrics"`
	SyncWrites  bool  `yaml:"sync_writes"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs" validate:"required,min=1,dive,hostname_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db" validate:"gte=0"`
}

type BreakerConfig struct {
	Name                string        `yaml:"name"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" validate:"gte=0"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests"`
}

type GenStoreConfig struct {
	// Kind is local (default) or redis.
	Kind            string        `yaml:"kind" validate:"omitempty,oneof=local redis"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	Retention       time.Duration `yaml:"retention" validate:"gte=0"`
	// TTL of redis generation keys; 0 keeps them forever.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
	// Redis is required for kind redis unless the provider is redis too, in
	// which case the provider's client is shared.
	Redis *RedisConfig `yaml:"redis"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown fields, and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.GenStore.Kind == "redis" && c.GenStore.Redis == nil && c.Provider.Kind != "redis" {
		return errors.New("genstore.redis is required unless the provider is redis")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
