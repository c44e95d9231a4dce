// Package config reads deployment settings from the environment (and an optional
// .env file) and builds the payload side of a tile pyramid from them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	tp "github.com/unkn0wn-root/tilepyramid"
)

// EnvPrefix is prepended to every variable, e.g. TILEPYRAMID_PROVIDER_KIND.
const EnvPrefix = "TILEPYRAMID_"

type (
	Config struct {
		Namespace string   `env:"NAMESPACE" envDefault:"tiles"`
		Pyramid   Pyramid  `envPrefix:"PYRAMID_"`
		Payload   Payload  `envPrefix:"PAYLOAD_"`
		Provider  Provider `envPrefix:"PROVIDER_"`
		Redis     Redis    `envPrefix:"REDIS_"`
		Loader    Loader   `envPrefix:"LOADER_"`
	}

	Pyramid struct {
		FadeDuration     time.Duration `env:"FADE_DURATION" envDefault:"300ms"`
		MaxOverzooming   uint8         `env:"MAX_OVERZOOMING" envDefault:"10"`
		MaxTileCacheSize int           `env:"MAX_TILE_CACHE_SIZE" envDefault:"0"`
		QueryPadding     float64       `env:"QUERY_PADDING" envDefault:"0"`
	}

	Payload struct {
		Disabled        bool          `env:"DISABLED" envDefault:"false"`
		Codec           string        `env:"CODEC" envDefault:"cbor"` // cbor | msgpack | json | protobuf | raw
		DefaultTTL      time.Duration `env:"DEFAULT_TTL" envDefault:"10m"`
		MissingTTL      time.Duration `env:"MISSING_TTL" envDefault:"1m"`
		CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
		GenRetention    time.Duration `env:"GEN_RETENTION" envDefault:"720h"`
		GenStore        string        `env:"GEN_STORE" envDefault:"local"` // local | redis
		MaxDecodeBytes  int           `env:"MAX_DECODE_BYTES" envDefault:"0"`
	}

	Provider struct {
		Kind      string    `env:"KIND" envDefault:"ristretto"` // ristretto | bigcache | redis | bolt | sqlite
		Ristretto Ristretto `envPrefix:"RISTRETTO_"`
		Bigcache  Bigcache  `envPrefix:"BIGCACHE_"`
		Bolt      File      `envPrefix:"BOLT_"`
		SQLite    File      `envPrefix:"SQLITE_"`
	}

	Ristretto struct {
		NumCounters int64 `env:"NUM_COUNTERS" envDefault:"100000"`
		MaxCost     int64 `env:"MAX_COST" envDefault:"268435456"` // bytes
		BufferItems int64 `env:"BUFFER_ITEMS" envDefault:"64"`
		Metrics     bool  `env:"METRICS" envDefault:"false"`
	}

	Bigcache struct {
		LifeWindow         time.Duration `env:"LIFE_WINDOW" envDefault:"1h"`
		CleanWindow        time.Duration `env:"CLEAN_WINDOW" envDefault:"5m"`
		MaxEntrySize       int           `env:"MAX_ENTRY_SIZE" envDefault:"65536"`
		HardMaxCacheSizeMB int           `env:"HARD_MAX_CACHE_SIZE_MB" envDefault:"64"`
	}

	File struct {
		Path          string        `env:"PATH"`
		SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		Prefix   string        `env:"PREFIX" envDefault:""`
		GenTTL   time.Duration `env:"GEN_TTL" envDefault:"720h"`
	}

	Loader struct {
		Workers    int           `env:"WORKERS" envDefault:"8"`
		FailureTTL time.Duration `env:"FAILURE_TTL" envDefault:"30s"`
	}
)

// Load reads dotenv files (default ".env"; missing files are skipped) and then parses
// the environment. Variables already set in the environment win over dotenv values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Payload.Codec {
	case "cbor", "msgpack", "json", "protobuf", "raw":
	default:
		return fmt.Errorf("config: unknown payload codec %q", c.Payload.Codec)
	}
	switch c.Payload.GenStore {
	case "local", "redis":
	default:
		return fmt.Errorf("config: unknown gen store %q", c.Payload.GenStore)
	}
	switch c.Provider.Kind {
	case "ristretto", "bigcache", "redis":
	case "bolt":
		if c.Provider.Bolt.Path == "" {
			return fmt.Errorf("config: %sPROVIDER_BOLT_PATH is required for the bolt provider", EnvPrefix)
		}
	case "sqlite":
		if c.Provider.SQLite.Path == "" {
			return fmt.Errorf("config: %sPROVIDER_SQLITE_PATH is required for the sqlite provider", EnvPrefix)
		}
	default:
		return fmt.Errorf("config: unknown provider kind %q", c.Provider.Kind)
	}
	return nil
}

// PyramidOptions fills the scalar pyramid settings. Loader, Source, Coverage, Logger
// and Hooks are left to the caller.
func (c *Config) PyramidOptions() tp.Options {
	return tp.Options{
		Namespace:        c.Namespace,
		FadeDuration:     c.Pyramid.FadeDuration,
		MaxOverzooming:   c.Pyramid.MaxOverzooming,
		MaxTileCacheSize: c.Pyramid.MaxTileCacheSize,
		QueryPadding:     c.Pyramid.QueryPadding,
	}
}
