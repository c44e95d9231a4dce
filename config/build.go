package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	goredis "github.com/redis/go-redis/v9"

	tp "github.com/unkn0wn-root/tilepyramid"
	"github.com/unkn0wn-root/tilepyramid/codec"
	"github.com/unkn0wn-root/tilepyramid/genstore"
	"github.com/unkn0wn-root/tilepyramid/loader"
	"github.com/unkn0wn-root/tilepyramid/payload"
	pr "github.com/unkn0wn-root/tilepyramid/provider"
	"github.com/unkn0wn-root/tilepyramid/provider/bigcache"
	"github.com/unkn0wn-root/tilepyramid/provider/bolt"
	"github.com/unkn0wn-root/tilepyramid/provider/redis"
	"github.com/unkn0wn-root/tilepyramid/provider/ristretto"
	"github.com/unkn0wn-root/tilepyramid/provider/sqlite"
)

func (c *Config) redisClient() goredis.UniversalClient {
	return goredis.NewClient(&goredis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// NewProvider opens the configured byte store.
func (c *Config) NewProvider() (pr.Provider, error) {
	p := c.Provider
	switch p.Kind {
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: p.Ristretto.NumCounters,
			MaxCost:     p.Ristretto.MaxCost,
			BufferItems: p.Ristretto.BufferItems,
			Metrics:     p.Ristretto.Metrics,
		})
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow:         p.Bigcache.LifeWindow,
			CleanWindow:        p.Bigcache.CleanWindow,
			MaxEntrySize:       p.Bigcache.MaxEntrySize,
			HardMaxCacheSizeMB: p.Bigcache.HardMaxCacheSizeMB,
		})
	case "redis":
		return redis.New(redis.Config{
			Client:      c.redisClient(),
			Prefix:      c.Redis.Prefix,
			CloseClient: true,
		})
	case "bolt":
		return bolt.New(bolt.Config{Path: p.Bolt.Path, SweepInterval: p.Bolt.SweepInterval})
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: p.SQLite.Path, SweepInterval: p.SQLite.SweepInterval})
	default:
		return nil, fmt.Errorf("config: unknown provider kind %q", p.Kind)
	}
}

// NewGenStore returns nil for "local": the payload cache then owns an in-process store.
func (c *Config) NewGenStore() genstore.GenStore {
	if c.Payload.GenStore != "redis" {
		return nil
	}
	return genstore.NewRedisGenStore(c.redisClient(), c.Redis.Prefix+c.Namespace, c.Redis.GenTTL)
}

// ResponseCodec returns the configured codec for cached tile responses.
func (c *Config) ResponseCodec() (codec.Codec[loader.Response], error) {
	var inner codec.Codec[loader.Response]
	switch c.Payload.Codec {
	case "cbor":
		cb, err := codec.NewCBOR[loader.Response](true)
		if err != nil {
			return nil, err
		}
		inner = cb
	case "msgpack":
		inner = codec.Msgpack[loader.Response]{}
	case "json":
		inner = codec.JSON[loader.Response]{}
	case "protobuf":
		inner = loader.ProtoCodec()
	case "raw":
		inner = loader.BodyCodec()
	default:
		return nil, fmt.Errorf("config: unknown payload codec %q", c.Payload.Codec)
	}
	if c.Payload.MaxDecodeBytes > 0 {
		return codec.Limit[loader.Response]{Inner: inner, MaxDecode: c.Payload.MaxDecodeBytes}, nil
	}
	return inner, nil
}

// NewResponseCache builds the payload cache for loader.Cached. log and hooks may be nil.
func (c *Config) NewResponseCache(log tp.Logger, hooks payload.Hooks) (payload.Cache[loader.Response], error) {
	cd, err := c.ResponseCodec()
	if err != nil {
		return nil, err
	}
	p, err := c.NewProvider()
	if err != nil {
		return nil, err
	}
	gs := c.NewGenStore()
	cache, err := payload.New[loader.Response](payload.Options[loader.Response]{
		Namespace:       c.Namespace,
		Provider:        p,
		Codec:           cd,
		Logger:          log,
		Hooks:           hooks,
		DefaultTTL:      c.Payload.DefaultTTL,
		MissingTTL:      c.Payload.MissingTTL,
		CleanupInterval: c.Payload.CleanupInterval,
		GenRetention:    c.Payload.GenRetention,
		Disabled:        c.Payload.Disabled,
		GenStore:        gs,
		OwnGenStore:     true,
	})
	if err != nil {
		ctx := context.Background()
		errs := multierror.Append(err, p.Close(ctx))
		if gs != nil {
			errs = multierror.Append(errs, gs.Close(ctx))
		}
		return nil, errs.ErrorOrNil()
	}
	return cache, nil
}

// LoaderOptions fills the scalar loader settings around the given fetcher and cache.
func (c *Config) LoaderOptions(f loader.Fetcher, cache payload.Cache[loader.Response]) loader.Options {
	return loader.Options{
		Fetcher:    f,
		Cache:      cache,
		Workers:    c.Loader.Workers,
		FailureTTL: c.Loader.FailureTTL,
	}
}
