package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/engine"
	"github.com/mesh-intelligence/shelf/internal/postgres"
	"github.com/mesh-intelligence/shelf/internal/qcache"
	"github.com/mesh-intelligence/shelf/internal/sqlite"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// runtime is the storage, cache and engine of one command.
type runtime struct {
	logger  *zap.Logger
	store   types.Store
	engine  *engine.Engine
	closers []func() error
}

// openRuntime connects the configured backend and cache. The caller must
// Close the runtime.
func openRuntime(ctx context.Context, c types.Config) (*runtime, error) {
	logger, err := newLogger(c)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: logger}

	store, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	cache, err := openCache(ctx, c, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if closer, ok := cache.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, closer.Close)
	}

	rt.engine = engine.New(store, cache, c, logger)
	return rt, nil
}

// Close releases the runtime in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	_ = rt.logger.Sync()
	return errors.Join(errs...)
}

func openStore(ctx context.Context, c types.Config) (types.Store, error) {
	switch c.Backend {
	case types.BackendSQLite:
		backend := sqlite.NewBackend()
		if err := backend.Attach(c); err != nil {
			return nil, fmt.Errorf("attach sqlite backend: %w", err)
		}
		return backend, nil
	case types.BackendPostgres:
		store, err := postgres.Open(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		return store, nil
	case types.BackendMemory:
		return docstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, c.Backend)
	}
}

func openCache(ctx context.Context, c types.Config, logger *zap.Logger) (types.CacheDriver, error) {
	if c.RedisAddr == "" {
		return qcache.NewMemoryDriver(2 * c.CacheTTL), nil
	}
	driver, err := qcache.NewRedisDriver(ctx, qcache.RedisOptions{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis cache: %w", err)
	}
	logger.Debug("using redis query cache", zap.String("addr", c.RedisAddr))
	return driver, nil
}

// newLogger builds a console logger, or a JSON logger when log_json is
// set. Both write to stderr.
func newLogger(c types.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zc := zap.NewDevelopmentConfig()
	if c.LogJSON {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level
	return zc.Build()
}
