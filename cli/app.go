package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"chronovista/config"
	ythttp "chronovista/http"
	"chronovista/internal/logger"
	"chronovista/recovery"
	"chronovista/storage"
	"chronovista/storage/jsonstore"
	"chronovista/storage/postgres"
	"chronovista/wayback"
)

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	store     storage.Store
	registry  *prometheus.Registry
	metrics   *recovery.Metrics
	recoverer *recovery.Recoverer
	client    *ythttp.Client

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = recovery.NewMetrics(a.registry)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	cache, err := a.openCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	client, limiter := a.newHTTPClient()
	a.client = client
	a.closers = append(a.closers, client.Close)

	cdxOpts := []wayback.CDXOption{
		wayback.WithCDXURL(cfg.Wayback.CDXURL),
		wayback.WithCDXTimeout(cfg.Wayback.CDXTimeout),
		wayback.WithMaxSnapshots(cfg.Wayback.MaxSnapshots),
		wayback.WithCDXLogger(log),
	}
	if cache != nil {
		cdxOpts = append(cdxOpts, wayback.WithCache(cache))
	}
	cdx := wayback.NewCDXClient(client, cdxOpts...)

	parser := wayback.NewPageParser(client,
		wayback.WithArchiveURL(cfg.Wayback.ArchiveURL),
		wayback.WithPageTimeout(cfg.Wayback.PageTimeout),
		wayback.WithParserLogger(log),
	)

	a.recoverer = recovery.New(cdx, parser, limiter,
		recovery.WithMaxSnapshots(cfg.Wayback.MaxSnapshots),
		recovery.WithArchiveURL(cfg.Wayback.ArchiveURL),
		recovery.WithLogger(log),
		recovery.WithMetrics(a.metrics),
	)
	return a, nil
}

// openConfiguredStore loads configuration and opens only the store, for
// commands that never talk to the archive.
func openConfiguredStore(ctx context.Context) (storage.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return openStore(ctx, cfg)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreJSON:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.JSONPath), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		js, err := jsonstore.Open(cfg.Store.JSONPath)
		if err != nil {
			return nil, err
		}
		return js, nil
	default:
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
}

func (a *app) openCache(ctx context.Context) (wayback.SnapshotCache, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheFile:
		fc, err := wayback.NewFileCache(a.cfg.Cache.Dir, a.cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("open cdx cache: %w", err)
		}
		return fc, nil
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: a.cfg.Cache.RedisAddr,
			DB:   a.cfg.Cache.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// A cache outage only costs extra CDX queries.
			a.log.Warn("redis cache unreachable, continuing without cache",
				logger.String("addr", a.cfg.Cache.RedisAddr), logger.Error(err))
			rdb.Close()
			return nil, nil
		}
		a.closers = append(a.closers, rdb.Close)
		return wayback.NewRedisCache(rdb, a.cfg.Cache.TTL), nil
	default:
		return nil, nil
	}
}

// newHTTPClient builds the one client every archive request goes through,
// and the limiter it shares with the Recoverer.
func (a *app) newHTTPClient() (*ythttp.Client, *ythttp.RateLimiter) {
	cfg := ythttp.DefaultConfig()
	cfg.UserAgent = a.cfg.Wayback.UserAgent
	cfg.Retry = a.cfg.Retry.Policy()
	cfg.RateLimiter.ArchiveRPS = a.cfg.Wayback.RequestsPerSecond

	log, metrics := a.log, a.metrics
	cfg.CircuitBreaker.OnStateChange = func(host string, from, to ythttp.CircuitState) {
		log.Warn("circuit breaker state change",
			logger.String("host", host),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
		metrics.CircuitStateChanged(host, from.String(), to.String())
	}

	limiter := ythttp.NewRateLimiter(cfg.RateLimiter)
	client := ythttp.New(cfg, ythttp.WithRateLimiter(limiter), ythttp.WithLogger(a.log))
	return client, limiter
}

// logArchiveState reports how the archive host looks after a run. A tripped
// circuit or active backoff explains a burst of failures in the results.
func (a *app) logArchiveState() {
	st := a.client.HostState(a.cfg.Wayback.ArchiveURL)
	fields := []logger.Field{
		logger.String("host", st.Host),
		logger.String("circuit", st.Circuit.String()),
		logger.Bool("backed_off", st.BackedOff),
		logger.Float64("rps", st.RPS),
	}
	if st.Circuit != ythttp.CircuitClosed || st.BackedOff {
		a.log.Warn("archive host degraded", fields...)
		return
	}
	a.log.Debug("archive host state", fields...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", logger.Error(err))
		}
	}
	_ = a.log.Sync()
}
