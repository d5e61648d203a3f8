// Package di wires the engine's dependencies from configuration
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"plantcare-engine/internal/activity"
	"plantcare-engine/internal/circuitbreaker"
	"plantcare-engine/internal/config"
	"plantcare-engine/internal/engine"
	"plantcare-engine/internal/escalation"
	"plantcare-engine/internal/growth"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/metrics"
	"plantcare-engine/internal/push"
	"plantcare-engine/internal/retry"
	"plantcare-engine/internal/storage"
	"plantcare-engine/internal/strain"
	"plantcare-engine/internal/tasks"
	"plantcare-engine/pkg/types"
)

const profileCacheSize = 10000

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     logging.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Tables     *growth.Tables
	Store      storage.TaskStore
	Redis      *redis.Client
	Outbox     *push.RedisOutbox
	Dispatcher push.Dispatcher
	Profiles   *activity.StaticProvider
	Strains    *strain.MemoryDirectory
	Engine     *engine.Engine

	profileCache *activity.CachedProvider
	sharedCache  *activity.RedisCache
	closers      []func() error
}

// NewContainer creates a container from cfg
func NewContainer(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	c := &Container{Config: cfg, Logger: logger}
	c.Registry, c.Metrics = metrics.NewRegistry()

	// Initialize in dependency order
	if err := c.initializeTables(); err != nil {
		return nil, err
	}
	if err := c.initializeStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := c.initializeStrains(); err != nil {
		_ = c.Shutdown()
		return nil, fmt.Errorf("failed to initialize strain catalog: %w", err)
	}
	c.initializeRedis(ctx)
	if err := c.initializeEngine(); err != nil {
		_ = c.Shutdown()
		return nil, err
	}
	return c, nil
}

func (c *Container) initializeTables() error {
	c.Tables = growth.Default()
	if err := c.Tables.Validate(); err != nil {
		return fmt.Errorf("growth tables are incomplete: %w", err)
	}
	return nil
}

// initializeStorage sets up the task store
func (c *Container) initializeStorage(ctx context.Context) error {
	switch c.Config.Storage.Driver {
	case "", "memory":
		c.Store = storage.NewMemoryStore()
		return nil
	case "sqlite", "postgres":
		repo, err := storage.Open(ctx, storage.Dialect(c.Config.Storage.Driver), c.Config.Storage.DSN)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, repo.Close)
		// Wrap with retry logic
		c.Store = storage.NewRetryingStore(repo, nil)
		return nil
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Config.Storage.Driver)
	}
}

func (c *Container) initializeStrains() error {
	if c.Config.Strains.CatalogPath == "" {
		c.Strains = strain.NewMemoryDirectory(nil)
		return nil
	}
	dir, err := strain.LoadYAML(c.Config.Strains.CatalogPath)
	if err != nil {
		return err
	}
	c.Strains = dir
	c.Logger.Info("strain catalog loaded", "path", c.Config.Strains.CatalogPath, "strains", dir.Len())
	return nil
}

// initializeRedis connects the outbox and profile cache when redis is enabled.
// An unreachable server is logged, not fatal; reads fall back to the local provider.
func (c *Container) initializeRedis(ctx context.Context) {
	c.Profiles = activity.NewStaticProvider()
	if !c.Config.Redis.Enabled {
		c.Dispatcher = push.NewLogDispatcher(c.Logger)
		return
	}

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	c.closers = append(c.closers, c.Redis.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Redis.Ping(pingCtx).Err(); err != nil {
		c.Logger.Warn("redis unreachable, dispatches will fail until it recovers",
			"addr", c.Config.Redis.Addr, "error", err)
	}

	c.Outbox = push.NewRedisOutbox(c.Redis, c.Config.Redis.KeyPrefix)
	c.Dispatcher = push.NewGuardedDispatcher(c.Outbox, circuitbreaker.DefaultConfig())
}

func (c *Container) profileProvider() activity.Provider {
	var base activity.Provider = c.Profiles
	if c.Redis != nil {
		c.sharedCache = activity.NewRedisCache(c.Redis, c.Profiles, c.Config.Redis.KeyPrefix, c.Config.Activity.CacheTTL, c.Logger)
		base = c.sharedCache
	}
	if c.Config.Activity.CacheTTL <= 0 {
		return base
	}
	c.profileCache = activity.NewCachedProvider(base, c.Config.Activity.CacheTTL, profileCacheSize)
	return c.profileCache
}

// PutProfile stores a user's activity profile and drops the cached copies
func (c *Container) PutProfile(ctx context.Context, profile types.ActivityProfile) error {
	if err := c.Profiles.Put(profile); err != nil {
		return err
	}
	if c.sharedCache != nil {
		if err := c.sharedCache.Invalidate(ctx, profile.UserID); err != nil {
			c.Logger.WarnContext(ctx, "failed to invalidate shared profile cache", "user_id", profile.UserID, "error", err)
		}
	}
	if c.profileCache != nil {
		c.profileCache.Invalidate(profile.UserID)
	}
	return nil
}

func (c *Container) initializeEngine() error {
	cfg := c.Config
	resolver := strain.NewResolver(c.Strains, c.Logger)
	generator := tasks.NewGenerator(c.Tables, tasks.GeneratorConfig{
		HorizonDays:     cfg.Scheduler.HorizonDays,
		DefaultDueHour:  cfg.Scheduler.DefaultDueHour,
		MaxSeriesLength: cfg.Scheduler.MaxSeriesLength,
	}, c.Logger)
	detector := tasks.NewTransitionDetector(c.Tables, time.Now)
	service := tasks.NewService(c.Store, generator, detector, resolver, c.Logger)

	batcherCfg, err := BatcherConfig(cfg.Batcher)
	if err != nil {
		return err
	}
	profiles := c.profileProvider()
	batcher := push.NewBatcher(c.Dispatcher, profiles, batcherCfg, c.Logger, push.WithMetrics(c.Metrics))
	tracker := escalation.NewTracker(c.Store, c.Dispatcher, profiles, c.Logger, escalation.WithMetrics(c.Metrics))

	c.Engine, err = engine.New(engine.Deps{
		Store:   c.Store,
		Tasks:   service,
		Batcher: batcher,
		Tracker: tracker,
		Metrics: c.Metrics,
		Logger:  c.Logger,
	})
	return err
}

// BatcherConfig converts the batcher section of the configuration
func BatcherConfig(bc config.BatcherConfig) (push.Config, error) {
	order := make([]types.BatchType, 0, len(bc.StrategyOrder))
	for _, s := range bc.StrategyOrder {
		bt, err := types.ParseBatchType(s)
		if err != nil {
			return push.Config{}, err
		}
		order = append(order, bt)
	}
	return push.Config{
		MaxBatchSize:  bc.MaxBatchSize,
		BatchTimeout:  bc.BatchTimeout,
		StrategyOrder: order,
		MaxStaleness:  bc.MaxStaleness,
		SentRetention: bc.SentRetention,
		Retry: &retry.Config{
			MaxRetries: bc.MaxRetries,
			BaseDelay:  bc.BaseRetryDelay,
			MaxDelay:   bc.RetryCap,
			MaxJitter:  time.Second,
		},
	}, nil
}

// HealthCheck reports whether the backing services are reachable
func (c *Container) HealthCheck(ctx context.Context) error {
	if _, err := c.Store.Query(ctx, types.TaskFilter{PlantID: "__health__"}); err != nil {
		return fmt.Errorf("task store health check failed: %w", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	return nil
}

// Shutdown flushes the batcher and closes connections
func (c *Container) Shutdown() error {
	var firstErr error
	if c.Engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Engine.Close(ctx); err != nil {
			firstErr = fmt.Errorf("failed to close engine: %w", err)
		}
		cancel()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
