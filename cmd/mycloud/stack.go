package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mycloud/internal/auth"
	"mycloud/internal/config"
	"mycloud/internal/contentstore"
	"mycloud/internal/files"
	"mycloud/internal/guard"
	"mycloud/internal/registry"
	"mycloud/internal/store"
	"mycloud/internal/usage"
)

// localStack is the storage core opened directly on the configured database
// and content root. The server and the operator commands share it.
type localStack struct {
	store    *store.Store
	registry *registry.Registry
	files    *files.Service
	auth     *auth.Service
	cache    usage.Cache
}

func openLocalStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*localStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	content, err := contentstore.NewLocal(cfg.Storage.Root)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cache, err := openUsageCache(ctx, cfg.Cache)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	issuer, err := newTokenIssuer(cfg.Auth, logger)
	if err != nil {
		_ = cache.Close()
		_ = st.Close()
		return nil, err
	}

	g := guard.New(st, guard.Limits{
		MaxUploadBytes:    cfg.Limits.MaxUploadBytes,
		MaxFilesPerUser:   cfg.Limits.MaxFilesPerUser,
		AllowedExtensions: cfg.Limits.AllowedExtensions,
		AllowedMediaTypes: cfg.Limits.AllowedMediaTypes,
	})
	reg := registry.New(st, content, registry.Options{
		MaxFilesPerUser: g.MaxFilesPerUser(),
		MaxUploadBytes:  g.MaxUploadBytes(),
		Logger:          logger.With("component", "registry"),
	})
	agg := usage.NewAggregator(st, cache, logger.With("component", "usage"))
	fileService := files.NewService(reg, g, agg, st, files.Options{
		PendingTTL: cfg.Storage.PendingTTL.Duration,
		Logger:     logger.With("component", "files"),
	})

	return &localStack{
		store:    st,
		registry: reg,
		files:    fileService,
		auth:     auth.NewService(st, issuer, logger.With("component", "auth")),
		cache:    cache,
	}, nil
}

func (s *localStack) Close() error {
	cacheErr := s.cache.Close()
	if err := s.store.Close(); err != nil {
		return err
	}
	return cacheErr
}

func openUsageCache(ctx context.Context, cacheCfg config.CacheConfig) (usage.Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cacheCfg.Backend)) {
	case config.CacheBackendNone:
		return usage.NoopCache{}, nil
	case config.CacheBackendRedis:
		cache, err := usage.NewRedisCache(ctx, usage.RedisOptions{
			Addr:     cacheCfg.RedisAddr,
			Password: cacheCfg.RedisPassword,
			DB:       cacheCfg.RedisDB,
			Prefix:   cacheCfg.RedisPrefix,
			TTL:      cacheCfg.TTL.Duration,
		})
		if err != nil {
			return nil, err
		}
		return cache, nil
	case "", config.CacheBackendMemory:
		return usage.NewMemoryCache(cacheCfg.Size, cacheCfg.TTL.Duration), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cacheCfg.Backend)
	}
}

// newTokenIssuer uses the configured secret. Without one, a random secret is
// generated and tokens do not survive a restart.
func newTokenIssuer(authCfg config.AuthConfig, logger *slog.Logger) (*auth.TokenIssuer, error) {
	secret := strings.TrimSpace(authCfg.JWTSecret)
	if secret == "" {
		generated, err := auth.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		logger.Warn("auth.jwt_secret is not set; using an ephemeral secret")
		secret = generated
	}
	return auth.NewTokenIssuer(secret, authCfg.TokenTTL.Duration)
}
