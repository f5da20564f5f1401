package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// ErrMiss is returned by a CacheClient when the key is not cached.
var ErrMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the cached value into dest, or returns ErrMiss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// entry caches absence too, so an unsubscribed installation does not hit the backend on every status check.
type entry struct {
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// CachedStorage adds read-aside caching to any bridge.Storage.
// Writes go to the backing store first and then invalidate the cached key.
type CachedStorage struct {
	backing   bridge.Storage
	cache     CacheClient
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedStorage decorates backing. namespace separates installations sharing one Redis.
func NewCachedStorage(backing bridge.Storage, cache CacheClient, namespace string, ttl time.Duration, logger *slog.Logger) *CachedStorage {
	return &CachedStorage{
		backing:   backing,
		cache:     cache,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger.With("component", "CachedStorage"),
	}
}

func (s *CachedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	ck := s.cacheKey(key)

	var cached entry
	err := s.cache.Get(ctx, ck, &cached)
	if err == nil {
		return cached.Value, cached.Present, nil
	}
	if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Cache read failed, falling back to storage", "key", key, "err", err)
	}

	value, ok, err := s.backing.Get(ctx, key)
	if err != nil {
		return "", false, err
	}

	// caching is an optimization; a failed fill still serves from storage
	if err := s.cache.Set(ctx, ck, entry{Value: value, Present: ok}, s.ttl); err != nil {
		s.logger.Debug("Cache fill failed", "key", key, "err", err)
	}
	return value, ok, nil
}

func (s *CachedStorage) Set(ctx context.Context, key, value string) error {
	if err := s.backing.Set(ctx, key, value); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

// Remove must clear the cache even though the backing delete already succeeded,
// otherwise a stale token would keep reporting the installation as subscribed.
func (s *CachedStorage) Remove(ctx context.Context, key string) error {
	if err := s.backing.Remove(ctx, key); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedStorage) invalidate(ctx context.Context, key string) error {
	if err := s.cache.Del(ctx, s.cacheKey(key)); err != nil {
		return fmt.Errorf("failed to invalidate cached key %q: %w", key, err)
	}
	return nil
}

func (s *CachedStorage) cacheKey(key string) string {
	return fmt.Sprintf("pushbridge:kv:%s:%s", s.namespace, key)
}
