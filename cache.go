package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SummaryCache stores serialised lifetime summaries by key
type SummaryCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string) error
}

// DefaultMemoryCacheEntries bounds a MemoryCache created without an explicit limit
const DefaultMemoryCacheEntries = 100000

// MemoryCache is an in-process SummaryCache, safe for concurrent sweeps.
// Once full, the oldest entry is evicted for each new key.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[string]string
	order      []string // Keys in insertion order
	maxEntries int
}

// NewMemoryCache creates a cache holding at most maxEntries summaries
// (DefaultMemoryCacheEntries when maxEntries <= 0)
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryCacheEntries
	}
	return &MemoryCache{items: make(map[string]string), maxEntries: maxEntries}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.items[key]
	return val, ok
}

func (m *MemoryCache) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; !exists {
		for len(m.order) >= m.maxEntries {
			delete(m.items, m.order[0])
			m.order = m.order[1:]
		}
		m.order = append(m.order, key)
	}
	m.items[key] = value
	return nil
}

// Len returns the number of cached entries
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// RedisCache shares summaries between processes through Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value string) error {
	return r.client.Set(ctx, key, value, r.ttl).Err()
}

// Ping checks the server is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// NewSummaryCache builds the cache described by config; nil when caching is off
func NewSummaryCache(ctx context.Context, cfg CacheConfig, logger zerolog.Logger) (SummaryCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return NewMemoryCache(cfg.MaxEntries), nil
	}

	var ttl time.Duration
	if cfg.TTL != "" {
		parsed, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, ValidationError{Field: "cache.ttl", Message: fmt.Sprintf("Invalid duration %q", cfg.TTL)}
		}
		ttl = parsed
	}

	rc := NewRedisCache(cfg.RedisAddr, ttl)
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", ttl).Msg("using redis summary cache")
	return rc, nil
}

// Simulator runs lifetimes under fixed assumptions, memoising summaries when a cache is set
type Simulator struct {
	Assumptions Assumptions
	cache       SummaryCache
	logger      zerolog.Logger
	scenario    uint64 // Fingerprint of Assumptions
}

// NewSimulator creates a simulator; cache may be nil
func NewSimulator(a Assumptions, cache SummaryCache, logger zerolog.Logger) *Simulator {
	return &Simulator{
		Assumptions: a,
		cache:       cache,
		logger:      logger,
		scenario:    fingerprint(a),
	}
}

func fingerprint(v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// summaryKey identifies one (income, balance, policy) run under the simulator's assumptions
func (s *Simulator) summaryKey(income, balance float64, policy Policy) string {
	d := xxhash.New()
	d.WriteString(strconv.FormatUint(s.scenario, 16))
	d.WriteString(strconv.FormatUint(fingerprint(policy), 16))
	d.WriteString(strconv.FormatFloat(income, 'f', -1, 64))
	d.WriteString(strconv.FormatFloat(balance, 'f', -1, 64))
	return "lifetime:" + policy.Key + ":" + strconv.FormatUint(d.Sum64(), 16)
}

// Lifetime returns the lifetime summary, from cache when possible
func (s *Simulator) Lifetime(ctx context.Context, income, balance float64, policy Policy) LifetimeSummary {
	if s.cache == nil {
		return SimulateLifetime(income, balance, policy, s.Assumptions)
	}

	key := s.summaryKey(income, balance, policy)
	if cached, ok := s.cache.Get(ctx, key); ok {
		var summary LifetimeSummary
		if err := json.Unmarshal([]byte(cached), &summary); err == nil {
			return summary
		}
		s.logger.Warn().Str("key", key).Msg("discarding unreadable cached summary")
	}

	summary := SimulateLifetime(income, balance, policy, s.Assumptions)
	if data, err := json.Marshal(summary); err == nil {
		if err := s.cache.Set(ctx, key, string(data)); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to cache summary")
		}
	}
	return summary
}

// Yearly returns a yearly profile; traces are not cached
func (s *Simulator) Yearly(income, balance float64, policy Policy, horizon int) []YearTrace {
	return SimulateYearly(income, balance, policy, s.Assumptions, horizon)
}
