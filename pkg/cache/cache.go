// Package cache provides the best-effort response and embedding caches.
// Every operation degrades to a miss or a no-op on failure; the retrieval
// pipeline must keep working with the store down.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
)

const (
	responsePrefix  = "dw:resp:"
	embeddingPrefix = "dw:emb:"
)

type CacheConfig struct {
	Addr     string
	Password string
	DB       int

	// Responses go stale when the knowledge base changes; embeddings are
	// deterministic, so they live much longer.
	ResponseTTL  time.Duration
	EmbeddingTTL time.Duration
}

type Cache struct {
	config CacheConfig
	client *redis.Client
	logger *zap.Logger
}

func NewWithConfig(config CacheConfig, logger *zap.Logger) *Cache {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.ResponseTTL == 0 {
		config.ResponseTTL = time.Hour
	}
	if config.EmbeddingTTL == 0 {
		config.EmbeddingTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Cache{
		config: config,
		client: client,
		logger: logger.With(zap.String("component", "cache")),
	}
}

// NewWithClient wraps an existing client; the session store shares it.
func NewWithClient(config CacheConfig, client *redis.Client, logger *zap.Logger) *Cache {
	c := NewWithConfig(config, logger)
	c.client = client
	return c
}

// Client exposes the underlying connection for stores that share it.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// normalizeQuery makes lookups whitespace- and case-insensitive: lowercase,
// trim, collapse internal whitespace.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func hashKey(prefix, text string) string {
	sum := sha256.Sum256([]byte(text))
	return prefix + hex.EncodeToString(sum[:])
}

// GetResponse returns the cached response for a normalization-equivalent
// query, or nil on miss. Store failures are logged and reported as a miss.
func (c *Cache) GetResponse(ctx context.Context, query string) *models.CachedResponse {
	key := hashKey(responsePrefix, normalizeQuery(query))

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("response cache read failed", zap.Error(err))
		return nil
	}

	var cached models.CachedResponse
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.Warn("response cache entry corrupt", zap.Error(err))
		return nil
	}

	return &cached
}

// SetResponse stores a response keyed by the normalized query. Best-effort.
func (c *Cache) SetResponse(ctx context.Context, query string, cached models.CachedResponse) {
	if cached.CachedAt.IsZero() {
		cached.CachedAt = time.Now()
	}

	data, err := json.Marshal(cached)
	if err != nil {
		c.logger.Warn("response cache marshal failed", zap.Error(err))
		return
	}

	key := hashKey(responsePrefix, normalizeQuery(query))
	if err := c.client.Set(ctx, key, data, c.config.ResponseTTL).Err(); err != nil {
		c.logger.Warn("response cache write failed", zap.Error(err))
	}
}

// GetEmbedding returns the cached vector for the exact text, or nil on miss.
func (c *Cache) GetEmbedding(ctx context.Context, text string) []float32 {
	key := hashKey(embeddingPrefix, text)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("embedding cache read failed", zap.Error(err))
		return nil
	}

	var vector []float32
	if err := json.Unmarshal([]byte(data), &vector); err != nil {
		c.logger.Warn("embedding cache entry corrupt", zap.Error(err))
		return nil
	}

	return vector
}

// SetEmbedding stores a vector keyed by the raw text hash. Best-effort.
func (c *Cache) SetEmbedding(ctx context.Context, text string, vector []float32) {
	if len(vector) == 0 {
		return
	}

	data, err := json.Marshal(vector)
	if err != nil {
		c.logger.Warn("embedding cache marshal failed", zap.Error(err))
		return
	}

	key := hashKey(embeddingPrefix, text)
	if err := c.client.Set(ctx, key, data, c.config.EmbeddingTTL).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// InvalidateResponses drops every cached response. Called after knowledge
// base re-ingestion; embeddings survive because they are content-addressed.
func (c *Cache) InvalidateResponses(ctx context.Context) int {
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := c.client.Scan(ctx, cursor, responsePrefix+"*", 100).Result()
		if err != nil {
			c.logger.Warn("response cache scan failed", zap.Error(err))
			return deleted
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn("response cache delete failed", zap.Error(err))
			} else {
				deleted += len(keys)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if deleted > 0 {
		c.logger.Info("response cache invalidated", zap.Int("entries", deleted))
	}

	return deleted
}

func (c *Cache) Close() error {
	return c.client.Close()
}
