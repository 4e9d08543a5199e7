package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

// Read sources reported alongside listings.
const (
	ReadSourceStore    = "store"
	ReadSourceCache    = "cache"
	ReadSourceDefaults = "defaults"
)

// ReadMeta describes where a read result came from.
type ReadMeta struct {
	Degraded bool   `json:"degraded"`
	Source   string `json:"source"`
}

// DefaultAssignmentProvider supplies the data set served when both the store and the cache are unavailable.
type DefaultAssignmentProvider interface {
	DefaultAssignments(ctx context.Context) []models.Assignment
}

type staticAssignmentProvider struct {
	items []models.Assignment
}

// NewStaticAssignmentProvider serves a fixed set of assignments.
func NewStaticAssignmentProvider(items []models.Assignment) DefaultAssignmentProvider {
	copied := make([]models.Assignment, len(items))
	copy(copied, items)
	return &staticAssignmentProvider{items: copied}
}

func (p *staticAssignmentProvider) DefaultAssignments(context.Context) []models.Assignment {
	out := make([]models.Assignment, len(p.items))
	copy(out, p.items)
	return out
}

// ListingCache keeps the last good read result per key.
type ListingCache interface {
	Load(ctx context.Context, key string, dest interface{}) bool
	Store(ctx context.Context, key string, value interface{})
}

type redisListingCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisListingCache builds a Redis backed cache. A nil client disables caching.
func NewRedisListingCache(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) ListingCache {
	if client == nil {
		return noopListingCache{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if prefix == "" {
		prefix = "campus"
	}
	return &redisListingCache{
		client: client,
		prefix: prefix + ":cache:",
		ttl:    ttl,
		logger: logger.With().Str("component", "listing_cache").Logger(),
	}
}

func (c *redisListingCache) Load(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry corrupt")
		return false
	}
	return true
}

func (c *redisListingCache) Store(ctx context.Context, key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

type noopListingCache struct{}

func (noopListingCache) Load(context.Context, string, interface{}) bool { return false }

func (noopListingCache) Store(context.Context, string, interface{}) {}

func filterDefaults(items []models.Assignment, filter repository.AssignmentFilter) []models.Assignment {
	out := make([]models.Assignment, 0, len(items))
	for _, item := range items {
		if filter.FacultyID != "" && item.FacultyID != filter.FacultyID {
			continue
		}
		if filter.ClassID != "" && item.ClassID != filter.ClassID {
			continue
		}
		if filter.Department != "" && item.FacultyDepartment != filter.Department {
			continue
		}
		if filter.VisibleOnly && !item.Visibility {
			continue
		}
		out = append(out, item)
	}
	return out
}

func findDefault(items []models.Assignment, id string) (models.Assignment, bool) {
	idx := slices.IndexFunc(items, func(item models.Assignment) bool { return item.ID == id })
	if idx < 0 {
		return models.Assignment{}, false
	}
	return items[idx], true
}
