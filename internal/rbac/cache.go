package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Generation identifies a version of cached entries. Tenant changes with every
// write to the tenant's roles and assignments; Catalog changes when a
// permission is renamed or deleted, which affects every tenant.
type Generation struct {
	Catalog int64
	Tenant  int64
}

// PermissionCache remembers effective permission names per user. Entries are
// keyed by tenant and generation; bumping either generation invalidates the
// entries it covers at once.
type PermissionCache interface {
	// Get returns the cached names and the generation they were looked up
	// under. On a miss ok is false and generation is still valid for Set.
	Get(ctx context.Context, tenantID, userID uuid.UUID) (names []string, generation Generation, ok bool, err error)
	Set(ctx context.Context, tenantID, userID uuid.UUID, generation Generation, names []string) error
	Invalidate(ctx context.Context, tenantID uuid.UUID) error

	// InvalidateAll drops the entries of every tenant.
	InvalidateAll(ctx context.Context) error
}

const defaultCacheTTL = 5 * time.Minute

// RedisCache implements PermissionCache on Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ PermissionCache = (*RedisCache)(nil)

// NewRedisCache stores entries for ttl; zero selects five minutes.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, prefix: "tenantcore:perms", ttl: ttl}
}

func (c *RedisCache) catalogGenerationKey() string {
	return c.prefix + ":gen"
}

func (c *RedisCache) generationKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:gen", c.prefix, tenantID)
}

func (c *RedisCache) entryKey(tenantID uuid.UUID, generation Generation, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%d.%d:%s", c.prefix, tenantID, generation.Catalog, generation.Tenant, userID)
}

func (c *RedisCache) generation(ctx context.Context, tenantID uuid.UUID) (Generation, error) {
	vals, err := c.client.MGet(ctx, c.catalogGenerationKey(), c.generationKey(tenantID)).Result()
	if err != nil {
		return Generation{}, err
	}

	var gen Generation
	for i, dst := range []*int64{&gen.Catalog, &gen.Tenant} {
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		if *dst, err = strconv.ParseInt(s, 10, 64); err != nil {
			return Generation{}, err
		}
	}
	return gen, nil
}

func (c *RedisCache) Get(ctx context.Context, tenantID, userID uuid.UUID) ([]string, Generation, bool, error) {
	gen, err := c.generation(ctx, tenantID)
	if err != nil {
		return nil, Generation{}, false, fmt.Errorf("failed to read cache generation: %w", err)
	}

	val, err := c.client.Get(ctx, c.entryKey(tenantID, gen, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("failed to read cached permissions: %w", err)
	}

	if val == "" {
		return []string{}, gen, true, nil
	}
	return strings.Split(val, ","), gen, true, nil
}

// Set stores names; permission names never contain commas.
func (c *RedisCache) Set(ctx context.Context, tenantID, userID uuid.UUID, generation Generation, names []string) error {
	err := c.client.Set(ctx, c.entryKey(tenantID, generation, userID), strings.Join(names, ","), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache permissions: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	if err := c.client.Incr(ctx, c.generationKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.catalogGenerationKey()).Err(); err != nil {
		return fmt.Errorf("failed to bump catalog cache generation: %w", err)
	}
	return nil
}
