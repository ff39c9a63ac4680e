package namespace

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry is a Registry backed by a single Redis hash, for operators
// running multiple engine processes against one shared backend who want the
// namespace catalog visible outside one process. Grounded on the teacher's
// nil-safe Redis cache wrapper (internal/skills/redis_cache.go): a
// UniversalClient plus one hash key. Redis errors are returned to the
// caller as-is; the registry tracks namespace counts only and never holds
// fragment data.
type RedisRegistry struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRegistry wraps an existing redis client. key is the hash name
// holding namespace -> active-count entries (default "hindsight:namespaces").
func NewRedisRegistry(client redis.UniversalClient, key string) *RedisRegistry {
	if key == "" {
		key = "hindsight:namespaces"
	}
	return &RedisRegistry{client: client, key: key}
}

func (r *RedisRegistry) Touch(ctx context.Context, namespace string, delta int64) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	newVal, err := r.client.HIncrBy(cctx, r.key, namespace, delta).Result()
	if err != nil {
		return err
	}
	if newVal <= 0 {
		r.client.HDel(cctx, r.key, namespace)
	}
	return nil
}

func (r *RedisRegistry) Count(ctx context.Context, namespace string) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	v, err := r.client.HGet(cctx, r.key, namespace).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (r *RedisRegistry) ActiveNamespaceCount(ctx context.Context) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := r.client.HLen(cctx, r.key).Result()
	return n, err
}

func (r *RedisRegistry) List(ctx context.Context) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	m, err := r.client.HGetAll(cctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for ns := range m {
		out = append(out, ns)
	}
	return out, nil
}
