package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragpipeline/internal/pipelineerr"
)

// RedisStore persists checkpoints in Redis under "checkpoint:{tool_id}",
// grounded on the teacher's RedisDedupeStore: ping on construct, a small
// fixed timeout for connectivity checks, and plain key/value operations.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to addr and verifies connectivity with a 3s
// deadline before returning.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "redis ping", err)
	}
	return &RedisStore{client: client}, nil
}

func checkpointKey(toolID string) string {
	return fmt.Sprintf("checkpoint:%s", toolID)
}

func (s *RedisStore) Load(ctx context.Context, toolID string) (Checkpoint, bool, error) {
	raw, err := s.client.Get(ctx, checkpointKey(toolID)).Bytes()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "redis get checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "decode checkpoint", err)
	}
	return cp, true, nil
}

func (s *RedisStore) Save(ctx context.Context, toolID string, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "encode checkpoint", err)
	}
	if err := s.client.Set(ctx, checkpointKey(toolID), raw, 0).Err(); err != nil {
		return pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "redis set checkpoint", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
