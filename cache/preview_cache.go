package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Anicut/model"

	"github.com/go-redis/redis/v8"
)

const defaultPreviewTTL = 10 * time.Minute

// PreviewCache 项目预览缓存，键为 preview:<projectID>
type PreviewCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPreviewCache 创建预览缓存，ttl<=0 时使用默认值
func NewPreviewCache(client *redis.Client, ttl time.Duration) *PreviewCache {
	if ttl <= 0 {
		ttl = defaultPreviewTTL
	}
	return &PreviewCache{client: client, ttl: ttl}
}

// Get 未命中时返回 nil, nil
func (c *PreviewCache) Get(ctx context.Context, projectID string) (*model.Composition, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, PreviewKey(projectID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var comp model.Composition
	if err := json.Unmarshal(data, &comp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preview: %w", err)
	}
	return &comp, nil
}

// Set 写入预览
func (c *PreviewCache) Set(ctx context.Context, projectID string, comp *model.Composition) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(comp)
	if err != nil {
		return fmt.Errorf("failed to marshal preview: %w", err)
	}
	return c.client.Set(ctx, PreviewKey(projectID), data, c.ttl).Err()
}

// Delete 使预览失效
func (c *PreviewCache) Delete(ctx context.Context, projectID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Del(ctx, PreviewKey(projectID)).Err()
}
