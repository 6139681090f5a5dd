package cache

import (
	"context"
	"fmt"
	"time"

	"Anicut/config"

	"github.com/redis/go-redis/v9"
)

const (
	webhookSeenKey = "webhook:fal:%s:%s" // requestID, status
	webhookSeenTTL = 24 * time.Hour

	// 回调处理路径上的 Redis 调用要快速失败，超时后按首次投递处理
	dedupeDialTimeout = 2 * time.Second
	dedupeOpTimeout   = 500 * time.Millisecond
	dedupePoolSize    = 4
)

// WebhookDedupe 记录已处理的 fal 回调，重复投递直接确认
type WebhookDedupe struct {
	client *redis.Client
}

// NewWebhookDedupe client 为 nil 时所有回调都视为首次
func NewWebhookDedupe(client *redis.Client) *WebhookDedupe {
	return &WebhookDedupe{client: client}
}

// dedupeOptions 与预览缓存共用地址，但使用独立的小连接池和短超时
func dedupeOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  dedupeDialTimeout,
		ReadTimeout:  dedupeOpTimeout,
		WriteTimeout: dedupeOpTimeout,
		PoolSize:     dedupePoolSize,
	}
}

// DialWebhookDedupe 连接 Redis 并确认可用，失败时不保留客户端
func DialWebhookDedupe(ctx context.Context, cfg *config.Config) (*WebhookDedupe, error) {
	client := redis.NewClient(dedupeOptions(cfg))

	ctx, cancel := context.WithTimeout(ctx, dedupeDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &WebhookDedupe{client: client}, nil
}

// Close 关闭去重客户端
func (d *WebhookDedupe) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// FirstSeen 首次见到该 requestID+status 时返回 true
func (d *WebhookDedupe) FirstSeen(ctx context.Context, requestID, status string) (bool, error) {
	if d == nil || d.client == nil || requestID == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, fmt.Sprintf(webhookSeenKey, requestID, status), time.Now().Unix(), webhookSeenTTL).Result()
	if err != nil {
		return true, fmt.Errorf("failed to record webhook: %w", err)
	}
	return ok, nil
}

// Forget 处理失败时删除记录，允许 fal 重试
func (d *WebhookDedupe) Forget(ctx context.Context, requestID, status string) error {
	if d == nil || d.client == nil || requestID == "" {
		return nil
	}
	return d.client.Del(ctx, fmt.Sprintf(webhookSeenKey, requestID, status)).Err()
}
