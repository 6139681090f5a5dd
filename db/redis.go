package db

import (
	"context"
	"fmt"
	"time"

	"Anicut/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient 全局Redis客户端
var RedisClient *redis.Client

// RedisAddr Redis 地址
func RedisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
}

// ConnectRedis 初始化Redis连接
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     RedisAddr(cfg),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// TestRedis 写入、读取并删除一个检查键
func TestRedis(ctx context.Context) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	const checkKey = "anicut:redis-check"
	const checkVal = "ok"
	if err := RedisClient.Set(ctx, checkKey, checkVal, time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	val, err := RedisClient.Get(ctx, checkKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != checkVal {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}
	return RedisClient.Del(ctx, checkKey).Err()
}
