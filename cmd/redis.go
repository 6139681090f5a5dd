package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"Anicut/cache"
	"Anicut/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试预览缓存与webhook去重使用的Redis连接，并进行基本读写操作。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s, DB: %d\n", db.RedisAddr(cfg), cfg.RedisDB)

		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer db.CloseRedis()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println("开始测试Redis基本操作...")
		if err := db.TestRedis(ctx); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		dedupe, err := cache.DialWebhookDedupe(ctx, cfg)
		if err != nil {
			log.Fatalf("webhook去重客户端连接失败: %v", err)
		}
		defer dedupe.Close()
		requestID := fmt.Sprintf("redis-check-%d", time.Now().UnixNano())
		first, err := dedupe.FirstSeen(ctx, requestID, "OK")
		if err != nil || !first {
			log.Fatalf("webhook去重测试失败: first=%v err=%v", first, err)
		}
		if err := dedupe.Forget(ctx, requestID, "OK"); err != nil {
			log.Printf("清理去重记录失败: %v", err)
		}
		fmt.Println("webhook去重测试成功，Redis测试完成。")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
