package cmd

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"Anicut/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioDelete    bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的上传素材、角色训练图片与训练压缩包，支持列出文件、统计、目录树与按前缀删除。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")
		store := storage.NewObjectStore(storage.GetMinioClient(), cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := store.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个对象\n", n)
			return
		}

		objects, stats, err := store.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		switch {
		case minioRecursive:
			fmt.Printf("\n目录结构 (前缀: %s)...\n", minioPrefix)
			printTree(objects, minioPrefix)
		case minioStats:
			printStats(stats)
		default:
			fmt.Printf("\n存储桶中的文件 (前缀: %s)...\n", minioPrefix)
			for _, o := range objects {
				fmt.Printf("%-60s %10s  %s\n", o.Key, storage.FormatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("共 %d 个文件\n", len(objects))
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func printStats(stats *storage.BucketStats) {
	fmt.Println("\n存储桶统计信息:")
	fmt.Printf("  文件总数: %d\n", stats.TotalObjects)
	fmt.Printf("  总大小: %s\n", storage.FormatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Printf("  最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}
	kinds := make([]string, 0, len(stats.ByKind))
	for k := range stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-10s %s\n", k, storage.FormatSize(stats.ByKind[k]))
	}
}

// printTree 按目录层级缩进输出
func printTree(objects []storage.ObjectInfo, prefix string) {
	printed := make(map[string]bool)
	for _, o := range objects {
		rel := strings.TrimPrefix(o.Key, prefix)
		parts := strings.Split(strings.Trim(rel, "/"), "/")
		for depth := 0; depth < len(parts)-1; depth++ {
			dir := path.Join(parts[:depth+1]...)
			if printed[dir] {
				continue
			}
			printed[dir] = true
			fmt.Printf("%s%s/\n", strings.Repeat("  ", depth), parts[depth])
		}
		fmt.Printf("%s%s (%s)\n", strings.Repeat("  ", len(parts)-1), parts[len(parts)-1], storage.FormatSize(o.Size))
	}
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归显示目录结构")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有文件
  anicut_server minio

  # 某个项目上传的素材
  anicut_server minio -p "projects/<projectId>/media/"

  # 显示存储桶统计信息
  anicut_server minio -s

  # 角色训练图片的目录结构
  anicut_server minio -r -p "characters/"

  # 删除某个角色的全部图片与训练包
  anicut_server minio -d -p "characters/<characterId>/"`
}
