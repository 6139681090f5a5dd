package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Anicut/core/importer"
	"Anicut/logger"
	"Anicut/model"
	"Anicut/server"

	"github.com/spf13/cobra"
)

var (
	watchProject string
	watchDir     string
	watchSettle  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听目录并导入素材",
	Long:  `监听本地目录，新出现的图片、视频与音频文件写入完成后上传到MinIO，并作为已完成的上传素材加入项目素材库。`,
	Run: func(cmd *cobra.Command, args []string) {
		if watchProject == "" || watchDir == "" {
			log.Fatal("需要指定 --project 与 --dir")
		}
		app, err := server.NewApp(cfg)
		if err != nil {
			log.Fatalf("初始化失败: %v", err)
		}
		defer app.Close()
		if app.Objects == nil {
			log.Fatal("MinIO 不可用，无法导入")
		}

		imp := importer.New(watchProject, app.Media, app.Objects,
			importer.WithSettle(watchSettle),
			importer.WithImportHook(func(item *model.MediaItem) {
				logger.Info("素材已导入",
					logger.String("mediaId", item.ID),
					logger.String("mediaType", string(item.MediaType)),
					logger.String("url", item.URL))
			}),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("开始监听目录", logger.String("dir", watchDir), logger.String("projectId", watchProject))
		if err := imp.Watch(ctx, watchDir); err != nil {
			log.Fatalf("监听失败: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchProject, "project", "", "导入到的项目ID")
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "监听的目录")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", importer.DefaultSettle, "文件停止写入多久后导入")
}
