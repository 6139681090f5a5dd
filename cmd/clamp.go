package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"Anicut/server"

	"github.com/spf13/cobra"
)

var clampProject string

var clampCmd = &cobra.Command{
	Use:   "clamp",
	Short: "修正超长片段",
	Long:  `将项目中时长超过30秒的片段改为30秒，单个片段失败时跳过并继续。`,
	Run: func(cmd *cobra.Command, args []string) {
		if clampProject == "" {
			log.Fatal("需要指定 --project")
		}
		app, err := server.NewApp(cfg)
		if err != nil {
			log.Fatalf("初始化失败: %v", err)
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		n, err := app.Engine.EnforceDurationCeiling(ctx, clampProject)
		if err != nil {
			log.Fatalf("修正失败: %v", err)
		}
		fmt.Printf("项目 %s 已修正 %d 个片段\n", clampProject, n)
	},
}

func init() {
	rootCmd.AddCommand(clampCmd)
	clampCmd.Flags().StringVar(&clampProject, "project", "", "项目ID")
}
