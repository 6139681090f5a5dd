package cmd

import (
	"Anicut/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动Anicut服务器",
	Long:  `启动Anicut视频编辑器的HTTP服务器，提供项目、时间轴、素材与角色训练的API以及编辑会话WebSocket`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
