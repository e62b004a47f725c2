// Package cmd はmimamoriのコマンドラインを実装する
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"mimamori/internal/config"
)

// NewRootCmd はルートコマンドを作成する
// サブコマンドを省略するとserveとして動く
func NewRootCmd() *cobra.Command {
	serve := NewServeCmd()

	root := &cobra.Command{
		Use:   config.AppName,
		Short: "カメラ映像をHTTPで配信するサーバー",
		Long: `V4L2カメラなどのキャプチャデバイスを、JPEGスナップショットとMJPEGストリームとしてHTTPで配信します。` +
			`視聴者がいる間だけデバイスを開きます。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, NewDevicesCmd(), NewProbeCmd())
	return root
}

// Execute はコマンドを実行する
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("エラー:", err)
		os.Exit(1)
	}
}
