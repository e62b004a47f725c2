package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"mimamori/internal/camera"
	"mimamori/internal/config"
	"mimamori/internal/events"
	"mimamori/internal/logging"
	"mimamori/internal/server"
)

// serveOptions はserveコマンドのオプション
type serveOptions struct {
	configFile string
	host       string
	port       int
	logJSON    bool
}

// NewServeCmd はserveコマンドを作成する
func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveOptions{})
}

func newServeCmd(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", config.DefaultPath(), "設定ファイル（.yaml または .toml）")
	cmd.Flags().StringVar(&opts.host, "host", "", "サーバーのホスト（設定ファイルより優先）")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "サーバーのポート（設定ファイルより優先）")
	cmd.Flags().BoolVar(&opts.logJSON, "log-json", false, "ログをJSON形式で出力する")
	return cmd
}

// loadServeConfig は設定ファイルを読み込み、指定されたフラグで上書きする
func loadServeConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("log-json") && opts.logJSON {
		cfg.Logging.Format = "json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runServe はカメラマネージャーとHTTPサーバーを起動し、停止まで待つ
func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logging.Initialize(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Modules: cfg.Logging.Modules,
	})
	logger := logging.GetLogger("cmd")
	gin.SetMode(gin.ReleaseMode)

	bus := events.New()
	unsubscribe := bus.Subscribe(func(ev events.StateChangedEvent) {
		if ev.To == string(camera.StateInvalid) {
			logger.Error("カメラが使用できなくなりました", "device_id", ev.DeviceID, "reason", ev.Reason)
		}
	})
	defer unsubscribe()
	unsubscribeViewers := bus.Subscribe(func(ev events.ViewersChangedEvent) {
		logger.Debug("視聴者数が変化しました", "device_id", ev.DeviceID, "viewers", ev.Viewers)
	})
	defer unsubscribeViewers()

	manager, err := camera.NewManagerFromConfig(cfg, bus)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("カメラマネージャーの開始に失敗しました: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.Warn("カメラマネージャーの停止に失敗しました", "error", err)
		}
	}()

	srv, err := server.New(cfg, manager, bus)
	if err != nil {
		return err
	}

	logger.Info("mimamori サーバーを起動します",
		"addr", cfg.ServerAddress(),
		"devices", len(cfg.Devices),
	)
	return srv.Start(ctx)
}
