package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mimamori/internal/camera"
	"mimamori/internal/config"
	"mimamori/internal/events"
	"mimamori/internal/logging"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	manager    camera.Manager
	bus        *events.Bus
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	startedAt  time.Time

	// リクエストのコンテキストの親。シャットダウンでキャンセルしてストリームを終わらせる
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// New は新しいServerインスタンスを作成する
// busがnilの場合、/api/events はイベントを配信しない
func New(cfg *config.Config, manager camera.Manager, bus *events.Bus) (*Server, error) {
	s := &Server{
		config:    cfg,
		manager:   manager,
		bus:       bus,
		logger:    logging.GetLogger("server"),
		startedAt: time.Now(),
		ready:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	engine, err := s.newEngine()
	if err != nil {
		return nil, err
	}
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}
	return s, nil
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Ready はリッスンを開始したら閉じられるチャネルを返す
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr はリッスン中のアドレスを返す
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start はサーバーを起動し、ctxのキャンセルかシグナルで停止する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ServerAddress())
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの実行に失敗: %w", err)
		}
	}()

	close(s.ready)
	notify(s.logger, daemon.SdNotifyReady)

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		s.cancelBase()
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")
	notify(s.logger, daemon.SdNotifyStopping)

	// ストリーム配信中のハンドラーを終わらせる
	s.cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// notify はsystemdに状態を通知する。systemd配下でなければ何もしない
func notify(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("systemdへの通知に失敗しました", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("systemdに通知しました", "state", state)
	}
}
