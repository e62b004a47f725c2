package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mimamori/internal/camera"
	"mimamori/internal/events"
	"mimamori/internal/logging"
	"mimamori/internal/metrics"
	"mimamori/internal/mjpeg"
)

// wsWriteTimeout はWebSocketの1フレームの書き込み期限
const wsWriteTimeout = 5 * time.Second

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	Cameras   int        `json:"cameras"`
	Capturing int        `json:"capturing"`
	Viewers   int64      `json:"viewers"`
	Uptime    string     `json:"uptime"`
	Timestamp time.Time  `json:"timestamp"`
}

// CamerasResponse はカメラ一覧のレスポンス
type CamerasResponse struct {
	Cameras []camera.Camera `json:"cameras"`
}

// LogLevelRequest はモジュールのログレベル変更要求
type LogLevelRequest struct {
	Module string `json:"module" binding:"required"`
	Level  string `json:"level" binding:"required,oneof=debug info warn warning error"`
}

// newEngine はルーティングを設定したginエンジンを作成する
func (s *Server) newEngine() (*gin.Engine, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.SetHTMLTemplate(tmpl)

	engine.GET("/", s.handleIndex)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/cameras", s.handleCameras)
	api.GET("/cameras/:deviceId", s.handleCamera)
	api.GET("/events", s.handleEvents)
	api.PUT("/log-level", s.handleLogLevel)

	engine.GET("/:deviceId/frame", s.handleFrame)
	engine.GET("/:deviceId/stream", s.handleStream)
	engine.GET("/:deviceId/ws", s.handleWebSocket)

	return engine, nil
}

// requestLogger はリクエストをslogで記録するミドルウェア
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("リクエストを処理しました",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}

// handleIndex はカメラ一覧のHTMLページを返す
func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":   "mimamori",
		"Cameras": s.manager.GetCameras(),
	})
}

// handleHealth はヘルスチェック
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はシステム状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	cameras := s.manager.GetCameras()

	response := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Cameras:   len(cameras),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	for _, cam := range cameras {
		if cam.State == camera.StateCapturing {
			response.Capturing++
		}
		response.Viewers += cam.Viewers
	}

	c.JSON(http.StatusOK, response)
}

// handleCameras はカメラ一覧を返す
func (s *Server) handleCameras(c *gin.Context) {
	c.JSON(http.StatusOK, CamerasResponse{Cameras: s.manager.GetCameras()})
}

// handleCamera は1台のカメラの状態を返す
func (s *Server) handleCamera(c *gin.Context) {
	cam, found := s.manager.GetCamera(c.Param("deviceId"))
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "camera_not_found",
			Message:   "指定されたカメラが見つかりません",
			Timestamp: time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, cam)
}

// handleEvents は状態遷移と視聴者数の変化をServer-Sent Eventsで配信する
func (s *Server) handleEvents(c *gin.Context) {
	ch := make(chan any, 32)
	unsubscribers := []func(){
		events.SubscribeToChannel[events.StateChangedEvent](s.bus, ch),
		events.SubscribeToChannel[events.ViewersChangedEvent](s.bus, ch),
	}
	defer func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}()

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("cameras", CamerasResponse{Cameras: s.manager.GetCameras()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-ch:
			switch e := ev.(type) {
			case events.StateChangedEvent:
				c.SSEvent("state", e)
			case events.ViewersChangedEvent:
				c.SSEvent("viewers", e)
			}
			return true
		}
	})
}

// handleLogLevel は実行中にモジュールのログレベルを変更する
func (s *Server) handleLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	if !logging.SetModuleLevel(req.Module, req.Level) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "module_not_found",
			Message:   "指定されたモジュールのロガーがありません",
			Timestamp: time.Now(),
		})
		return
	}

	s.logger.Info("ログレベルを変更しました", "target", req.Module, "level", req.Level)
	c.JSON(http.StatusOK, req)
}

// handleFrame は最新フレームを1枚返す
// 未設定・無効なデバイスでもプレースホルダー画像を200で返す
func (s *Server) handleFrame(c *gin.Context) {
	deviceID := c.Param("deviceId")

	release := s.manager.Acquire(deviceID)
	defer release()

	frame, err := s.manager.NextFrame(c.Request.Context(), deviceID)
	if err != nil {
		// クライアントが待ち切れずに切断した
		s.logger.Debug("スナップショットを中断しました", "device_id", deviceID, "error", err)
		return
	}

	c.Header("Cache-Control", "no-cache, private")
	c.Data(http.StatusOK, "image/jpeg", frame)
	metrics.AddFramesServed(deviceID, metrics.ModeSnapshot, 1)
}

// handleStream はMJPEGストリームを配信する
func (s *Server) handleStream(c *gin.Context) {
	deviceID := c.Param("deviceId")
	viewerID := uuid.NewString()
	logger := s.logger.With("device_id", deviceID, "viewer_id", viewerID)

	release := s.manager.Acquire(deviceID)
	defer release()

	c.Header("Age", "0")
	c.Header("Cache-Control", "no-cache, private")
	c.Header("Pragma", "no-cache")
	c.Header("Content-Type", mjpeg.ContentType)
	c.Status(http.StatusOK)

	logger.Info("ストリームを開始しました", "remote", c.ClientIP())

	frames, err := mjpeg.Stream(c.Request.Context(), c.Writer, s.manager.Frames(deviceID))
	metrics.AddFramesServed(deviceID, metrics.ModeStream, frames)

	switch {
	case err == nil:
		logger.Info("ストリームを終了しました", "frames", frames)
	case errors.Is(err, mjpeg.ErrPeerGone):
		metrics.IncStreamDisconnects(deviceID)
		logger.Info("クライアントが切断しました", "frames", frames)
	default:
		logger.Warn("ストリームが異常終了しました", "frames", frames, "error", err)
	}
}

// handleWebSocket はJPEGフレームをWebSocketのバイナリメッセージで配信する
func (s *Server) handleWebSocket(c *gin.Context) {
	deviceID := c.Param("deviceId")
	logger := s.logger.With("device_id", deviceID, "viewer_id", uuid.NewString())

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		logger.Warn("WebSocketへの切り替えに失敗しました", "error", err)
		return
	}
	defer conn.Close()

	release := s.manager.Acquire(deviceID)
	defer release()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// クライアントからのメッセージは読み捨て、切断を検知する
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	logger.Info("WebSocket配信を開始しました", "remote", c.ClientIP())

	seq := s.manager.Frames(deviceID)
	sent := 0
	defer func() {
		metrics.AddFramesServed(deviceID, metrics.ModeWebSocket, sent)
		logger.Info("WebSocket配信を終了しました", "frames", sent)
	}()

	for {
		frame, err := seq.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// シーケンスの終端。正常にクローズする
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
			}
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			metrics.IncStreamDisconnects(deviceID)
			logger.Info("クライアントが切断しました", "error", err)
			return
		}
		sent++
	}
}
