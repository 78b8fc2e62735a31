package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/pkg/event"
	"github.com/nao1215/workforce/pkg/middleware"
)

// Server は通知ハブのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// hub は通知の配信を行うハブ。
	hub *Hub
	// upgrader はHTTP接続をWebSocketへ切り替える。
	upgrader websocket.Upgrader
	// logger は構造化ロガー。
	logger *slog.Logger
}

// NewServer は新しい通知ハブサーバーを生成する。
func NewServer(cfg *config.Config, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(nil))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router: router,
		port:   cfg.Port,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigins(cfg.CORSOrigins),
		},
		logger: logger.With(slog.String("component", "notification-server")),
	}
	s.setupRoutes(cfg.JWTSecret)
	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("通知サービスを起動します", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// allowOrigins はWebSocketのOriginを検査する関数を返す。
// Originヘッダーのないクライアント（ブラウザ以外）は常に許可する。
// "*" が含まれていればどのOriginも許可する。
func allowOrigins(origins []string) func(*http.Request) bool {
	anyOrigin := slices.Contains(origins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || anyOrigin || slices.Contains(origins, origin)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// WebSocket接続
			notifications.GET("/ws", s.handleWebSocket())
			// 接続状況
			notifications.GET("/stats", s.handleStats())
		}

		// 配信依頼（内部API - workforceサービスから呼び出される）
		internal := api.Group("/internal")
		internal.Use(requireRole("service", "admin"))
		{
			internal.POST("/broadcast", s.handleBroadcast())
			internal.POST("/send", s.handleSend())
		}
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// requireRole は指定した役割以外のリクエストを403で拒否する。
func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, middleware.GetRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "この操作を行う権限がありません"})
			return
		}
		c.Next()
	}
}

// handleWebSocket は接続をWebSocketへ切り替え、切断までRegistryに登録するハンドラ。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := middleware.GetIdentity(c)

		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeが応答を書き込み済み
			s.logger.Debug("WebSocketへの切り替えに失敗しました", slog.Any("error", err))
			return
		}

		conn := newWSConn(ws, identity, s.logger)
		reg := s.hub.Registry()
		reg.Register(identity, conn)
		s.logger.Info("接続を登録しました",
			slog.String("identity", identity),
			slog.String("conn_id", conn.ID()),
		)

		go conn.writePump()
		conn.readPump()

		reg.Deregister(conn)
		s.logger.Info("接続を解除しました",
			slog.String("identity", identity),
			slog.String("conn_id", conn.ID()),
		)
	}
}

// handleStats はRegistryの登録状況を返すハンドラ。
func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Registry().Stats())
	}
}

// broadcastRequest は全体配信リクエストのJSON構造。
type broadcastRequest struct {
	// Channel は配信するチャネル名。
	Channel string `json:"channel" binding:"required"`
	// Payload はチャネル固有のデータ。
	Payload json.RawMessage `json:"payload"`
}

// sendRequest は個別配信リクエストのJSON構造。
type sendRequest struct {
	// Identity は配信先のアイデンティティ。
	Identity string `json:"identity" binding:"required"`
	// Channel は配信するチャネル名。
	Channel string `json:"channel" binding:"required"`
	// Payload はチャネル固有のデータ。
	Payload json.RawMessage `json:"payload"`
}

// handleBroadcast は全接続への配信を受け付けるハンドラ。
func (s *Server) handleBroadcast() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req broadcastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		channel, err := event.ParseChannel(req.Channel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.hub.Broadcast(c.Request.Context(), channel, req.Payload); err != nil {
			s.logger.Error("全体配信に失敗しました", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配信に失敗しました"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "配信を受け付けました"})
	}
}

// handleSend は特定アイデンティティへの配信を受け付けるハンドラ。
// 相手が接続していなくても202を返す。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		channel, err := event.ParseChannel(req.Channel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.hub.SendTo(c.Request.Context(), req.Identity, channel, req.Payload); err != nil {
			s.logger.Error("個別配信に失敗しました", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配信に失敗しました"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "配信を受け付けました"})
	}
}
