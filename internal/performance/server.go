package performance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/pkg/middleware"
)

// Server はパフォーマンス照会サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// engine は集計エンジン。
	engine *Engine
	// logger は構造化ロガー。
	logger *slog.Logger
}

// NewServer は新しいパフォーマンス照会サーバーを生成する。
func NewServer(cfg *config.Config, engine *Engine, logger *slog.Logger) *Server {
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
		engine: engine,
		logger: logger.With(slog.String("component", "performance-server")),
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

	s.logger.Info("パフォーマンス照会サービスを起動します", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		perf := api.Group("/performance")
		{
			perf.GET("/feed", s.handleFeed())
			perf.GET("/top-performers", s.handleTopPerformers())
			perf.GET("/needs-attention", s.handleNeedsAttention())
			perf.GET("/employee/:id/snapshot", s.handleSnapshot())
			perf.GET("/employee/:id/timeline", s.handleTimeline())
		}
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "performance"})
	})
}

// handleFeed は全従業員のイベントフィードを返すハンドラ。
func (s *Server) handleFeed() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.engine.Feed(c.Request.Context())
		if err != nil {
			s.internalError(c, "フィードの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, Views(events))
	}
}

// handleTopPerformers は上位者ランキングを返すハンドラ。
func (s *Server) handleTopPerformers() gin.HandlerFunc {
	return func(c *gin.Context) {
		ranking, err := s.engine.TopPerformers(c.Request.Context())
		if err != nil {
			s.internalError(c, "上位者ランキングの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, ranking)
	}
}

// handleNeedsAttention は要注意ランキングを返すハンドラ。
func (s *Server) handleNeedsAttention() gin.HandlerFunc {
	return func(c *gin.Context) {
		ranking, err := s.engine.NeedsAttention(c.Request.Context())
		if err != nil {
			s.internalError(c, "要注意ランキングの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, ranking)
	}
}

// handleSnapshot は従業員のスナップショットを返すハンドラ。
// 未知の従業員IDでも404ではなく0の集計値を返す。
func (s *Server) handleSnapshot() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := s.engine.Snapshot(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.internalError(c, "スナップショットの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// handleTimeline は従業員のタイムラインを返すハンドラ。
func (s *Server) handleTimeline() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.engine.Timeline(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.internalError(c, "タイムラインの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, Views(events))
	}
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.ErrorContext(c.Request.Context(), msg, slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
