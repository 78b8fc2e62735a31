package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/pkg/middleware"
)

// Server はGatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// devTokens は開発用トークンの発行を許可するかどうか。
	devTokens bool
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
	// client は内部サービスへのHTTPクライアント。
	client *http.Client
	// hubProxy は通知ハブへのWebSocket中継。
	hubProxy *httputil.ReverseProxy
	// logger は構造化ロガー。
	logger *slog.Logger
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	Performance  string
	Workforce    string
	Notification string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	hubURL, err := url.Parse(cfg.NotificationURL)
	if err != nil {
		return nil, fmt.Errorf("通知ハブのURLが不正です: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(nil))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router:    router,
		port:      cfg.Port,
		jwtSecret: cfg.JWTSecret,
		devTokens: cfg.DevTokens,
		serviceURLs: serviceURLConfig{
			Performance:  cfg.PerformanceURL,
			Workforce:    cfg.WorkforceURL,
			Notification: cfg.NotificationURL,
		},
		client:   &http.Client{Timeout: 30 * time.Second},
		hubProxy: httputil.NewSingleHostReverseProxy(hubURL),
		logger:   logger.With(slog.String("component", "gateway")),
	}
	s.hubProxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn("通知ハブへの中継に失敗しました", slog.String("path", r.URL.Path), slog.Any("error", err))
		w.WriteHeader(http.StatusBadGateway)
	}
	s.setupRoutes()
	return s, nil
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

	s.logger.Info("Gatewayを起動します", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 開発用トークン発行（認証不要）
	s.router.POST("/auth/dev-token", s.handleDevToken())

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// パフォーマンス照会
		perf := s.forward(s.serviceURLs.Performance)
		api.GET("/performance/feed", perf)
		api.GET("/performance/top-performers", perf)
		api.GET("/performance/needs-attention", perf)
		api.GET("/performance/employee/:id/snapshot", perf)
		api.GET("/performance/employee/:id/timeline", perf)

		// 書き込みAPI
		wf := s.forward(s.serviceURLs.Workforce)
		api.GET("/employees", wf)
		api.POST("/employees", wf)
		api.GET("/attendance", wf)
		api.GET("/attendance/today", wf)
		api.GET("/attendance/employee/:empId", wf)
		api.GET("/attendance/date/:date", wf)
		api.POST("/attendance/mark", wf)
		api.PUT("/attendance/:id", wf)
		api.GET("/tasks", wf)
		api.POST("/tasks", wf)
		api.PUT("/tasks/:id", wf)
		api.DELETE("/tasks/:id", wf)
		api.GET("/messages", wf)
		api.GET("/messages/recipient/:email", wf)
		api.GET("/messages/:id", wf)
		api.POST("/messages", wf)
		api.PUT("/messages/:id", wf)
		api.DELETE("/messages/:id", wf)
		api.POST("/announcements", wf)

		// 通知ハブ
		api.GET("/notifications/ws", s.handleWebSocket())
		api.GET("/notifications/stats", s.forward(s.serviceURLs.Notification))
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// EmpID は従業員ID。
	EmpID string `json:"empId" binding:"required"`
	// Name は表示名。
	Name string `json:"name"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Role は役割。省略時はemployee。
	Role string `json:"role"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// DevTokensが無効な場合は404を返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.devTokens {
			c.JSON(http.StatusNotFound, gin.H{"error": "開発用トークンは無効です"})
			return
		}

		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Role == "" {
			req.Role = "employee"
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, middleware.JWTClaims{
			EmpID: req.EmpID,
			Name:  req.Name,
			Email: req.Email,
			Role:  req.Role,
		})
		if err != nil {
			s.logger.Error("JWT生成に失敗しました", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "empId": req.EmpID})
	}
}

// handleWebSocket は通知ハブへのWebSocket接続をそのまま中継するハンドラを返す。
// トークンはハブ側でも検証されるため、クエリとヘッダーはそのまま渡す。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.hubProxy.ServeHTTP(c.Writer, c.Request)
	}
}

// forward はリクエストを同じパスのままbaseURLのサービスへ転送するハンドラを返す。
func (s *Server) forward(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンとアイデンティティヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-Identity", middleware.GetIdentity(c))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("内部サービスとの通信に失敗しました", slog.String("url", url), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}
