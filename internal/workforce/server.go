package workforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/model"
	"github.com/nao1215/workforce/internal/store"
	"github.com/nao1215/workforce/pkg/middleware"
)

// Store はworkforceサービスが使う永続化層。store.SQLiteStoreが実装する。
type Store interface {
	EmployeeResolver
	ListEmployees(ctx context.Context) ([]model.Employee, error)
	CreateEmployee(ctx context.Context, e model.Employee) (*model.Employee, error)
	ListAttendance(ctx context.Context) ([]model.Attendance, error)
	ListAttendanceByEmployee(ctx context.Context, employeeID string) ([]model.Attendance, error)
	ListAttendanceByDate(ctx context.Context, date time.Time) ([]model.Attendance, error)
	ListTodayAttendance(ctx context.Context) ([]model.Attendance, error)
	MarkAttendance(ctx context.Context, a model.Attendance) (*model.Attendance, error)
	UpdateAttendance(ctx context.Context, a model.Attendance) (*model.Attendance, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CreateTask(ctx context.Context, t model.Task) (*model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) (*model.Task, error)
	ListMessages(ctx context.Context) ([]model.Message, error)
	ListMessagesForRecipient(ctx context.Context, receiver string) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	CreateMessage(ctx context.Context, m model.Message) (*model.Message, error)
	UpdateMessage(ctx context.Context, m model.Message) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) (*model.Message, error)
	CreateAnnouncement(ctx context.Context, a model.Announcement) (*model.Announcement, error)
}

// Server はworkforceサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は業務データの永続化層。
	store Store
	// notifier は書き込み後の通知を担当する。
	notifier *Notifier
	// logger は構造化ロガー。
	logger *slog.Logger
}

// NewServer は新しいworkforceサーバーを生成する。
func NewServer(cfg *config.Config, st Store, notifier *Notifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(nil))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router:   router,
		port:     cfg.Port,
		store:    st,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "workforce-server")),
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

	s.logger.Info("workforceサービスを起動します", slog.String("addr", srv.Addr))
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
		employees := api.Group("/employees")
		{
			employees.GET("", s.handleListEmployees())
			employees.POST("", s.handleCreateEmployee())
		}

		attendance := api.Group("/attendance")
		{
			attendance.GET("", s.handleListAttendance())
			attendance.GET("/today", s.handleTodayAttendance())
			attendance.GET("/employee/:empId", s.handleEmployeeAttendance())
			attendance.GET("/date/:date", s.handleAttendanceByDate())
			attendance.POST("/mark", s.handleMarkAttendance())
			attendance.PUT("/:id", s.handleEditAttendance())
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.handleListTasks())
			tasks.POST("", s.handleCreateTask())
			tasks.PUT("/:id", s.handleUpdateTask())
			tasks.DELETE("/:id", s.handleDeleteTask())
		}

		messages := api.Group("/messages")
		{
			messages.GET("", s.handleListMessages())
			messages.GET("/recipient/:email", s.handleInbox())
			messages.GET("/:id", s.handleGetMessage())
			messages.POST("", s.handleSendMessage())
			messages.PUT("/:id", s.handleEditMessage())
			messages.DELETE("/:id", s.handleDeleteMessage())
		}

		api.POST("/announcements", s.handleCreateAnnouncement())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "workforce"})
	})
}

// createEmployeeRequest は従業員登録リクエストのJSON構造。
type createEmployeeRequest struct {
	// ID は従業員ID。
	ID string `json:"id" binding:"required"`
	// FirstName は名。
	FirstName string `json:"firstName" binding:"required"`
	// LastName は姓。
	LastName string `json:"lastName"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
}

func (s *Server) handleListEmployees() gin.HandlerFunc {
	return func(c *gin.Context) {
		employees, err := s.store.ListEmployees(c.Request.Context())
		if err != nil {
			s.internalError(c, "従業員一覧の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, employees)
	}
}

// handleCreateEmployee は従業員を登録するハンドラ。
func (s *Server) handleCreateEmployee() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createEmployeeRequest
		if !bindJSON(c, &req) {
			return
		}

		emp, err := s.store.CreateEmployee(c.Request.Context(), model.Employee{
			ID:        req.ID,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
		})
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "従業員IDまたはメールアドレスが既に登録されています"})
			return
		}
		if err != nil {
			s.internalError(c, "従業員の登録に失敗しました", err)
			return
		}
		c.JSON(http.StatusCreated, emp)
	}
}

// markAttendanceRequest は勤怠記録リクエストのJSON構造。
type markAttendanceRequest struct {
	// EmployeeID は対象の従業員ID。
	EmployeeID string `json:"employeeId" binding:"required"`
	// IsPresent は出勤したかどうか。
	IsPresent *bool `json:"isPresent" binding:"required"`
	// IsLate は遅刻したかどうか。
	IsLate bool `json:"isLate"`
	// CheckInTime は出勤時刻（HH:MM）。
	CheckInTime *string `json:"checkInTime"`
}

func (s *Server) handleListAttendance() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.store.ListAttendance(c.Request.Context())
		if err != nil {
			s.internalError(c, "勤怠一覧の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func (s *Server) handleTodayAttendance() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.store.ListTodayAttendance(c.Request.Context())
		if err != nil {
			s.internalError(c, "本日の勤怠の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func (s *Server) handleEmployeeAttendance() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.store.ListAttendanceByEmployee(c.Request.Context(), c.Param("empId"))
		if err != nil {
			s.internalError(c, "勤怠履歴の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// handleAttendanceByDate は指定日（2006-01-02形式）の勤怠を返すハンドラ。
func (s *Server) handleAttendanceByDate() gin.HandlerFunc {
	return func(c *gin.Context) {
		day, err := time.Parse(time.DateOnly, c.Param("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "日付はyyyy-MM-dd形式で指定してください"})
			return
		}
		records, err := s.store.ListAttendanceByDate(c.Request.Context(), day)
		if err != nil {
			s.internalError(c, "勤怠の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// handleMarkAttendance は本日の勤怠を記録するハンドラ。
// 記録後、対象の従業員へパフォーマンス更新を通知する。
func (s *Server) handleMarkAttendance() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markAttendanceRequest
		if !bindJSON(c, &req) {
			return
		}

		ctx := c.Request.Context()
		record, err := s.store.MarkAttendance(ctx, model.Attendance{
			EmployeeID:  req.EmployeeID,
			IsPresent:   *req.IsPresent,
			IsLate:      req.IsLate,
			CheckInTime: req.CheckInTime,
			MarkedBy:    middleware.GetIdentity(c),
		})
		if errors.Is(err, store.ErrAttendanceExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "本日の勤怠は既に記録されています"})
			return
		}
		if err != nil {
			s.internalError(c, "勤怠の記録に失敗しました", err)
			return
		}

		s.notifier.AttendanceMarked(ctx, record)
		c.JSON(http.StatusCreated, record)
	}
}

// editAttendanceRequest は勤怠修正リクエストのJSON構造。
type editAttendanceRequest struct {
	// IsPresent は出勤したかどうか。
	IsPresent *bool `json:"isPresent" binding:"required"`
	// IsLate は遅刻したかどうか。
	IsLate bool `json:"isLate"`
	// CheckInTime は出勤時刻（HH:MM）。
	CheckInTime *string `json:"checkInTime"`
}

// handleEditAttendance は勤怠記録を修正するハンドラ。
// 出欠の分類が変わりうるため、対象の従業員へパフォーマンス更新を通知する。
func (s *Server) handleEditAttendance() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req editAttendanceRequest
		if !bindJSON(c, &req) {
			return
		}

		ctx := c.Request.Context()
		record, err := s.store.UpdateAttendance(ctx, model.Attendance{
			ID:          c.Param("id"),
			IsPresent:   *req.IsPresent,
			IsLate:      req.IsLate,
			CheckInTime: req.CheckInTime,
			MarkedBy:    middleware.GetIdentity(c),
		})
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "勤怠記録が見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "勤怠の修正に失敗しました", err)
			return
		}

		s.notifier.AttendanceEdited(ctx, record)
		c.JSON(http.StatusOK, record)
	}
}

// taskRequest はタスク作成・更新リクエストのJSON構造。
// 更新時は指定したフィールドのみ反映する。
type taskRequest struct {
	// Title はタスク名。
	Title *string `json:"title"`
	// Description はタスクの説明。
	Description *string `json:"description"`
	// AssignedToEmployeeID は担当者の従業員ID。
	AssignedToEmployeeID *string `json:"assignedToEmployeeId"`
	// DueDate は期限日。RFC3339または2006-01-02形式。
	DueDate *string `json:"dueDate"`
	// Priority は優先度。
	Priority *string `json:"priority"`
	// Status はタスクの状態。更新時のみ有効。
	Status *model.TaskStatus `json:"status"`
}

// apply はリクエストで指定されたフィールドをタスクへ反映する。
func (r *taskRequest) apply(t *model.Task) error {
	if r.Title != nil {
		t.Title = strings.TrimSpace(*r.Title)
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.AssignedToEmployeeID != nil {
		t.AssignedToEmployeeID = strings.TrimSpace(*r.AssignedToEmployeeID)
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.DueDate != nil {
		due, err := parseDueDate(*r.DueDate)
		if err != nil {
			return err
		}
		t.DueDate = due
	}
	if r.Status != nil {
		if !r.Status.Valid() {
			return fmt.Errorf("不明なタスク状態です: %q", *r.Status)
		}
		t.Status = *r.Status
	}
	return nil
}

// parseDueDate は期限日を解釈する。日付のみの場合はUTCの0時とする。
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("期限日の形式が不正です: %q", s)
	}
	return t, nil
}

func (s *Server) handleListTasks() gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := s.store.ListTasks(c.Request.Context())
		if err != nil {
			s.internalError(c, "タスク一覧の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

// handleCreateTask はタスクを作成し、担当者へ通知するハンドラ。
func (s *Server) handleCreateTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req taskRequest
		if !bindJSON(c, &req) {
			return
		}
		req.Status = nil

		var t model.Task
		if err := req.apply(&t); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if t.Title == "" || t.AssignedToEmployeeID == "" || req.DueDate == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title, assignedToEmployeeId, dueDate は必須です"})
			return
		}

		ctx := c.Request.Context()
		created, err := s.store.CreateTask(ctx, t)
		if err != nil {
			s.internalError(c, "タスクの作成に失敗しました", err)
			return
		}

		s.notifier.TaskCreated(ctx, created)
		c.JSON(http.StatusCreated, created)
	}
}

// handleUpdateTask はタスクを更新し、担当者へ通知するハンドラ。
func (s *Server) handleUpdateTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req taskRequest
		if !bindJSON(c, &req) {
			return
		}

		ctx := c.Request.Context()
		current, err := s.store.GetTask(ctx, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "タスクの取得に失敗しました", err)
			return
		}

		updated := *current
		if err := req.apply(&updated); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		prev, err := s.store.UpdateTask(ctx, updated)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "タスクの更新に失敗しました", err)
			return
		}

		s.notifier.TaskUpdated(ctx, prev, &updated)
		c.JSON(http.StatusOK, updated)
	}
}

// handleDeleteTask はタスクを削除し、担当者へ通知するハンドラ。
func (s *Server) handleDeleteTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		deleted, err := s.store.DeleteTask(ctx, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "タスクの削除に失敗しました", err)
			return
		}

		s.notifier.TaskDeleted(ctx, deleted)
		c.JSON(http.StatusOK, gin.H{"message": "タスクを削除しました", "id": deleted.ID})
	}
}

// sendMessageRequest はメッセージ送信リクエストのJSON構造。
type sendMessageRequest struct {
	// Receiver は受信者のメールアドレス。
	Receiver string `json:"receiver" binding:"required"`
	// Subject は件名。
	Subject string `json:"subject"`
	// Content は本文。
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := s.store.ListMessages(c.Request.Context())
		if err != nil {
			s.internalError(c, "メッセージ一覧の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

// handleSendMessage はメッセージを保存し、受信者へ配信するハンドラ。
// 送信者はトークンのメールアドレス、なければアイデンティティとする。
func (s *Server) handleSendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if !bindJSON(c, &req) {
			return
		}

		sender := middleware.GetEmail(c)
		if sender == "" {
			sender = middleware.GetIdentity(c)
		}

		ctx := c.Request.Context()
		msg, err := s.store.CreateMessage(ctx, model.Message{
			Sender:   sender,
			Receiver: strings.TrimSpace(req.Receiver),
			Subject:  req.Subject,
			Content:  req.Content,
		})
		if err != nil {
			s.internalError(c, "メッセージの送信に失敗しました", err)
			return
		}

		s.notifier.MessageSent(ctx, msg)
		c.JSON(http.StatusCreated, msg)
	}
}

// handleInbox は受信者宛のメッセージを返すハンドラ。1件もなければ404を返す。
func (s *Server) handleInbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := s.store.ListMessagesForRecipient(c.Request.Context(), c.Param("email"))
		if err != nil {
			s.internalError(c, "メッセージの取得に失敗しました", err)
			return
		}
		if len(messages) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージがありません"})
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

func (s *Server) handleGetMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, err := s.store.GetMessage(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "メッセージの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, msg)
	}
}

// editMessageRequest はメッセージ編集リクエストのJSON構造。
// 指定したフィールドのみ反映する。
type editMessageRequest struct {
	Sender   *string `json:"sender"`
	Receiver *string `json:"receiver"`
	Subject  *string `json:"subject"`
	Content  *string `json:"content"`
	Read     *bool   `json:"read"`
}

func (r *editMessageRequest) apply(m *model.Message) error {
	if r.Sender != nil {
		m.Sender = strings.TrimSpace(*r.Sender)
	}
	if r.Receiver != nil {
		m.Receiver = strings.TrimSpace(*r.Receiver)
		if m.Receiver == "" {
			return errors.New("receiverは空にできません")
		}
	}
	if r.Subject != nil {
		m.Subject = *r.Subject
	}
	if r.Content != nil {
		m.Content = *r.Content
	}
	if r.Read != nil {
		m.Read = *r.Read
	}
	return nil
}

// handleEditMessage はメッセージを編集するハンドラ。既読化にも使う。
func (s *Server) handleEditMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req editMessageRequest
		if !bindJSON(c, &req) {
			return
		}

		ctx := c.Request.Context()
		current, err := s.store.GetMessage(ctx, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "メッセージの取得に失敗しました", err)
			return
		}

		updated := *current
		if err := req.apply(&updated); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		prev, err := s.store.UpdateMessage(ctx, updated)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "メッセージの更新に失敗しました", err)
			return
		}

		s.notifier.MessageEdited(ctx, prev, &updated)
		c.JSON(http.StatusOK, updated)
	}
}

func (s *Server) handleDeleteMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		deleted, err := s.store.DeleteMessage(ctx, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
			return
		}
		if err != nil {
			s.internalError(c, "メッセージの削除に失敗しました", err)
			return
		}

		s.notifier.MessageDeleted(ctx, deleted)
		c.JSON(http.StatusOK, deleted)
	}
}

// createAnnouncementRequest はお知らせ投稿リクエストのJSON構造。
type createAnnouncementRequest struct {
	// Title はタイトル。
	Title string `json:"title" binding:"required"`
	// Content は本文。
	Content string `json:"content"`
}

// handleCreateAnnouncement はお知らせを保存し、全接続へ配信するハンドラ。
func (s *Server) handleCreateAnnouncement() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAnnouncementRequest
		if !bindJSON(c, &req) {
			return
		}

		ctx := c.Request.Context()
		a, err := s.store.CreateAnnouncement(ctx, model.Announcement{
			Author:  middleware.GetIdentity(c),
			Title:   req.Title,
			Content: req.Content,
		})
		if err != nil {
			s.internalError(c, "お知らせの投稿に失敗しました", err)
			return
		}

		s.notifier.AnnouncementCreated(ctx, a)
		c.JSON(http.StatusCreated, a)
	}
}

// bindJSON はリクエストボディをデコードする。失敗時は400を返してfalseを返す。
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
		return false
	}
	return true
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.ErrorContext(c.Request.Context(), msg, slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
