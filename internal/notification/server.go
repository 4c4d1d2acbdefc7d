package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/servicedesk/pkg/event"
	"github.com/nao1215/servicedesk/pkg/httpclient"
	"github.com/nao1215/servicedesk/pkg/middleware"
)

// shutdownTimeout は処理中のリクエストの完了を待つ上限。
const shutdownTimeout = 10 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg Config
	// store は通知の保存先。
	store Store
	// service は通知の作成・取得・既読管理を行う。
	service *Service
	// hub は開いているストリームの一覧。
	hub *Hub
	// subscriber はEvent Storeからチケットイベントを取り込む。無効の場合はnil。
	subscriber *Subscriber
	// logger はサービス共通のロガー。
	logger logrus.FieldLogger
}

// NewServer は新しい通知サーバーを生成する。
// EventStoreURLが設定されている場合は通知の作成・既読化をEvent Storeへ記録する。
func NewServer(cfg Config, store Store, logger logrus.FieldLogger) *Server {
	var (
		publisher   Publisher
		eventClient *httpclient.Client
	)
	if cfg.EventStoreURL != "" {
		eventClient = NewEventStoreClient(cfg.EventStoreURL, cfg.EventStoreTimeout)
		publisher = NewEventStorePublisher(eventClient, logger)
	}

	hub := NewHub()
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:  router,
		cfg:     cfg,
		store:   store,
		service: NewService(store, hub, publisher, logger),
		hub:     hub,
		logger:  logger,
	}
	if eventClient != nil && cfg.Subscriber.Enabled {
		s.subscriber = NewSubscriber(eventClient, s.service, cfg.Subscriber, logger.WithField("component", "subscriber"))
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はctxがキャンセルされるまでHTTPサーバーを動かし、終了時にストリームと保存先を閉じる。
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// ストリームは長時間書き込み続けるためWriteTimeoutは設定しない
		IdleTimeout: 60 * time.Second,
	}

	if s.subscriber != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.subscriber.Run(subCtx)
	}

	serveDone := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", server.Addr).Info("通知サービスを起動します")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("通知サービスを停止します")
	case err := <-serveDone:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	}

	return s.shutdown(server)
}

// shutdown は開いているストリームを終了してからHTTPサーバーと保存先を閉じる。
func (s *Server) shutdown(server *http.Server) error {
	s.hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTPサーバーの停止に失敗: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("保存先のクローズに失敗: %w", err))
	}
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得（管理者は全ユーザー分）
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読通知数
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 新着通知のServer-Sent Eventsストリーム
			notifications.GET("/stream", s.handleStream())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 内部API（チケットサービスから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleService))
		{
			internal.POST("/send", s.handleSend())
			internal.POST("/events", s.handleTicketEvent())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// actorFrom はJWTAuthが設定した認証情報を取り出す。
func actorFrom(c *gin.Context) Actor {
	return Actor{UserID: middleware.GetUserID(c), Role: middleware.GetRole(c)}
}

// respondError はエラーの種類に応じたステータスコードでエラーを返す。
// 想定外のエラーは内容を隠して500を返し、ログに残す。
func (s *Server) respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error(message)
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleList は通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.service.List(c.Request.Context(), actorFrom(c))
		if err != nil {
			s.respondError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toResponses(notifications))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.service.ListUnread(c.Request.Context(), actorFrom(c))
		if err != nil {
			s.respondError(c, err, "未読通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toResponses(notifications))
	}
}

// handleUnreadCount は認証済みユーザーの未読通知数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.service.UnreadCount(c.Request.Context(), actorFrom(c))
		if err != nil {
			s.respondError(c, err, "未読通知数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleStream は接続が切れるかサーバーが停止するまで新着通知を配信するハンドラ。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor.UserID == "" {
			s.respondError(c, ErrUnauthorized, "")
			return
		}

		list := func(ctx context.Context) ([]Notification, error) {
			return s.service.List(ctx, actor)
		}
		sink := newSSESink(c.Writer)
		stream := NewStream(actor, list, sink, s.cfg.Stream, s.logger)
		if !s.hub.Register(stream) {
			stream.Close()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "サーバーは停止処理中です"})
			return
		}
		defer s.hub.Unregister(stream)
		if err := sink.open(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "サーバーは停止処理中です"})
			return
		}

		log := s.logger.WithFields(logrus.Fields{"user_id": actor.UserID, "role": actor.Role})
		log.Debug("通知ストリームを開始しました")
		if err := stream.Run(c.Request.Context()); err != nil {
			log.WithError(err).Warn("通知ストリームを開始できませんでした")
			return
		}
		log.Debug("通知ストリームを終了しました")
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。既読済みでも成功する。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.service.MarkAsRead(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			s.respondError(c, err, "通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toResponse(n))
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.service.MarkAllAsRead(c.Request.Context(), actorFrom(c))
		if err != nil {
			s.respondError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "全通知を既読にしました",
			"updated": updated,
		})
	}
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
}

// handleSend は通知を作成するハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.service.Create(c.Request.Context(), req.UserID, req.Title, req.Message)
		if err != nil {
			s.respondError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, toResponse(n))
	}
}

// handleTicketEvent はチケットイベントを受け取り通知を作成するハンドラ。
func (s *Server) handleTicketEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.service.CreateFromTicketEvent(c.Request.Context(), &ev)
		if err != nil {
			s.respondError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, toResponse(n))
	}
}
