package gateway

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	gatewaydb "github.com/nao1215/servicedesk/internal/gateway/db"
	"github.com/nao1215/servicedesk/pkg/httpclient"
	"github.com/nao1215/servicedesk/pkg/middleware"
	"github.com/nao1215/servicedesk/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// shutdownTimeout は処理中のリクエストの完了を待つ上限。
	shutdownTimeout = 10 * time.Second
	// devProvider は開発用トークンで作成したユーザーのプロバイダ名。
	devProvider = "dev"
	// proxyBufferSize は中継時に1回で読み込む最大バイト数。
	proxyBufferSize = 4096
)

// 中継しないホップバイホップヘッダー。
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Content-Length":    {},
}

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg Config
	// queries はユーザーテーブルへのクエリ実行オブジェクト。
	queries *gatewaydb.Queries
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// notification は通知サービスへの中継に使うクライアント。ストリームのためタイムアウトしない。
	notification *httpclient.Client
	// logger はサービス共通のロガー。
	logger logrus.FieldLogger
}

// OpenDB はユーザーを保存するSQLiteデータベースを開き、マイグレーションを実行する。
// pathに ":memory:" を指定するとインメモリDBを使用する（テスト用）。
func OpenDB(ctx context.Context, path string, logger logrus.FieldLogger) (*sqlx.DB, error) {
	return migration.OpenSQLite(ctx, path, migrationsFS, "migrations", logger)
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, db *sqlx.DB, logger logrus.FieldLogger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.FrontendURLs))

	s := &Server{
		router:       router,
		cfg:          cfg,
		queries:      gatewaydb.New(db),
		db:           db,
		notification: httpclient.New(cfg.NotificationURL, httpclient.WithTimeout(0)),
		logger:       logger,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はctxがキャンセルされるまでHTTPサーバーを動かし、終了時にデータベースを閉じる。
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// 中継中のストリームはリクエストのコンテキスト経由で終了させる
	server.BaseContext = func(net.Listener) context.Context { return ctx }

	serveDone := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", server.Addr).Info("Gatewayサービスを起動します")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Gatewayサービスを停止します")
	case err := <-serveDone:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("HTTPサーバーの停止に失敗: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("データベースのクローズに失敗: %w", err))
	}
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/auth")
	{
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		// ユーザー情報
		api.GET("/me", s.handleGetCurrentUser())

		// 通知（プロキシ）
		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleProxy())
			notifications.GET("/unread", s.handleProxy())
			notifications.GET("/unread/count", s.handleProxy())
			notifications.GET("/stream", s.handleProxy())
			notifications.PUT("/:id/read", s.handleProxy())
			notifications.PUT("/read-all", s.handleProxy())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// Email はユーザーのメールアドレス。同じメールアドレスには同じユーザーIDを返す。
	Email string `json:"email" binding:"required,email"`
	// DisplayName は表示名。省略時はメールアドレスを使う。
	DisplayName string `json:"display_name"`
	// Role は権限区分。省略時は user。
	Role middleware.Role `json:"role"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// dev_token_enabled が false の場合は404を返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.DevTokenEnabled {
			c.JSON(http.StatusNotFound, gin.H{"error": "開発用トークンは無効です"})
			return
		}

		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Role == "" {
			req.Role = middleware.RoleUser
		}
		if !req.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不正な権限です: %s", req.Role)})
			return
		}
		if req.DisplayName == "" {
			req.DisplayName = req.Email
		}

		user, err := s.upsertDevUser(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの保存に失敗しました"})
			s.logger.WithError(err).Error("開発ユーザーの保存に失敗しました")
			return
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, user.ID, user.Email, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			s.logger.WithError(err).Error("JWTの生成に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
			"role":    req.Role,
		})
	}
}

// upsertDevUser はメールアドレスをキーに開発ユーザーを作成または更新する。
func (s *Server) upsertDevUser(ctx context.Context, req devTokenRequest) (gatewaydb.User, error) {
	email := strings.ToLower(req.Email)
	now := time.Now().UTC()

	user, err := s.queries.GetUserByProvider(ctx, devProvider, email)
	if errors.Is(err, sql.ErrNoRows) {
		user = gatewaydb.User{
			ID:             uuid.New().String(),
			Provider:       devProvider,
			ProviderUserID: email,
			Email:          email,
			DisplayName:    req.DisplayName,
			Role:           string(req.Role),
			CreatedAt:      now,
			LastLoginAt:    now,
		}
		return user, s.queries.CreateUser(ctx, user)
	}
	if err != nil {
		return gatewaydb.User{}, err
	}

	if err := s.queries.UpdateLogin(ctx, user.ID, req.DisplayName, string(req.Role), now); err != nil {
		return gatewaydb.User{}, err
	}
	user.DisplayName = req.DisplayName
	user.Role = string(req.Role)
	user.LastLoginAt = now
	return user, nil
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
// 権限はデータベースではなくトークンの値を返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
			s.logger.WithError(err).Error("ユーザーの取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           user.ID,
			"email":        user.Email,
			"display_name": user.DisplayName,
			"role":         middleware.GetRole(c),
			"provider":     user.Provider,
		})
	}
}

// handleProxy は同じパスで通知サービスへ中継するハンドラを返す。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, path)
	}
}

// doProxy はリクエストを通知サービスへ中継し、レスポンスを逐次書き戻す。
// 読み込んだ分ごとにフラッシュするため、イベントストリームもそのまま中継できる。
func (s *Server) doProxy(c *gin.Context, path string) {
	header := http.Header{}
	for _, key := range []string{"Authorization", "Content-Type", "Accept", "Last-Event-ID"} {
		if v := c.GetHeader(key); v != "" {
			header.Set(key, v)
		}
	}

	ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
	resp, err := s.notification.Forward(ctx, c.Request.Method, path, header, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		s.logger.WithError(err).WithField("path", path).Warn("プロキシエラー")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if _, hop := hopHeaders[key]; hop {
			continue
		}
		c.Writer.Header().Del(key)
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	buf := make([]byte, proxyBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := c.Writer.Write(buf[:n]); err != nil {
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && c.Request.Context().Err() == nil {
				s.logger.WithError(readErr).WithField("path", path).Warn("中継中にエラーが発生しました")
			}
			return
		}
	}
}
