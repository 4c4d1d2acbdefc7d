package eventstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	eventstoredb "github.com/nao1215/servicedesk/internal/eventstore/db"
	"github.com/nao1215/servicedesk/pkg/event"
	"github.com/nao1215/servicedesk/pkg/middleware"
	"github.com/nao1215/servicedesk/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// shutdownTimeout は処理中のリクエストの完了を待つ上限。
const shutdownTimeout = 10 * time.Second

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg Config
	// queries はイベントテーブルへのクエリ実行オブジェクト。
	queries *eventstoredb.Queries
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// logger はサービス共通のロガー。
	logger logrus.FieldLogger
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// OpenDB はイベントを保存するSQLiteデータベースを開き、マイグレーションを実行する。
func OpenDB(ctx context.Context, path string, logger logrus.FieldLogger) (*sqlx.DB, error) {
	return migration.OpenSQLite(ctx, path, migrationsFS, "migrations", logger)
}

// NewServer は新しいイベントストアサーバーを生成する。
func NewServer(cfg Config, db *sqlx.DB, logger logrus.FieldLogger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:  router,
		cfg:     cfg,
		queries: eventstoredb.New(db),
		db:      db,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
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
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", server.Addr).Info("イベントストアサービスを起動します")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("イベントストアサービスを停止します")
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
	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// 全イベント取得
			events.GET("", s.handleGetAllEvents())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since）
			events.GET("/since", s.handleGetEventsSince())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// appendEventRequest はイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	AggregateID   string              `json:"aggregate_id" binding:"required"`
	AggregateType event.AggregateType `json:"aggregate_type" binding:"required"`
	EventType     event.Type          `json:"event_type" binding:"required"`
	Data          json.RawMessage     `json:"data" binding:"required"`
}

// toEvent はDBの行をAPIレスポンス用のイベントへ変換する。
func toEvent(row eventstoredb.Event) event.Event {
	return event.Event{
		ID:            row.ID,
		AggregateID:   row.AggregateID,
		AggregateType: event.AggregateType(row.AggregateType),
		EventType:     event.Type(row.EventType),
		Data:          json.RawMessage(row.Data),
		Version:       row.Version,
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

// toEvents は行のスライスを変換する。結果は空でもnilにしない。
func toEvents(rows []eventstoredb.Event) []event.Event {
	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, toEvent(row))
	}
	return events
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dataが不正なJSONです"})
			return
		}

		params := eventstoredb.AppendEventParams{
			ID:            uuid.New().String(),
			AggregateID:   req.AggregateID,
			AggregateType: string(req.AggregateType),
			EventType:     string(req.EventType),
			Data:          string(req.Data),
			CreatedAt:     s.now(),
		}
		version, err := s.queries.AppendEvent(c.Request.Context(), params)
		if err != nil {
			s.internalError(c, err, "イベントの追記に失敗しました")
			return
		}

		c.JSON(http.StatusCreated, toEvent(eventstoredb.Event{
			ID:            params.ID,
			AggregateID:   params.AggregateID,
			AggregateType: params.AggregateType,
			EventType:     params.EventType,
			Data:          params.Data,
			Version:       version,
			CreatedAt:     params.CreatedAt,
		}))
	}
}

// handleGetAllEvents は全イベント取得を処理するハンドラを返す。
func (s *Server) handleGetAllEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListEvents(c.Request.Context())
		if err != nil {
			s.internalError(c, err, "イベントの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toEvents(rows))
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.GetEventsByAggregateID(c.Request.Context(), c.Param("aggregate_id"))
		if err != nil {
			s.internalError(c, err, "イベントの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toEvents(rows))
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.GetEventsByType(c.Request.Context(), c.Param("event_type"))
		if err != nil {
			s.internalError(c, err, "イベントの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toEvents(rows))
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
// sinceはRFC3339形式で指定する。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("since")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceパラメータが必要です"})
			return
		}
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはRFC3339形式で指定してください"})
			return
		}

		rows, err := s.queries.GetEventsSince(c.Request.Context(), since.UTC())
		if err != nil {
			s.internalError(c, err, "イベントの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toEvents(rows))
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		version, err := s.queries.GetLatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			s.internalError(c, err, "バージョンの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "version": version})
	}
}

// internalError は500を返してエラーを記録する。
func (s *Server) internalError(c *gin.Context, err error, message string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	s.logger.WithError(err).WithField("path", c.FullPath()).Error(message)
}
