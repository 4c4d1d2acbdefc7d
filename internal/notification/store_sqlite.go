package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	notificationdb "github.com/nao1215/servicedesk/internal/notification/db"
	"github.com/nao1215/servicedesk/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteに通知を保存するStore実装。
type SQLiteStore struct {
	db      *sqlx.DB
	queries *notificationdb.Queries
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite はSQLiteデータベースを開き、未適用のマイグレーションを実行する。
// pathに ":memory:" を指定するとインメモリDBを使用する（テスト用）。
func OpenSQLite(ctx context.Context, path string, logger logrus.FieldLogger) (*SQLiteStore, error) {
	db, err := migration.OpenSQLite(ctx, path, migrationsFS, "migrations", logger)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, queries: notificationdb.New(db)}, nil
}

// Create は通知を1件保存する。
func (s *SQLiteStore) Create(ctx context.Context, n Notification) error {
	return s.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		ID:        n.ID,
		UserID:    n.RecipientID,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	})
}

// Get はIDで通知を取得する。
func (s *SQLiteStore) Get(ctx context.Context, id string) (Notification, error) {
	row, err := s.queries.GetNotificationByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, err
	}
	return fromRow(row), nil
}

// ListByRecipient は指定ユーザー宛ての通知を返す。
func (s *SQLiteStore) ListByRecipient(ctx context.Context, recipientID string) ([]Notification, error) {
	rows, err := s.queries.ListNotificationsByUserID(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// ListAll は全ユーザーの通知を返す。
func (s *SQLiteStore) ListAll(ctx context.Context) ([]Notification, error) {
	rows, err := s.queries.ListAllNotifications(ctx)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// ListUnreadByRecipient は指定ユーザー宛ての未読通知を返す。
func (s *SQLiteStore) ListUnreadByRecipient(ctx context.Context, recipientID string) ([]Notification, error) {
	rows, err := s.queries.ListUnreadNotifications(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// CountUnread は指定ユーザー宛ての未読通知数を返す。
func (s *SQLiteStore) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	return s.queries.CountUnread(ctx, recipientID)
}

// MarkAsRead は通知を既読にする。
// 未読条件付きのUPDATE1文で行うため、同時に呼ばれても遷移を報告するのは1回だけになる。
func (s *SQLiteStore) MarkAsRead(ctx context.Context, id string) (bool, error) {
	n, err := s.queries.MarkAsRead(ctx, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAllAsRead は指定ユーザーの未読通知をすべて既読にする。
func (s *SQLiteStore) MarkAllAsRead(ctx context.Context, recipientID string) (int64, error) {
	return s.queries.MarkAllAsRead(ctx, recipientID)
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fromRow(row notificationdb.Notification) Notification {
	return Notification{
		ID:          row.ID,
		RecipientID: row.UserID,
		Title:       row.Title,
		Message:     row.Message,
		Read:        row.IsRead != 0,
		CreatedAt:   row.CreatedAt.UTC(),
	}
}

func fromRows(rows []notificationdb.Notification) []Notification {
	items := make([]Notification, 0, len(rows))
	for _, row := range rows {
		items = append(items, fromRow(row))
	}
	return items
}
