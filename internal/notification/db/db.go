// Package db は通知テーブルに対するクエリを提供する。
package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Queries は通知テーブルへのクエリ実行オブジェクト。
type Queries struct {
	db *sqlx.DB
}

// New は新しいQueriesを生成する。
func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

// Notification は notifications テーブルの1行を表す。
type Notification struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	IsRead    int64     `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

const selectColumns = `SELECT id, user_id, title, message, is_read, created_at FROM notifications`

// 同一時刻に作成された通知は後から挿入された方を先に並べる。
const newestFirst = ` ORDER BY created_at DESC, rowid DESC`

const createNotification = `
INSERT INTO notifications (id, user_id, title, message, is_read, created_at)
VALUES (:id, :user_id, :title, :message, 0, :created_at)`

// CreateNotification は未読の通知を1件挿入する。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.NamedExecContext(ctx, createNotification, arg)
	return err
}

// GetNotificationByID はIDで通知を1件取得する。存在しない場合は sql.ErrNoRows を返す。
func (q *Queries) GetNotificationByID(ctx context.Context, id string) (Notification, error) {
	var n Notification
	err := q.db.GetContext(ctx, &n, selectColumns+` WHERE id = ?`, id)
	return n, err
}

// ListNotificationsByUserID はユーザーの通知を新しい順に返す。
func (q *Queries) ListNotificationsByUserID(ctx context.Context, userID string) ([]Notification, error) {
	items := []Notification{}
	err := q.db.SelectContext(ctx, &items, selectColumns+` WHERE user_id = ?`+newestFirst, userID)
	return items, err
}

// ListAllNotifications は全ユーザーの通知を新しい順に返す。
func (q *Queries) ListAllNotifications(ctx context.Context) ([]Notification, error) {
	items := []Notification{}
	err := q.db.SelectContext(ctx, &items, selectColumns+newestFirst)
	return items, err
}

// ListUnreadNotifications はユーザーの未読通知を新しい順に返す。
func (q *Queries) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	items := []Notification{}
	err := q.db.SelectContext(ctx, &items, selectColumns+` WHERE user_id = ? AND is_read = 0`+newestFirst, userID)
	return items, err
}

// CountUnread はユーザーの未読通知数を返す。
func (q *Queries) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID)
	return count, err
}

// MarkAsRead は未読の通知を既読にし、更新した行数を返す。既読済みの場合は0を返す。
func (q *Queries) MarkAsRead(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 0`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkAllAsRead はユーザーの未読通知をすべて既読にし、更新した行数を返す。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
