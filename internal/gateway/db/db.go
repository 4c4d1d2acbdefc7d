// Package db はユーザーテーブルに対するクエリを提供する。
package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Queries はユーザーテーブルへのクエリ実行オブジェクト。
type Queries struct {
	db *sqlx.DB
}

// New は新しいQueriesを生成する。
func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

// User は users テーブルの1行を表す。
type User struct {
	ID             string    `db:"id"`
	Provider       string    `db:"provider"`
	ProviderUserID string    `db:"provider_user_id"`
	Email          string    `db:"email"`
	DisplayName    string    `db:"display_name"`
	Role           string    `db:"role"`
	CreatedAt      time.Time `db:"created_at"`
	LastLoginAt    time.Time `db:"last_login_at"`
}

const selectUser = `SELECT id, provider, provider_user_id, email, display_name, role, created_at, last_login_at FROM users`

// CreateUser はユーザーを1件挿入する。
func (q *Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.NamedExecContext(ctx, `
INSERT INTO users (id, provider, provider_user_id, email, display_name, role, created_at, last_login_at)
VALUES (:id, :provider, :provider_user_id, :email, :display_name, :role, :created_at, :last_login_at)`, u)
	return err
}

// GetUserByID はIDでユーザーを取得する。存在しない場合は sql.ErrNoRows を返す。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := q.db.GetContext(ctx, &u, selectUser+` WHERE id = ?`, id)
	return u, err
}

// GetUserByProvider はプロバイダとプロバイダ内IDでユーザーを取得する。
func (q *Queries) GetUserByProvider(ctx context.Context, provider, providerUserID string) (User, error) {
	var u User
	err := q.db.GetContext(ctx, &u, selectUser+` WHERE provider = ? AND provider_user_id = ?`, provider, providerUserID)
	return u, err
}

// UpdateLogin は表示名と権限を更新し、最終ログイン日時を記録する。
func (q *Queries) UpdateLogin(ctx context.Context, id, displayName, role string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, role = ?, last_login_at = ? WHERE id = ?`,
		displayName, role, at, id)
	return err
}
