// Package db はイベントテーブルに対するクエリを提供する。
package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Queries はイベントテーブルへのクエリ実行オブジェクト。
type Queries struct {
	db *sqlx.DB
}

// New は新しいQueriesを生成する。
func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

// Event は events テーブルの1行を表す。
type Event struct {
	ID            string    `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	Data          string    `db:"data"`
	Version       int64     `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

// AppendEventParams はAppendEventの引数。
type AppendEventParams struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Data          string
	CreatedAt     time.Time
}

const selectEvent = `SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at FROM events`

// AppendEvent はAggregateの最新バージョン+1でイベントを追記し、割り当てたバージョンを返す。
// バージョンの採番と挿入は1文で行う。
func (q *Queries) AppendEvent(ctx context.Context, arg AppendEventParams) (int64, error) {
	var version int64
	err := q.db.QueryRowxContext(ctx, `
INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
SELECT ?, ?, ?, ?, ?, COALESCE(MAX(version), 0) + 1, ?
FROM events WHERE aggregate_id = ?
RETURNING version`,
		arg.ID, arg.AggregateID, arg.AggregateType, arg.EventType, arg.Data, arg.CreatedAt, arg.AggregateID,
	).Scan(&version)
	return version, err
}

// ListEvents は全イベントを記録順に取得する。
func (q *Queries) ListEvents(ctx context.Context) ([]Event, error) {
	var events []Event
	err := q.db.SelectContext(ctx, &events, selectEvent+` ORDER BY created_at ASC, rowid ASC`)
	return events, err
}

// GetEventsByAggregateID はAggregateのイベントをバージョン順に取得する。
func (q *Queries) GetEventsByAggregateID(ctx context.Context, aggregateID string) ([]Event, error) {
	var events []Event
	err := q.db.SelectContext(ctx, &events, selectEvent+` WHERE aggregate_id = ? ORDER BY version ASC`, aggregateID)
	return events, err
}

// GetEventsByType はイベントタイプが一致するイベントを記録順に取得する。
func (q *Queries) GetEventsByType(ctx context.Context, eventType string) ([]Event, error) {
	var events []Event
	err := q.db.SelectContext(ctx, &events,
		selectEvent+` WHERE event_type = ? ORDER BY created_at ASC, rowid ASC`, eventType)
	return events, err
}

// GetEventsSince はsince以降に記録されたイベントを記録順に取得する。
func (q *Queries) GetEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	var events []Event
	err := q.db.SelectContext(ctx, &events,
		selectEvent+` WHERE created_at >= ? ORDER BY created_at ASC, rowid ASC`, since)
	return events, err
}

// GetLatestVersion はAggregateの最新バージョンを返す。イベントが無い場合は0。
func (q *Queries) GetLatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := q.db.GetContext(ctx, &version,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID)
	return version, err
}
