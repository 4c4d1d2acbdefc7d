package migration

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MemoryPath はインメモリSQLiteを使うためのパス（テスト用）。
const MemoryPath = ":memory:"

// OpenSQLite はSQLiteデータベースを開き、fsysのdir配下にある未適用のマイグレーションを実行する。
// ファイルの場合はWALモードとビジータイムアウトを有効にする。
func OpenSQLite(ctx context.Context, path string, fsys fs.FS, dir string, logger logrus.FieldLogger) (*sqlx.DB, error) {
	dsn := path
	if path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == MemoryPath {
		// インメモリDBは接続ごとに別DBになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := Run(ctx, db.DB, fsys, dir, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}
