package notification

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/sirupsen/logrus"
)

// CassandraConfig はCassandraストアの接続設定。
type CassandraConfig struct {
	// Hosts は接続先ノードの一覧。
	Hosts []string `mapstructure:"hosts"`
	// Keyspace は使用するキースペース。存在しない場合は作成する。
	Keyspace string `mapstructure:"keyspace"`
}

// CassandraStore はCassandraに通知を保存するStore実装。
// 受信者ごとの一覧用テーブルとID検索用テーブルの2つに同じ内容を書き込む。
type CassandraStore struct {
	session *gocql.Session
	clock   seqClock
	logger  logrus.FieldLogger
}

var _ Store = (*CassandraStore)(nil)

// 同じミリ秒に作成された通知も書き込み順に並ぶよう、受信者テーブルはtimeuuidでクラスタリングする。
var cassandraTables = []string{
	`CREATE TABLE IF NOT EXISTS notifications_by_recipient (
		recipient_id TEXT,
		seq TIMEUUID,
		id TEXT,
		created_at TIMESTAMP,
		title TEXT,
		message TEXT,
		is_read BOOLEAN,
		PRIMARY KEY ((recipient_id), seq)
	) WITH CLUSTERING ORDER BY (seq DESC)`,
	`CREATE TABLE IF NOT EXISTS notifications_by_id (
		id TEXT PRIMARY KEY,
		seq TIMEUUID,
		recipient_id TEXT,
		created_at TIMESTAMP,
		title TEXT,
		message TEXT,
		is_read BOOLEAN
	)`,
}

// seqClock は作成時刻から単調増加するtimeuuidを払い出す。
// 前回と同じかそれより前の時刻が渡された場合は100ナノ秒ずつ進める。
type seqClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *seqClock) next(at time.Time) gocql.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !at.After(c.last) {
		at = c.last.Add(100 * time.Nanosecond)
	}
	c.last = at
	return gocql.UUIDFromTime(at)
}

// compareSeq はCassandraのtimeuuidと同じく時刻、次にバイト列の順で比較する。
func compareSeq(a, b gocql.UUID) int {
	if c := cmp.Compare(a.Timestamp(), b.Timestamp()); c != 0 {
		return c
	}
	return bytes.Compare(a[:], b[:])
}

// cassandraRow はseqを伴う通知の行。
type cassandraRow struct {
	Notification
	seq gocql.UUID
}

// sortNewestFirst は行をseqの新しい順に並べ替える。
func sortNewestFirst(rows []cassandraRow) {
	slices.SortFunc(rows, func(a, b cassandraRow) int {
		return compareSeq(b.seq, a.seq)
	})
}

func notificationsOf(rows []cassandraRow) []Notification {
	items := make([]Notification, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.Notification)
	}
	return items
}

// OpenCassandra はキースペースとテーブルを作成してセッションを開く。
func OpenCassandra(cfg CassandraConfig, logger logrus.FieldLogger) (*CassandraStore, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("Cassandraの接続先が指定されていません")
	}
	if cfg.Keyspace == "" {
		return nil, errors.New("Cassandraのキースペースが指定されていません")
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = "system"
	cluster.Timeout = 5 * time.Second
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("Cassandraへの接続に失敗: %w", err)
	}
	err = session.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		cfg.Keyspace,
	)).Exec()
	session.Close()
	if err != nil {
		return nil, fmt.Errorf("キースペースの作成に失敗: %w", err)
	}

	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	session, err = cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("キースペース %s への接続に失敗: %w", cfg.Keyspace, err)
	}
	for _, stmt := range cassandraTables {
		if err := session.Query(stmt).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("テーブルの作成に失敗: %w", err)
		}
	}

	logger.WithField("keyspace", cfg.Keyspace).Info("Cassandraに接続しました")
	return &CassandraStore{session: session, logger: logger}, nil
}

// Create は2つのテーブルにloggedバッチで通知を書き込む。
func (s *CassandraStore) Create(ctx context.Context, n Notification) error {
	seq := s.clock.next(n.CreatedAt)
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO notifications_by_recipient (recipient_id, seq, id, created_at, title, message, is_read)
		VALUES (?, ?, ?, ?, ?, ?, false)`, n.RecipientID, seq, n.ID, n.CreatedAt, n.Title, n.Message)
	batch.Query(`INSERT INTO notifications_by_id (id, seq, recipient_id, created_at, title, message, is_read)
		VALUES (?, ?, ?, ?, ?, ?, false)`, n.ID, seq, n.RecipientID, n.CreatedAt, n.Title, n.Message)
	return s.session.ExecuteBatch(batch)
}

// Get はIDで通知を取得する。
func (s *CassandraStore) Get(ctx context.Context, id string) (Notification, error) {
	row, err := s.get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	return row.Notification, nil
}

func (s *CassandraStore) get(ctx context.Context, id string) (cassandraRow, error) {
	var r cassandraRow
	err := s.session.Query(`SELECT seq, id, recipient_id, created_at, title, message, is_read
		FROM notifications_by_id WHERE id = ?`, id).WithContext(ctx).
		Scan(&r.seq, &r.ID, &r.RecipientID, &r.CreatedAt, &r.Title, &r.Message, &r.Read)
	if errors.Is(err, gocql.ErrNotFound) {
		return cassandraRow{}, ErrNotFound
	}
	if err != nil {
		return cassandraRow{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// ListByRecipient は受信者パーティションをクラスタリング順（新しい順）に読む。
func (s *CassandraStore) ListByRecipient(ctx context.Context, recipientID string) ([]Notification, error) {
	iter := s.session.Query(`SELECT seq, id, recipient_id, created_at, title, message, is_read
		FROM notifications_by_recipient WHERE recipient_id = ?`, recipientID).WithContext(ctx).Iter()
	rows, err := scanRows(iter)
	if err != nil {
		return nil, err
	}
	return notificationsOf(rows), nil
}

// ListAll は全件を読み込んで新しい順に並べ替える。
func (s *CassandraStore) ListAll(ctx context.Context) ([]Notification, error) {
	iter := s.session.Query(`SELECT seq, id, recipient_id, created_at, title, message, is_read
		FROM notifications_by_id`).WithContext(ctx).Iter()
	rows, err := scanRows(iter)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(rows)
	return notificationsOf(rows), nil
}

// ListUnreadByRecipient は受信者の通知から未読のものだけを返す。
func (s *CassandraStore) ListUnreadByRecipient(ctx context.Context, recipientID string) ([]Notification, error) {
	items, err := s.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(items, func(n Notification) bool { return n.Read }), nil
}

// CountUnread は指定ユーザー宛ての未読通知数を返す。
func (s *CassandraStore) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	unread, err := s.ListUnreadByRecipient(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	return int64(len(unread)), nil
}

// MarkAsRead は通知を既読にする。
// ID検索用テーブルの既読フラグは軽量トランザクションで更新し、遷移を報告するのは1回だけにする。
// 受信者テーブルの更新は冪等なため、既読済みの場合も毎回適用する。
func (s *CassandraStore) MarkAsRead(ctx context.Context, id string) (bool, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}

	applied := false
	if !r.Read {
		applied, err = s.session.Query(`UPDATE notifications_by_id SET is_read = true WHERE id = ? IF is_read = false`, id).
			WithContext(ctx).MapScanCAS(map[string]any{})
		if err != nil {
			return false, err
		}
	}
	if err := s.session.Query(`UPDATE notifications_by_recipient SET is_read = true
		WHERE recipient_id = ? AND seq = ?`, r.RecipientID, r.seq).
		WithContext(ctx).Exec(); err != nil {
		return applied, err
	}
	return applied, nil
}

// MarkAllAsRead は受信者の未読通知を1件ずつ既読にする。
func (s *CassandraStore) MarkAllAsRead(ctx context.Context, recipientID string) (int64, error) {
	unread, err := s.ListUnreadByRecipient(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	var updated int64
	for _, n := range unread {
		changed, err := s.MarkAsRead(ctx, n.ID)
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

// Close はセッションを閉じる。
func (s *CassandraStore) Close() error {
	s.session.Close()
	s.logger.Info("Cassandraセッションを閉じました")
	return nil
}

func scanRows(iter *gocql.Iter) ([]cassandraRow, error) {
	rows := []cassandraRow{}
	var r cassandraRow
	for iter.Scan(&r.seq, &r.ID, &r.RecipientID, &r.CreatedAt, &r.Title, &r.Message, &r.Read) {
		r.CreatedAt = r.CreatedAt.UTC()
		rows = append(rows, r)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}
