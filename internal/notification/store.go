package notification

import "context"

// Store は通知の永続化を担う。
// 一覧はすべて作成日時の新しい順（同時刻は後から作成した順）で返す。
type Store interface {
	// Create は通知を1件保存する。
	Create(ctx context.Context, n Notification) error
	// Get はIDで通知を取得する。存在しない場合は ErrNotFound を返す。
	Get(ctx context.Context, id string) (Notification, error)
	// ListByRecipient は指定ユーザー宛ての通知を返す。
	ListByRecipient(ctx context.Context, recipientID string) ([]Notification, error)
	// ListAll は全ユーザーの通知を返す。
	ListAll(ctx context.Context) ([]Notification, error)
	// ListUnreadByRecipient は指定ユーザー宛ての未読通知を返す。
	ListUnreadByRecipient(ctx context.Context, recipientID string) ([]Notification, error)
	// CountUnread は指定ユーザー宛ての未読通知数を返す。
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	// MarkAsRead は通知を既読にする。未読から既読に変わった場合にtrueを返す。
	MarkAsRead(ctx context.Context, id string) (bool, error)
	// MarkAllAsRead は指定ユーザーの未読通知をすべて既読にし、変更した件数を返す。
	MarkAllAsRead(ctx context.Context, recipientID string) (int64, error)
	// Close は接続を解放する。
	Close() error
}
