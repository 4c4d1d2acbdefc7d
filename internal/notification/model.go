package notification

import (
	"errors"
	"time"

	"github.com/nao1215/servicedesk/pkg/middleware"
)

var (
	// ErrUnauthorized は呼び出し元のユーザーIDが取得できない場合のエラー。
	ErrUnauthorized = errors.New("認証されていません")
	// ErrInvalidInput は通知の作成に必要な項目が欠けている場合のエラー。
	ErrInvalidInput = errors.New("入力が不正です")
	// ErrNotFound は指定された通知が存在しない場合のエラー。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他ユーザーの通知を操作しようとした場合のエラー。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
	// ErrStreamClosed は終了済みのストリームを再度開始しようとした場合のエラー。
	ErrStreamClosed = errors.New("ストリームは終了しています")
)

// Notification は1件の通知を表す。
// Read は false から true へのみ変化する。
type Notification struct {
	ID          string
	RecipientID string
	Title       string
	Message     string
	Read        bool
	CreatedAt   time.Time
}

// Actor は操作を行う認証済みユーザーを表す。
type Actor struct {
	UserID string
	Role   middleware.Role
}

// IsAdmin は全ユーザーの通知を参照できる権限を持つかどうかを返す。
func (a Actor) IsAdmin() bool {
	return a.Role == middleware.RoleAdmin
}

// canSee は通知がこのユーザーに見えるかどうかを返す。
func (a Actor) canSee(n Notification) bool {
	return a.IsAdmin() || n.RecipientID == a.UserID
}

// notificationResponse は通知のJSONレスポンス構造。RESTとストリームで共通。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

func toResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.RecipientID,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.Read,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toResponse(n))
	}
	return responses
}
