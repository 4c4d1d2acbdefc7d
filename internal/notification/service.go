package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/servicedesk/pkg/event"
)

// Service は通知の作成・取得・既読管理を行う。
type Service struct {
	store     Store
	hub       *Hub
	publisher Publisher
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewService は新しいServiceを生成する。publisherがnilの場合はイベントを記録しない。
func NewService(store Store, hub *Hub, publisher Publisher, logger logrus.FieldLogger) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{
		store:     store,
		hub:       hub,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create は未読の通知を1件作成する。
// 保存後、宛先ユーザーと管理者の開いているストリームを起こし、NotificationSentイベントを記録する。
func (s *Service) Create(ctx context.Context, recipientID, title, message string) (Notification, error) {
	recipientID = strings.TrimSpace(recipientID)
	switch {
	case recipientID == "":
		return Notification{}, fmt.Errorf("%w: 通知先が指定されていません", ErrInvalidInput)
	case strings.TrimSpace(title) == "":
		return Notification{}, fmt.Errorf("%w: タイトルが空です", ErrInvalidInput)
	case strings.TrimSpace(message) == "":
		return Notification{}, fmt.Errorf("%w: メッセージが空です", ErrInvalidInput)
	}

	n := Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}

	s.hub.Notify(recipientID)
	s.publish(ctx, n.ID, event.TypeNotificationSent, 1, event.NotificationSentData{
		UserID:  n.RecipientID,
		Title:   n.Title,
		Message: n.Message,
	})
	return n, nil
}

// CreateFromTicketEvent はチケットイベントを通知に変換して作成する。
func (s *Service) CreateFromTicketEvent(ctx context.Context, ev *event.Event) (Notification, error) {
	recipientID, title, message, err := ticketMessage(ev)
	if err != nil {
		return Notification{}, err
	}
	return s.Create(ctx, recipientID, title, message)
}

// List は呼び出し元が参照できる通知を新しい順に返す。
// 管理者は全ユーザーの通知を、それ以外は自分宛ての通知のみを参照できる。
func (s *Service) List(ctx context.Context, actor Actor) ([]Notification, error) {
	if actor.UserID == "" {
		return nil, ErrUnauthorized
	}
	if actor.IsAdmin() {
		return s.store.ListAll(ctx)
	}
	return s.store.ListByRecipient(ctx, actor.UserID)
}

// ListUnread は呼び出し元宛ての未読通知を新しい順に返す。管理者でも自分宛てのみ。
func (s *Service) ListUnread(ctx context.Context, actor Actor) ([]Notification, error) {
	if actor.UserID == "" {
		return nil, ErrUnauthorized
	}
	return s.store.ListUnreadByRecipient(ctx, actor.UserID)
}

// UnreadCount は呼び出し元宛ての未読通知数を返す。
func (s *Service) UnreadCount(ctx context.Context, actor Actor) (int64, error) {
	if actor.UserID == "" {
		return 0, ErrUnauthorized
	}
	return s.store.CountUnread(ctx, actor.UserID)
}

// MarkAsRead は通知を既読にして更新後の通知を返す。既読済みの場合も成功する。
// 管理者以外は自分宛ての通知のみ操作できる。
func (s *Service) MarkAsRead(ctx context.Context, actor Actor, id string) (Notification, error) {
	if actor.UserID == "" {
		return Notification{}, ErrUnauthorized
	}

	n, err := s.store.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if !actor.canSee(n) {
		return Notification{}, ErrForbidden
	}
	// 既読済みでもストアに渡し、テーブル間の不整合があれば揃えさせる
	changed, err := s.store.MarkAsRead(ctx, id)
	if err != nil {
		return Notification{}, fmt.Errorf("既読処理に失敗: %w", err)
	}
	n.Read = true
	if changed {
		s.publish(ctx, n.ID, event.TypeNotificationRead, 2, event.NotificationReadData{
			UserID: n.RecipientID,
			ReadBy: actor.UserID,
		})
	}
	return n, nil
}

// MarkAllAsRead は呼び出し元宛ての未読通知をすべて既読にし、変更した件数を返す。
func (s *Service) MarkAllAsRead(ctx context.Context, actor Actor) (int64, error) {
	if actor.UserID == "" {
		return 0, ErrUnauthorized
	}
	updated, err := s.store.MarkAllAsRead(ctx, actor.UserID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return updated, nil
}

// publish はイベントを記録する。失敗してもログに残すだけで呼び出し元には返さない。
func (s *Service) publish(ctx context.Context, notificationID string, typ event.Type, version int64, data any) {
	aggregateID := "notification-" + notificationID
	ev, err := event.New(aggregateID, event.AggregateTypeNotification, typ, version, data)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"notification_id": notificationID,
			"event_type":      typ,
		}).Warn("イベントの記録に失敗しました")
	}
}
