// Package event はサービス間でやり取りするドメインイベントの型を定義する。
//
// チケット（インシデント・変更・サービス要求）を更新するサービスは
// これらのイベントを通知サービスへ送信し、通知サービスは通知の作成や
// 既読化をイベントとしてイベントストアへ記録する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeIncident はインシデントチケットを表す。
	AggregateTypeIncident AggregateType = "Incident"
	// AggregateTypeChange は変更チケットを表す。
	AggregateTypeChange AggregateType = "Change"
	// AggregateTypeRequest はサービス要求チケットを表す。
	AggregateTypeRequest AggregateType = "Request"
	// AggregateTypeNotification は通知を表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// IsTicket はチケット系のエンティティかどうかを返す。
func (a AggregateType) IsTicket() bool {
	switch a {
	case AggregateTypeIncident, AggregateTypeChange, AggregateTypeRequest:
		return true
	}
	return false
}

// Type はイベントの種類を表す。
type Type string

const (
	// TypeTicketCreated はチケットが起票されたことを表す。
	TypeTicketCreated Type = "TicketCreated"
	// TypeTicketAssigned はチケットの担当者が割り当てられたことを表す。
	TypeTicketAssigned Type = "TicketAssigned"
	// TypeTicketCommented はチケットにコメントが追加されたことを表す。
	TypeTicketCommented Type = "TicketCommented"
	// TypeTicketStatusChanged はチケットのステータスが変更されたことを表す。
	TypeTicketStatusChanged Type = "TicketStatusChanged"

	// TypeNotificationSent は通知が作成されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
	// TypeNotificationRead は通知が既読になったことを表す。
	TypeNotificationRead Type = "NotificationRead"
)

// Event はサービス間で送受信される不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// TicketEventData はチケット系イベントのデータ。
// どのフィールドが意味を持つかはイベントの種類によって異なる。
type TicketEventData struct {
	// TicketNumber は画面に表示されるチケット番号。
	TicketNumber int64 `json:"ticket_number"`
	// Title はチケットの件名。
	Title string `json:"title"`
	// RecipientID は通知先のユーザーID。
	RecipientID string `json:"recipient_id"`
	// ActorID は操作を行ったユーザーのID。
	ActorID string `json:"actor_id,omitempty"`
	// ActorName は操作を行ったユーザーの表示名。
	ActorName string `json:"actor_name,omitempty"`
	// Status は変更後のステータス（TicketStatusChangedのみ）。
	Status string `json:"status,omitempty"`
	// Comment はコメント本文（TicketCommentedのみ）。
	Comment string `json:"comment,omitempty"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
}

// NotificationReadData はNotificationReadイベントのデータ。
type NotificationReadData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// ReadBy は既読にしたユーザーのID。管理者が代理で既読にした場合は通知先と異なる。
	ReadBy string `json:"read_by"`
}
