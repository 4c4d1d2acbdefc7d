package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/nao1215/servicedesk/pkg/event"
	"github.com/nao1215/servicedesk/pkg/httpclient"
)

// DefaultEventStoreTimeout はEvent Storeへの1リクエストの既定タイムアウト。
// 記録は通知の作成と同期して行うため短くする。
const DefaultEventStoreTimeout = 3 * time.Second

// NewEventStoreClient はEvent Store用のクライアントを生成する。0以下のtimeoutには既定値を使う。
func NewEventStoreClient(baseURL string, timeout time.Duration) *httpclient.Client {
	if timeout <= 0 {
		timeout = DefaultEventStoreTimeout
	}
	return httpclient.New(baseURL, httpclient.WithTimeout(timeout))
}

// Publisher は通知に関するイベントを外部へ記録する。
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// appendEventRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType event.AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType event.Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
}

// EventStorePublisher はEvent StoreサービスのHTTP APIへイベントを追記する。
// 連続して失敗した場合はサーキットブレーカーが開き、一定時間送信を止める。
type EventStorePublisher struct {
	client  *httpclient.Client
	breaker *gobreaker.CircuitBreaker
}

// NewEventStorePublisher は新しいEventStorePublisherを生成する。
func NewEventStorePublisher(client *httpclient.Client, logger logrus.FieldLogger) *EventStorePublisher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventstore",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		IsSuccessful: eventStoreHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("サーキットブレーカーの状態が変化しました")
		},
	})
	return &EventStorePublisher{client: client, breaker: breaker}
}

// Publish はイベントをEvent Storeへ送信する。
func (p *EventStorePublisher) Publish(ctx context.Context, ev *event.Event) error {
	req := appendEventRequest{
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		EventType:     ev.EventType,
		Data:          ev.Data,
	}
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.client.PostJSON(ctx, "/api/v1/events", req, nil)
	})
	return err
}

// eventStoreHealthy はEvent Storeが応答できているかどうかを返す。
// 400はイベント自体の不備のため、ブレーカーの失敗には数えない。
func eventStoreHealthy(err error) bool {
	return err == nil || httpclient.IsStatus(err, http.StatusBadRequest)
}

// nopPublisher はEvent Storeが設定されていない場合に使用する。
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *event.Event) error { return nil }
