package notification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/servicedesk/pkg/event"
	"github.com/nao1215/servicedesk/pkg/httpclient"
)

// DefaultSubscribeInterval はEvent Storeをポーリングする既定の間隔。
const DefaultSubscribeInterval = 2 * time.Second

// SubscriberConfig はEvent Storeからチケットイベントを取り込む設定。
type SubscriberConfig struct {
	// Enabled が true でEventStoreURLが設定されている場合に取り込みを行う。
	Enabled bool `mapstructure:"enabled"`
	// Interval はポーリング間隔。
	Interval time.Duration `mapstructure:"interval"`
}

// Subscriber はEvent Storeに記録されたチケットイベントをポーリングし、通知を作成する。
// 起動時刻より前のイベントは取り込まない。
type Subscriber struct {
	client   *httpclient.Client
	service  *Service
	interval time.Duration
	logger   logrus.FieldLogger

	// since は次回のポーリングで指定する時刻。
	since time.Time
	// seen はsinceと同じ時刻に記録され、処理済みのイベントID。
	seen map[string]struct{}
}

// NewSubscriber は新しいSubscriberを生成する。
func NewSubscriber(client *httpclient.Client, service *Service, cfg SubscriberConfig, logger logrus.FieldLogger) *Subscriber {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSubscribeInterval
	}
	return &Subscriber{
		client:   client,
		service:  service,
		interval: interval,
		logger:   logger,
		since:    time.Now().UTC(),
		seen:     make(map[string]struct{}),
	}
}

// Run はctxがキャンセルされるまでポーリングを続ける。
func (s *Subscriber) Run(ctx context.Context) {
	s.logger.WithField("interval", s.interval).Info("チケットイベントの取り込みを開始します")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("チケットイベントの取り込みを停止しました")
			return
		case <-ticker.C:
			if _, err := s.poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Warn("チケットイベントの取得に失敗しました")
			}
		}
	}
}

// poll はsince以降のイベントを取得し、未処理のチケットイベントから通知を作成する。
// 作成した通知の件数を返す。保存に失敗した場合はsinceを進めずに中断し、次回のポーリングで再試行する。
func (s *Subscriber) poll(ctx context.Context) (int, error) {
	path := "/api/v1/events/since?since=" + url.QueryEscape(s.since.Format(time.RFC3339Nano))
	var events []event.Event
	if err := s.client.GetJSON(ctx, path, &events); err != nil {
		return 0, fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}

	created := 0
	for i := range events {
		ev := &events[i]
		if _, ok := s.seen[ev.ID]; ok {
			continue
		}
		if !ev.AggregateType.IsTicket() {
			s.advance(ev)
			continue
		}

		n, err := s.service.CreateFromTicketEvent(ctx, ev)
		if err != nil {
			if !errors.Is(err, ErrInvalidInput) {
				return created, fmt.Errorf("イベント %s から通知を作成できません: %w", ev.ID, err)
			}
			// 変換できないイベントは再試行しても結果が変わらない
			s.advance(ev)
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event_id":   ev.ID,
				"event_type": ev.EventType,
			}).Warn("チケットイベントを通知に変換できませんでした")
			continue
		}
		s.advance(ev)
		created++
		s.logger.WithFields(logrus.Fields{
			"event_id":        ev.ID,
			"notification_id": n.ID,
		}).Debug("チケットイベントから通知を作成しました")
	}
	return created, nil
}

// advance は処理済みイベントの時刻までsinceを進める。
// 同じ時刻のイベントは次回も返るため、IDで重複を除く。
func (s *Subscriber) advance(ev *event.Event) {
	at := ev.CreatedAt.UTC()
	if at.After(s.since) {
		s.since = at
		clear(s.seen)
	}
	s.seen[ev.ID] = struct{}{}
}
