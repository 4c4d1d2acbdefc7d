package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// StreamState はストリームの状態。INIT → STREAMING → CLOSED の順にのみ遷移する。
type StreamState int32

const (
	// StreamInit は開始前の状態。
	StreamInit StreamState = iota
	// StreamStreaming は配信中の状態。
	StreamStreaming
	// StreamClosed は終了後の状態。再開はできない。
	StreamClosed
)

// String は状態名を返す。
func (s StreamState) String() string {
	switch s {
	case StreamInit:
		return "INIT"
	case StreamStreaming:
		return "STREAMING"
	case StreamClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

const (
	// eventError はポーリング失敗を知らせるイベント名。
	eventError = "error"
	// streamErrorMessage はポーリング失敗時に送るメッセージ。
	streamErrorMessage = "stream_error"
)

const (
	// DefaultHeartbeatInterval はプロキシのアイドルタイムアウトより短いkeep-alive間隔。
	DefaultHeartbeatInterval = 25 * time.Second
	// DefaultPollInterval はポーリング間隔の既定値。
	DefaultPollInterval = 3 * time.Second
)

// StreamConfig はストリームの送信間隔。
type StreamConfig struct {
	// HeartbeatInterval はkeep-aliveコメントを送る間隔。
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// PollInterval は前回の読み込み完了から次の読み込みまでの間隔。
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Sink はストリームの送信先。Closeは1回だけ呼ばれる。
type Sink interface {
	// Send は名前付きイベントを送る。nameが空の場合はdata行のみを送る。
	Send(name string, data any) error
	// Comment はコメント行を送る。
	Comment(text string) error
	// Close は送信先を閉じる。以降のSendとCommentはエラーになる。
	Close() error
}

// Lister は呼び出し元が参照できる通知を新しい順に返す。
type Lister func(ctx context.Context) ([]Notification, error)

// streamErrorPayload はポーリング失敗時に送るデータ。
type streamErrorPayload struct {
	Message string `json:"message"`
}

// Stream は1つのクライアント接続に新着通知を配信する。
//
// ハートビートとポーリングは1つのゴルーチン上のselectで多重化するため重ならない。
// ポーリングは読み込みが終わってから次回を予約する。
type Stream struct {
	actor  Actor
	list   Lister
	sink   Sink
	cfg    StreamConfig
	logger logrus.FieldLogger

	state     atomic.Int32
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// last は最後に観測した通知数。ready になるまでは未確定。
	last  int
	ready bool
}

// NewStream は新しいStreamを生成する。0以下の間隔には既定値を使う。
func NewStream(actor Actor, list Lister, sink Sink, cfg StreamConfig, logger logrus.FieldLogger) *Stream {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Stream{
		actor:  actor,
		list:   list,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// State は現在の状態を返す。
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// Run はctxがキャンセルされるかCloseが呼ばれるまで配信を続ける。
// 開始時に一度通知を読み込み、その件数を基準とする。
// 2回目以降の呼び出しや終了後の呼び出しは ErrStreamClosed を返す。
func (s *Stream) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StreamInit), int32(StreamStreaming)) {
		return ErrStreamClosed
	}
	defer s.Close()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	s.poll(ctx)

	poll := time.NewTimer(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-heartbeat.C:
			if s.closing(ctx) {
				return nil
			}
			// keep-aliveの送信失敗は無視する
			_ = s.sink.Comment("keep-alive")
		case <-poll.C:
			s.poll(ctx)
			poll.Reset(s.cfg.PollInterval)
		case <-s.wake:
			poll.Stop()
			s.poll(ctx)
			poll.Reset(s.cfg.PollInterval)
		}
	}
}

// Wake は次のポーリングを即座に行わせる。複数回の呼び出しは1回にまとめられる。
func (s *Stream) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close はストリームを終了する。何度呼んでもSinkを閉じるのは1回だけ。
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StreamClosed))
		close(s.done)
		if err := s.sink.Close(); err != nil {
			s.logger.WithError(err).Debug("ストリームのクローズに失敗しました")
		}
	})
}

// closing は終了処理が始まっているかどうかを返す。
func (s *Stream) closing(ctx context.Context) bool {
	return ctx.Err() != nil || s.State() == StreamClosed
}

// poll は通知を読み込み、前回より増えた分を作成順に送る。
// 読み込みに失敗した場合はerrorイベントを送り、ストリームは継続する。
func (s *Stream) poll(ctx context.Context) {
	if s.closing(ctx) {
		return
	}

	items, err := s.list(ctx)
	if err != nil {
		if s.closing(ctx) {
			return
		}
		s.logger.WithError(err).WithField("user_id", s.actor.UserID).Warn("通知ストリームの読み込みに失敗しました")
		_ = s.sink.Send(eventError, streamErrorPayload{Message: streamErrorMessage})
		return
	}

	total := len(items)
	if !s.ready {
		s.last, s.ready = total, true
		return
	}

	if total > s.last {
		// itemsは新しい順のため、先頭の増加分を逆順に送る
		fresh := items[:total-s.last]
		for i := len(fresh) - 1; i >= 0; i-- {
			if err := s.sink.Send("", toResponse(fresh[i])); err != nil {
				s.logger.WithError(err).Debug("通知の送信に失敗しました")
				break
			}
		}
	}
	s.last = total
}
