package notification

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"
)

// sseSink はServer-Sent Events形式でHTTPレスポンスへ書き込むSink。
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

var _ Sink = (*sseSink)(nil)

// newSSESink はSinkを生成する。openを呼ぶまでレスポンスには何も書き込まない。
func newSSESink(w http.ResponseWriter) *sseSink {
	s := &sseSink{w: w}
	s.flusher, _ = w.(http.Flusher)
	return s
}

// open はイベントストリームのヘッダーを書き込む。閉じられた後は ErrStreamClosed を返す。
func (s *sseSink) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// nginx等のリバースプロキシにバッファリングさせない
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flush()
	return nil
}

// Send はイベントを1件書き込む。dataはJSONにエンコードされる。
func (s *sseSink) Send(name string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if err := sse.Encode(s.w, sse.Event{Event: name, Data: data}); err != nil {
		return fmt.Errorf("イベントの書き込みに失敗: %w", err)
	}
	s.flush()
	return nil
}

// Comment はコメント行を書き込む。
func (s *sseSink) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("コメントの書き込みに失敗: %w", err)
	}
	s.flush()
	return nil
}

// Close は以降の書き込みを止める。レスポンス自体はハンドラの終了時に閉じられる。
func (s *sseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sseSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
