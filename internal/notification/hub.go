package notification

import "sync"

// Hub は開いているストリームを管理し、通知の作成を該当するストリームへ知らせる。
// 通知の内容は運ばない。起こされたストリームは通常のポーリングと同じ手順で差分を読む。
type Hub struct {
	mu      sync.Mutex
	streams map[*Stream]struct{}
	closed  bool
}

// NewHub は新しいHubを生成する。
func NewHub() *Hub {
	return &Hub{streams: make(map[*Stream]struct{})}
}

// Register はストリームを登録する。CloseAll後は登録せずfalseを返す。
func (h *Hub) Register(s *Stream) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.streams[s] = struct{}{}
	return true
}

// Unregister はストリームの登録を解除する。
func (h *Hub) Unregister(s *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, s)
}

// Notify は宛先ユーザーのストリームと管理者のストリームを起こす。
func (h *Hub) Notify(recipientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.streams {
		if s.actor.IsAdmin() || s.actor.UserID == recipientID {
			s.Wake()
		}
	}
}

// Len は登録中のストリーム数を返す。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// CloseAll はすべてのストリームを終了し、以降の登録を拒否する。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	streams := make([]*Stream, 0, len(h.streams))
	for s := range h.streams {
		streams = append(streams, s)
	}
	h.closed = true
	h.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
}
