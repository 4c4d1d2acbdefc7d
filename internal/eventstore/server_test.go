package eventstore

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/servicedesk/pkg/event"
	"github.com/nao1215/servicedesk/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のサーバーをインメモリSQLiteで構築する。
// 各テストケースで独立したデータベースを使用する。
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := OpenDB(t.Context(), ":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("インメモリSQLiteの接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewServer(Config{Port: "0", DatabasePath: ":memory:"}, db, logging.Discard())
}

// appendTestEvent はテスト用にイベントをPOSTする。
func appendTestEvent(t *testing.T, s *Server, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("テストデータのJSON変換に失敗: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"aggregate_id":   aggregateID,
		"aggregate_type": aggregateType,
		"event_type":     eventType,
		"data":           json.RawMessage(raw),
	})
	if err != nil {
		t.Fatalf("リクエストのJSON変換に失敗: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// getEvents はGETリクエストを送りイベント一覧をデコードする。
func getEvents(t *testing.T, s *Server, path string) []event.Event {
	t.Helper()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d; 期待値 = %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	var events []event.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
	}
	return events
}

// TestHealthCheck はヘルスチェックエンドポイントを検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
	}
	if resp["service"] != "eventstore" {
		t.Errorf("service = %q; 期待値 = %q", resp["service"], "eventstore")
	}
}

// TestHandleAppendEvent はイベント追記ハンドラの各パターンを検証する。
func TestHandleAppendEvent(t *testing.T) {
	t.Parallel()

	t.Run("正常にイベントを追記できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		data := event.NotificationSentData{UserID: "user-1", Title: "Ticket assigned", Message: "Incident #42 assigned to you"}
		w := appendTestEvent(t, s, "n-1", event.AggregateTypeNotification, event.TypeNotificationSent, data)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d; 期待値 = %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
		}
		var resp event.Event
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if resp.ID == "" {
			t.Error("id が空文字列になっている")
		}
		if resp.AggregateID != "n-1" || resp.AggregateType != event.AggregateTypeNotification {
			t.Errorf("resp = %+v", resp)
		}
		if resp.Version != 1 {
			t.Errorf("version = %d; 期待値 = 1", resp.Version)
		}
		decoded, err := event.DecodeData[event.NotificationSentData](&resp)
		if err != nil {
			t.Fatalf("dataのデコードに失敗: %v", err)
		}
		if *decoded != data {
			t.Errorf("data = %+v; 期待値 = %+v", *decoded, data)
		}
	})

	t.Run("バージョンがAggregateごとに自動インクリメントされる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		appendTestEvent(t, s, "n-1", event.AggregateTypeNotification, event.TypeNotificationSent, map[string]string{})
		appendTestEvent(t, s, "n-2", event.AggregateTypeNotification, event.TypeNotificationSent, map[string]string{})
		w := appendTestEvent(t, s, "n-1", event.AggregateTypeNotification, event.TypeNotificationRead, map[string]string{})

		var resp event.Event
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if resp.Version != 2 {
			t.Errorf("version = %d; 期待値 = 2", resp.Version)
		}
	})

	t.Run("同時に追記してもバージョンが重複しない", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		const n = 10
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				appendTestEvent(t, s, "incident-1", event.AggregateTypeIncident, event.TypeTicketCommented, map[string]string{})
			}()
		}
		wg.Wait()

		events := getEvents(t, s, "/api/v1/events/aggregate/incident-1")
		if len(events) != n {
			t.Fatalf("イベント数 = %d; 期待値 = %d", len(events), n)
		}
		for i, ev := range events {
			if ev.Version != int64(i+1) {
				t.Errorf("events[%d].version = %d; 期待値 = %d", i, ev.Version, i+1)
			}
		}
	})

	t.Run("不正なリクエストの場合は400エラーを返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		tests := []struct {
			name string
			body string
		}{
			{name: "aggregate_idなし", body: `{"aggregate_type":"Notification","event_type":"NotificationSent","data":{}}`},
			{name: "event_typeなし", body: `{"aggregate_id":"n-1","aggregate_type":"Notification","data":{}}`},
			{name: "dataなし", body: `{"aggregate_id":"n-1","aggregate_type":"Notification","event_type":"NotificationSent"}`},
			{name: "不正なJSON", body: `{invalid`},
		}
		for _, tt := range tests {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d; 期待値 = %d", tt.name, w.Code, http.StatusBadRequest)
			}
		}
	})
}

// TestHandleGetEvents は各種取得ハンドラを検証する。
func TestHandleGetEvents(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	appendTestEvent(t, s, "incident-1", event.AggregateTypeIncident, event.TypeTicketCreated, map[string]string{})
	appendTestEvent(t, s, "n-1", event.AggregateTypeNotification, event.TypeNotificationSent, map[string]string{})
	appendTestEvent(t, s, "incident-1", event.AggregateTypeIncident, event.TypeTicketAssigned, map[string]string{})

	t.Run("全イベントを記録順に取得できる", func(t *testing.T) {
		t.Parallel()

		events := getEvents(t, s, "/api/v1/events")
		if len(events) != 3 {
			t.Fatalf("イベント数 = %d; 期待値 = 3", len(events))
		}
		for i := 1; i < len(events); i++ {
			if events[i].CreatedAt.Before(events[i-1].CreatedAt) {
				t.Errorf("ソート順序が不正: %v > %v", events[i-1].CreatedAt, events[i].CreatedAt)
			}
		}
	})

	t.Run("AggregateIDに紐づくイベントをバージョン順に取得できる", func(t *testing.T) {
		t.Parallel()

		events := getEvents(t, s, "/api/v1/events/aggregate/incident-1")
		if len(events) != 2 {
			t.Fatalf("イベント数 = %d; 期待値 = 2", len(events))
		}
		if events[0].EventType != event.TypeTicketCreated || events[1].EventType != event.TypeTicketAssigned {
			t.Errorf("イベント順序が不正: %s, %s", events[0].EventType, events[1].EventType)
		}
	})

	t.Run("存在しないAggregateIDの場合は空配列を返す", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/aggregate/missing", nil))
		if w.Body.String() != "[]" {
			t.Errorf("body = %s; 期待値 = []", w.Body.String())
		}
	})

	t.Run("イベントタイプに一致するイベントを取得できる", func(t *testing.T) {
		t.Parallel()

		events := getEvents(t, s, "/api/v1/events/type/NotificationSent")
		if len(events) != 1 || events[0].AggregateID != "n-1" {
			t.Errorf("events = %+v", events)
		}
	})

	t.Run("最新バージョンを取得できる", func(t *testing.T) {
		t.Parallel()

		for _, tt := range []struct {
			aggregateID string
			want        float64
		}{
			{"incident-1", 2},
			{"missing", 0},
		} {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/aggregate/"+tt.aggregateID+"/version", nil))
			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
			}
			if resp["version"] != tt.want {
				t.Errorf("%s: version = %v; 期待値 = %v", tt.aggregateID, resp["version"], tt.want)
			}
		}
	})
}

// TestHandleGetEventsSince は日時指定によるイベント取得を検証する。
func TestHandleGetEventsSince(t *testing.T) {
	t.Parallel()

	t.Run("指定日時以降のイベントのみ取得できる", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		current := base
		s.now = func() time.Time { return current }

		appendTestEvent(t, s, "n-old", event.AggregateTypeNotification, event.TypeNotificationSent, map[string]string{})
		current = base.Add(time.Hour)
		appendTestEvent(t, s, "n-new", event.AggregateTypeNotification, event.TypeNotificationSent, map[string]string{})

		since := url.QueryEscape(base.Add(30 * time.Minute).Format(time.RFC3339))
		events := getEvents(t, s, "/api/v1/events/since?since="+since)
		if len(events) != 1 || events[0].AggregateID != "n-new" {
			t.Errorf("events = %+v", events)
		}
	})

	t.Run("sinceが欠けているか不正な場合は400エラーを返す", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		for _, path := range []string{
			"/api/v1/events/since",
			"/api/v1/events/since?since=yesterday",
			"/api/v1/events/since?since=2026-01-01",
		} {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d; 期待値 = %d", path, w.Code, http.StatusBadRequest)
			}
		}
	})
}
