package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newAuthRouter はJWTAuthを適用し、コンテキストの認証情報をJSONで返すルーターを生成する。
func newAuthRouter(secret string, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(secret))
	handlers := append(extra, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c),
			"role":    string(GetRole(c)),
		})
	})
	router.GET("/test", handlers...)
	router.POST("/test", handlers...)
	return router
}

// decodeBody はレスポンスボディを文字列マップにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v, body=%s", err, w.Body.String())
	}
	return body
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("ユーザー情報と権限を含むトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com", RoleAgent)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := ParseJWT(testSecret, tokenStr)
		if err != nil {
			t.Fatalf("ParseJWT()でエラーが発生: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Email != "test@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "test@example.com")
		}
		if claims.Role != RoleAgent {
			t.Errorf("Role = %q, want %q", claims.Role, RoleAgent)
		}
		if claims.Issuer != tokenIssuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, tokenIssuer)
		}
		if claims.Subject != "user-123" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "user-123")
		}
	})

	t.Run("トークンの有効期限が24時間後であること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "user-exp", "exp@example.com", RoleUser)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := ParseJWT(testSecret, tokenStr)
		if err != nil {
			t.Fatalf("ParseJWT()でエラーが発生: %v", err)
		}

		expected := before.Add(24 * time.Hour)
		if diff := claims.ExpiresAt.Time.Sub(expected); diff < -time.Minute || diff > time.Minute {
			t.Errorf("ExpiresAt = %v, want about %v", claims.ExpiresAt.Time, expected)
		}
	})

	t.Run("署名アルゴリズムがHS256であること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-alg", "alg@example.com", RoleUser)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		token, _, err := new(jwt.Parser).ParseUnverified(tokenStr, &JWTClaims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if token.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", token.Method.Alg(), "HS256")
		}
	})

	t.Run("未定義の権限ではトークンを生成できないこと", func(t *testing.T) {
		t.Parallel()

		if _, err := GenerateJWT(testSecret, "user-bad", "bad@example.com", Role("root")); err == nil {
			t.Fatal("未定義の権限でエラーが返るべき")
		}
	})
}

// TestParseJWT はParseJWT関数の拒否条件を検証する。
func TestParseJWT(t *testing.T) {
	t.Parallel()

	sign := func(t *testing.T, method jwt.SigningMethod, claims JWTClaims) string {
		t.Helper()
		token := jwt.NewWithClaims(method, claims)
		s, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}
		return s
	}
	validClaims := func() JWTClaims {
		return JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    tokenIssuer,
			},
			UserID: "user-1",
			Role:   RoleUser,
		}
	}

	t.Run("異なるシークレットでは検証に失敗すること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT("different-secret", "user-diff", "diff@example.com", RoleUser)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		if _, err := ParseJWT(testSecret, tokenStr); err == nil {
			t.Fatal("異なるシークレットでの検証がエラーを返すべき")
		}
	})

	t.Run("期限切れトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		if _, err := ParseJWT(testSecret, sign(t, jwt.SigningMethodHS256, claims)); err == nil {
			t.Fatal("期限切れトークンでエラーが返るべき")
		}
	})

	t.Run("HS256以外の署名アルゴリズムは拒否されること", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseJWT(testSecret, sign(t, jwt.SigningMethodHS512, validClaims())); err == nil {
			t.Fatal("HS512のトークンでエラーが返るべき")
		}
	})

	t.Run("発行者が異なるトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims.Issuer = "someone-else"
		if _, err := ParseJWT(testSecret, sign(t, jwt.SigningMethodHS256, claims)); err == nil {
			t.Fatal("発行者が異なるトークンでエラーが返るべき")
		}
	})

	t.Run("権限が未定義のトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims.Role = "root"
		if _, err := ParseJWT(testSecret, sign(t, jwt.SigningMethodHS256, claims)); err == nil {
			t.Fatal("未定義の権限でエラーが返るべき")
		}
	})

	t.Run("ユーザーIDが空のトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims.UserID = ""
		if _, err := ParseJWT(testSecret, sign(t, jwt.SigningMethodHS256, claims)); err == nil {
			t.Fatal("ユーザーIDが空のトークンでエラーが返るべき")
		}
	})
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでコンテキストに認証情報が設定されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-ok", "ok@example.com", RoleAdmin)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newAuthRouter(testSecret).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		if body["user_id"] != "user-ok" {
			t.Errorf("user_id = %q, want %q", body["user_id"], "user-ok")
		}
		if body["role"] != "admin" {
			t.Errorf("role = %q, want %q", body["role"], "admin")
		}
		if got := w.Header().Get("X-User-ID"); got != "user-ok" {
			t.Errorf("X-User-ID = %q, want %q", got, "user-ok")
		}
	})

	t.Run("GETリクエストではaccess_tokenクエリパラメータを受け付けること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-sse", "sse@example.com", RoleUser)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/test?access_token="+tokenStr, nil)
		w := httptest.NewRecorder()
		newAuthRouter(testSecret).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if body := decodeBody(t, w); body["user_id"] != "user-sse" {
			t.Errorf("user_id = %q, want %q", body["user_id"], "user-sse")
		}
	})

	t.Run("POSTリクエストではaccess_tokenクエリパラメータを受け付けないこと", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-post", "post@example.com", RoleUser)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodPost, "/test?access_token="+tokenStr, nil)
		w := httptest.NewRecorder()
		newAuthRouter(testSecret).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	tests := []struct {
		name      string
		header    string
		wantError string
	}{
		{
			name:      "Authorizationヘッダーが無い場合401が返ること",
			header:    "",
			wantError: "Authorizationヘッダーが必要です",
		},
		{
			name:      "Bearer接頭辞が無い場合401が返ること",
			header:    "Token abc",
			wantError: "Bearer トークン形式が不正です",
		},
		{
			name:      "無効なトークンで401が返ること",
			header:    "Bearer invalid-token-string",
			wantError: "トークンが無効です",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newAuthRouter(testSecret).ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if body := decodeBody(t, w); body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

// TestRequireRole はRequireRoleミドルウェアを検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	t.Run("許可された権限ではハンドラが実行されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "svc-ticket", "ticket@internal", RoleService)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newAuthRouter(testSecret, RequireRole(RoleAdmin, RoleService)).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("許可されていない権限では403が返ること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-1", "user@example.com", RoleUser)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newAuthRouter(testSecret, RequireRole(RoleAdmin, RoleService)).ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestGetRole はGetRole関数を検証する。
func TestGetRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  Role
	}{
		{name: "Role型の値を取得できること", value: RoleAdmin, want: RoleAdmin},
		{name: "文字列の値をRoleとして取得できること", value: "agent", want: RoleAgent},
		{name: "未対応の型では空文字列が返ること", value: 42, want: ""},
		{name: "未設定の場合は空文字列が返ること", value: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			if tt.value != nil {
				c.Set("role", tt.value)
			}
			if got := GetRole(c); got != tt.want {
				t.Errorf("GetRole() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestRoleValid はRole.Validを検証する。
func TestRoleValid(t *testing.T) {
	t.Parallel()

	for _, r := range []Role{RoleAdmin, RoleAgent, RoleUser, RoleService} {
		if !r.Valid() {
			t.Errorf("%q.Valid() = false, want true", r)
		}
	}
	for _, r := range []Role{"", "root", "Admin"} {
		if r.Valid() {
			t.Errorf("%q.Valid() = true, want false", r)
		}
	}
}
