package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Role はユーザーの権限区分を表す。
type Role string

const (
	// RoleAdmin は全ユーザーの通知を参照できる管理者権限。
	RoleAdmin Role = "admin"
	// RoleAgent はチケットを処理するサポート担当者。
	RoleAgent Role = "agent"
	// RoleUser はチケットを起票する一般ユーザー。
	RoleUser Role = "user"
	// RoleService はチケットサービス等の内部サービス。内部APIの呼び出しにのみ使用する。
	RoleService Role = "service"
)

// Valid は定義済みの権限かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleUser, RoleService:
		return true
	}
	return false
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーの権限区分。
	Role Role `json:"role"`
}

const (
	// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
	headerKeyUserID = "X-User-ID"
	// queryKeyAccessToken はEventSourceのようにヘッダーを付与できないクライアント向けのクエリパラメータ。
	queryKeyAccessToken = "access_token"

	contextKeyUserID = "user_id"
	contextKeyRole   = "role"

	tokenIssuer = "servicedesk-gateway"
	tokenTTL    = 24 * time.Hour
)

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// gatewayサービスがユーザー認証後に呼び出す。
func GenerateJWT(secret, userID, email string, role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("不正な権限です: %q", role)
	}

	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証してクレームを返す。HS256以外の署名は拒否する。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("トークンが無効です")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("不正な権限です: %q", claims.Role)
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"role" を設定する。
// Authorizationヘッダーが無いGETリクエストに限り、access_tokenクエリパラメータも受け付ける。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		SetIdentity(c, claims.UserID, claims.Role)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// extractToken はリクエストからトークン文字列を取り出す。
// 取り出せなかった場合はレスポンスを書き込んでfalseを返す。
func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if c.Request.Method == http.MethodGet {
			if token := c.Query(queryKeyAccessToken); token != "" {
				return token, true
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorizationヘッダーが必要です",
		})
		return "", false
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Bearer トークン形式が不正です",
		})
		return "", false
	}
	return tokenString, true
}

// RequireRole は指定された権限のいずれかを持たないリクエストを403で拒否するミドルウェアを返す。
// JWTAuthの後に適用する。
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, GetRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// SetIdentity は認証済みユーザーの情報をGinコンテキストに設定する。
func SetIdentity(c *gin.Context, userID string, role Role) {
	c.Set(contextKeyUserID, userID)
	c.Set(contextKeyRole, role)
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetRole はGinコンテキストから権限を取得する。未設定の場合は空文字列を返す。
func GetRole(c *gin.Context) Role {
	v, _ := c.Get(contextKeyRole)
	switch role := v.(type) {
	case Role:
		return role
	case string:
		return Role(role)
	}
	return ""
}
